package indexer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/halolabs/reflector/utils/pkg/retry"
	reflectortesting "github.com/halolabs/reflector/utils/pkg/testing"
)

type mockLedgerRPC struct {
	getSignaturesPageFunc func(ctx context.Context, address solana.PublicKey, before solana.Signature, limit int) ([]*solanarpc.TransactionSignature, error)
	getTransactionFunc    func(ctx context.Context, sig solana.Signature) (*solanarpc.GetTransactionResult, error)
	transactionCalls      int
}

func (m *mockLedgerRPC) GetSignaturesPage(ctx context.Context, address solana.PublicKey, before solana.Signature, limit int) ([]*solanarpc.TransactionSignature, error) {
	if m.getSignaturesPageFunc != nil {
		return m.getSignaturesPageFunc(ctx, address, before, limit)
	}
	return nil, nil
}

func (m *mockLedgerRPC) GetTransaction(ctx context.Context, sig solana.Signature) (*solanarpc.GetTransactionResult, error) {
	m.transactionCalls++
	if m.getTransactionFunc != nil {
		return m.getTransactionFunc(ctx, sig)
	}
	return nil, errors.New("unexpected transaction lookup")
}

type fakeStore struct {
	cursors map[string]Cursor
	events  map[string]RewardEvent
	commits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cursors: make(map[string]Cursor),
		events:  make(map[string]RewardEvent),
	}
}

func (s *fakeStore) GetCursor(_ context.Context, sourceWallet string) (*Cursor, error) {
	c, ok := s.cursors[sourceWallet]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *fakeStore) UpsertCursor(_ context.Context, c Cursor) error {
	s.cursors[c.SourceWallet] = c
	return nil
}

func (s *fakeStore) CommitTransaction(_ context.Context, events []RewardEvent) (int, error) {
	s.commits++
	inserted := 0
	for _, ev := range events {
		key := ev.Signature + "/" + ev.Wallet + "/" + ev.TokenMint
		if _, ok := s.events[key]; ok {
			continue
		}
		s.events[key] = ev
		inserted++
	}
	return inserted, nil
}

func testSig(n byte) solana.Signature {
	var s solana.Signature
	s[0] = n
	s[1] = 0x7f
	return s
}

// nativePayoutResult builds a resolved transaction in which the source
// wallet sends lamports to dest.
func nativePayoutResult(t *testing.T, slot uint64, source, dest solana.PublicKey, lamports uint64) *solanarpc.GetTransactionResult {
	t.Helper()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{source, dest, solana.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: solana.Base58{2, 0, 0, 0}},
			},
		},
	}
	bin, err := tx.MarshalBinary()
	require.NoError(t, err)

	var env solanarpc.TransactionResultEnvelope
	payload := fmt.Sprintf(`["%s","base64"]`, base64.StdEncoding.EncodeToString(bin))
	require.NoError(t, json.Unmarshal([]byte(payload), &env))

	blockTime := solana.UnixTimeSeconds(time.Now().Unix())
	return &solanarpc.GetTransactionResult{
		Slot:        slot,
		BlockTime:   &blockTime,
		Transaction: &env,
		Meta: &solanarpc.TransactionMeta{
			PreBalances:  []uint64{1_000_000_000, 0, 1},
			PostBalances: []uint64{1_000_000_000 - lamports - 5000, lamports, 1},
		},
	}
}

func quickRetry() retry.Config {
	return retry.Config{
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		Strategy:    retry.Linear,
	}
}

func testView(t *testing.T, rpc LedgerRPC, store EventStore, source solana.PublicKey) *View {
	t.Helper()
	view, err := NewView(ViewConfig{
		Logger:          reflectortesting.NewLogger(),
		Clock:           clockwork.NewFakeClock(),
		RPC:             rpc,
		Store:           store,
		SourceWallet:    source,
		RefreshInterval: time.Minute,
		Retry:           quickRetry(),
	})
	require.NoError(t, err)
	return view
}

func TestReflector_Indexer_View_RunOnce_CommitsAndAdvancesCursor(t *testing.T) {
	t.Parallel()

	source := curveWallet()
	destA := curveWallet()
	destB := curveWallet()
	sig1, sig2 := testSig(1), testSig(2)

	rpc := &mockLedgerRPC{
		getSignaturesPageFunc: func(_ context.Context, _ solana.PublicKey, before solana.Signature, _ int) ([]*solanarpc.TransactionSignature, error) {
			if !before.IsZero() {
				return nil, nil
			}
			// Newest first, as the RPC returns them.
			return []*solanarpc.TransactionSignature{
				{Signature: sig2, Slot: 20},
				{Signature: sig1, Slot: 10},
			}, nil
		},
		getTransactionFunc: func(_ context.Context, sig solana.Signature) (*solanarpc.GetTransactionResult, error) {
			switch sig {
			case sig1:
				return nativePayoutResult(t, 10, source, destA, 100_000_000), nil
			case sig2:
				return nativePayoutResult(t, 20, source, destB, 200_000_000), nil
			}
			return nil, fmt.Errorf("unknown signature %s", sig)
		},
	}

	store := newFakeStore()
	view := testView(t, rpc, store, source)

	require.NoError(t, view.RunOnce(context.Background()))
	require.Len(t, store.events, 2)

	cursor := store.cursors[source.String()]
	require.Equal(t, sig2.String(), cursor.LastSignature)
	require.Equal(t, uint64(20), cursor.LastSlot)
	require.True(t, view.Ready())
}

func TestReflector_Indexer_View_RunOnce_StopsAtStoredCursor(t *testing.T) {
	t.Parallel()

	source := curveWallet()
	dest := curveWallet()
	sig1, sig2 := testSig(1), testSig(2)

	rpc := &mockLedgerRPC{
		getSignaturesPageFunc: func(_ context.Context, _ solana.PublicKey, before solana.Signature, _ int) ([]*solanarpc.TransactionSignature, error) {
			if !before.IsZero() {
				return nil, nil
			}
			return []*solanarpc.TransactionSignature{
				{Signature: sig2, Slot: 20},
				{Signature: sig1, Slot: 10},
			}, nil
		},
		getTransactionFunc: func(_ context.Context, sig solana.Signature) (*solanarpc.GetTransactionResult, error) {
			require.Equal(t, sig2, sig, "only the new transaction should be resolved")
			return nativePayoutResult(t, 20, source, dest, 200_000_000), nil
		},
	}

	store := newFakeStore()
	store.cursors[source.String()] = Cursor{
		SourceWallet:  source.String(),
		LastSignature: sig1.String(),
		LastSlot:      10,
	}
	view := testView(t, rpc, store, source)

	require.NoError(t, view.RunOnce(context.Background()))
	require.Equal(t, 1, rpc.transactionCalls)
	require.Equal(t, sig2.String(), store.cursors[source.String()].LastSignature)
}

func TestReflector_Indexer_View_RunOnce_SkipsFailedTransactions(t *testing.T) {
	t.Parallel()

	source := curveWallet()
	sig1 := testSig(1)

	rpc := &mockLedgerRPC{
		getSignaturesPageFunc: func(_ context.Context, _ solana.PublicKey, before solana.Signature, _ int) ([]*solanarpc.TransactionSignature, error) {
			if !before.IsZero() {
				return nil, nil
			}
			return []*solanarpc.TransactionSignature{
				{Signature: sig1, Slot: 10, Err: map[string]any{"InstructionError": []any{}}},
			}, nil
		},
	}

	store := newFakeStore()
	view := testView(t, rpc, store, source)

	require.NoError(t, view.RunOnce(context.Background()))
	require.Zero(t, rpc.transactionCalls)
	require.Empty(t, store.events)
	// The failed signature still advances the cursor past itself.
	require.Equal(t, sig1.String(), store.cursors[source.String()].LastSignature)
}

func TestReflector_Indexer_View_RunOnce_ErrorLeavesCursorUntouched(t *testing.T) {
	t.Parallel()

	source := curveWallet()
	sig1 := testSig(1)

	rpc := &mockLedgerRPC{
		getSignaturesPageFunc: func(_ context.Context, _ solana.PublicKey, before solana.Signature, _ int) ([]*solanarpc.TransactionSignature, error) {
			if !before.IsZero() {
				return nil, nil
			}
			return []*solanarpc.TransactionSignature{{Signature: sig1, Slot: 10}}, nil
		},
		getTransactionFunc: func(context.Context, solana.Signature) (*solanarpc.GetTransactionResult, error) {
			return nil, errors.New("boom")
		},
	}

	store := newFakeStore()
	view := testView(t, rpc, store, source)

	require.Error(t, view.RunOnce(context.Background()))
	require.Empty(t, store.cursors)
	require.False(t, view.Ready())
}

func TestReflector_Indexer_View_ReadyAfterEmptyRun(t *testing.T) {
	t.Parallel()

	source := curveWallet()
	store := newFakeStore()
	view := testView(t, &mockLedgerRPC{}, store, source)

	require.False(t, view.Ready())
	require.NoError(t, view.RunOnce(context.Background()))
	require.True(t, view.Ready())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, view.WaitReady(ctx))
}
