package rewards

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/halolabs/reflector/pkg/sol"
	reflectortesting "github.com/halolabs/reflector/utils/pkg/testing"
)

type mockWithdrawer struct {
	withdrawFunc func(ctx context.Context, accounts []solana.PublicKey) (solana.Signature, error)
	batches      [][]solana.PublicKey
}

func (m *mockWithdrawer) WithdrawWithheld(ctx context.Context, accounts []solana.PublicKey) (solana.Signature, error) {
	m.batches = append(m.batches, accounts)
	if m.withdrawFunc != nil {
		return m.withdrawFunc(ctx, accounts)
	}
	return solana.Signature{}, nil
}

func withheldAccounts(t *testing.T, amounts ...uint64) []sol.TokenHolder {
	t.Helper()
	accounts := make([]sol.TokenHolder, 0, len(amounts))
	for _, a := range amounts {
		accounts = append(accounts, sol.TokenHolder{
			Owner:        testWallet(t),
			TokenAccount: testWallet(t),
			Amount:       100,
			Withheld:     a,
		})
	}
	return accounts
}

func TestReflector_Rewards_Collector_SkipsZeroWithheld(t *testing.T) {
	t.Parallel()

	withdrawer := &mockWithdrawer{}
	collector, err := NewCollector(CollectorConfig{
		Logger: reflectortesting.NewLogger(),
		RPC: &mockSnapshotRPC{
			getTokenHoldersFunc: func(context.Context, solana.PublicKey, solana.PublicKey) ([]sol.TokenHolder, error) {
				return withheldAccounts(t, 0, 0, 0), nil
			},
		},
		Withdrawer: withdrawer,
		Mint:       testWallet(t),
	})
	require.NoError(t, err)

	collected, err := collector.Collect(context.Background())
	require.NoError(t, err)
	require.Zero(t, collected)
	require.Empty(t, withdrawer.batches)
}

func TestReflector_Rewards_Collector_BatchesWithdrawals(t *testing.T) {
	t.Parallel()

	amounts := make([]uint64, 45)
	var want uint64
	for i := range amounts {
		amounts[i] = uint64(i + 1)
		want += uint64(i + 1)
	}

	withdrawer := &mockWithdrawer{}
	collector, err := NewCollector(CollectorConfig{
		Logger: reflectortesting.NewLogger(),
		RPC: &mockSnapshotRPC{
			getTokenHoldersFunc: func(context.Context, solana.PublicKey, solana.PublicKey) ([]sol.TokenHolder, error) {
				return withheldAccounts(t, amounts...), nil
			},
		},
		Withdrawer:  withdrawer,
		Mint:        testWallet(t),
		MaxAccounts: 20,
	})
	require.NoError(t, err)

	collected, err := collector.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, collected)
	require.Len(t, withdrawer.batches, 3)
	require.Len(t, withdrawer.batches[0], 20)
	require.Len(t, withdrawer.batches[1], 20)
	require.Len(t, withdrawer.batches[2], 5)
}

func TestReflector_Rewards_Collector_ReturnsPartialOnFailure(t *testing.T) {
	t.Parallel()

	calls := 0
	withdrawer := &mockWithdrawer{
		withdrawFunc: func(context.Context, []solana.PublicKey) (solana.Signature, error) {
			calls++
			if calls == 2 {
				return solana.Signature{}, errors.New("tx failed")
			}
			return solana.Signature{}, nil
		},
	}
	collector, err := NewCollector(CollectorConfig{
		Logger: reflectortesting.NewLogger(),
		RPC: &mockSnapshotRPC{
			getTokenHoldersFunc: func(context.Context, solana.PublicKey, solana.PublicKey) ([]sol.TokenHolder, error) {
				return withheldAccounts(t, 10, 20, 30, 40), nil
			},
		},
		Withdrawer:  withdrawer,
		Mint:        testWallet(t),
		MaxAccounts: 2,
	})
	require.NoError(t, err)

	collected, err := collector.Collect(context.Background())
	require.Error(t, err)
	// First batch (10+20) confirmed before the second failed.
	require.Equal(t, uint64(30), collected)
}
