package jackpot

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/halolabs/reflector/pkg/rewards"
	reflectortesting "github.com/halolabs/reflector/utils/pkg/testing"
)

type mockHolderLister struct {
	holders []string
	err     error
}

func (m *mockHolderLister) ListEligibleHolders(context.Context) ([]string, error) {
	return m.holders, m.err
}

type mockPrizeBalance struct {
	balance uint64
	err     error
}

func (m *mockPrizeBalance) Balance(context.Context) (uint64, error) {
	return m.balance, m.err
}

type mockPayer struct {
	payFunc func(ctx context.Context, dest solana.PublicKey, amount uint64) (solana.Signature, error)
	paid    map[solana.PublicKey]uint64
}

func (m *mockPayer) Send(ctx context.Context, dest solana.PublicKey, amount uint64) (solana.Signature, error) {
	if m.paid == nil {
		m.paid = make(map[solana.PublicKey]uint64)
	}
	m.paid[dest] += amount
	if m.payFunc != nil {
		return m.payFunc(ctx, dest, amount)
	}
	return solana.Signature{}, nil
}

type mockSnapshotter struct {
	snapshot rewards.Snapshot
	err      error
}

func (m *mockSnapshotter) Read(context.Context) (rewards.Snapshot, error) {
	return m.snapshot, m.err
}

func testRunner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = reflectortesting.NewLogger()
	}
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	return r
}

func TestReflector_Jackpot_Runner_SkipsBelowMinPrize(t *testing.T) {
	t.Parallel()

	payer := &mockPayer{}
	r := testRunner(t, RunnerConfig{
		Holders:     &mockHolderLister{},
		Snapshot:    &mockSnapshotter{},
		Balance:     &mockPrizeBalance{balance: 500},
		Payer:       payer,
		OldSharePct: 70,
		NewSharePct: 30,
		MinPrize:    1000,
	})

	require.NoError(t, r.RunOnce(context.Background()))
	require.Empty(t, payer.paid)
}

func TestReflector_Jackpot_Runner_PaysExactlyOneWinner(t *testing.T) {
	t.Parallel()

	registered := wallets(3)
	addrs := make([]string, len(registered))
	for i, pk := range registered {
		addrs[i] = pk.String()
	}
	fresh := wallets(2)
	holders := make([]rewards.Holder, 0, len(registered)+len(fresh))
	for _, pk := range append(append([]solana.PublicKey{}, registered...), fresh...) {
		holders = append(holders, rewards.Holder{Owner: pk, RawBalance: 100})
	}

	payer := &mockPayer{}
	r := testRunner(t, RunnerConfig{
		Holders:     &mockHolderLister{holders: addrs},
		Snapshot:    &mockSnapshotter{snapshot: rewards.Snapshot{Holders: holders, Supply: 500}},
		Balance:     &mockPrizeBalance{balance: 10_000},
		Payer:       payer,
		OldSharePct: 70,
		NewSharePct: 30,
		MinPrize:    1000,
	})

	require.NoError(t, r.RunOnce(context.Background()))
	require.Len(t, payer.paid, 1)
	for winner, amount := range payer.paid {
		if amount == 7000 {
			require.Contains(t, registered, winner)
		} else {
			require.Equal(t, uint64(3000), amount)
			require.Contains(t, fresh, winner)
		}
	}
}

func TestReflector_Jackpot_Runner_PaysOldWinnerWhenNewPoolEmpty(t *testing.T) {
	t.Parallel()

	registered := wallets(3)
	addrs := make([]string, len(registered))
	holders := make([]rewards.Holder, len(registered))
	for i, pk := range registered {
		addrs[i] = pk.String()
		holders[i] = rewards.Holder{Owner: pk, RawBalance: 100}
	}

	// Every snapshot holder is already registered, so the new pool is
	// empty and only the old-pool prize can be won.
	payer := &mockPayer{}
	r := testRunner(t, RunnerConfig{
		Holders:     &mockHolderLister{holders: addrs},
		Snapshot:    &mockSnapshotter{snapshot: rewards.Snapshot{Holders: holders, Supply: 300}},
		Balance:     &mockPrizeBalance{balance: 10_000},
		Payer:       payer,
		OldSharePct: 70,
		NewSharePct: 30,
		MinPrize:    1000,
	})

	require.NoError(t, r.RunOnce(context.Background()))
	require.Len(t, payer.paid, 1)
	for winner, amount := range payer.paid {
		require.Contains(t, registered, winner)
		require.Equal(t, uint64(7000), amount)
	}
}

func TestReflector_Jackpot_Runner_EmptyPoolsSkipRound(t *testing.T) {
	t.Parallel()

	payer := &mockPayer{}
	r := testRunner(t, RunnerConfig{
		Holders:     &mockHolderLister{},
		Snapshot:    &mockSnapshotter{},
		Balance:     &mockPrizeBalance{balance: 10_000},
		Payer:       payer,
		OldSharePct: 70,
		NewSharePct: 30,
		MinPrize:    1000,
	})

	require.NoError(t, r.RunOnce(context.Background()))
	require.Empty(t, payer.paid)
}

func TestReflector_Jackpot_Runner_PayFailureSurfaces(t *testing.T) {
	t.Parallel()

	fresh := wallets(2)
	holders := make([]rewards.Holder, 0, len(fresh))
	for _, pk := range fresh {
		holders = append(holders, rewards.Holder{Owner: pk, RawBalance: 100})
	}

	payer := &mockPayer{
		payFunc: func(context.Context, solana.PublicKey, uint64) (solana.Signature, error) {
			return solana.Signature{}, errors.New("tx failed")
		},
	}
	r := testRunner(t, RunnerConfig{
		Holders:     &mockHolderLister{},
		Snapshot:    &mockSnapshotter{snapshot: rewards.Snapshot{Holders: holders, Supply: 200}},
		Balance:     &mockPrizeBalance{balance: 10_000},
		Payer:       payer,
		OldSharePct: 70,
		NewSharePct: 30,
		MinPrize:    1000,
	})

	require.Error(t, r.RunOnce(context.Background()))
}

func TestReflector_Jackpot_Runner_MalformedRegistryAddressSkipped(t *testing.T) {
	t.Parallel()

	fresh := wallets(1)
	payer := &mockPayer{}
	r := testRunner(t, RunnerConfig{
		Holders: &mockHolderLister{holders: []string{"not-a-pubkey"}},
		Snapshot: &mockSnapshotter{snapshot: rewards.Snapshot{
			Holders: []rewards.Holder{{Owner: fresh[0], RawBalance: 100}},
			Supply:  100,
		}},
		Balance:     &mockPrizeBalance{balance: 10_000},
		Payer:       payer,
		OldSharePct: 70,
		NewSharePct: 30,
		MinPrize:    1000,
	})

	require.NoError(t, r.RunOnce(context.Background()))
	require.Equal(t, uint64(3000), payer.paid[fresh[0]])
}
