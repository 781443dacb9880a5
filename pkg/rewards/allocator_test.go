package rewards

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func testWallet(t *testing.T) solana.PublicKey {
	t.Helper()
	w := solana.NewWallet()
	return w.PublicKey()
}

func TestReflector_Rewards_Allocate_Proportional(t *testing.T) {
	t.Parallel()

	a := testWallet(t)
	b := testWallet(t)
	c := testWallet(t)

	snapshot := Snapshot{
		Holders: []Holder{
			{Owner: a, RawBalance: 100},
			{Owner: b, RawBalance: 50},
			{Owner: c, RawBalance: 850},
		},
		Supply: 1000,
	}

	plan, err := Allocate(1000, snapshot, 10)
	require.NoError(t, err)

	require.Equal(t, uint64(100), plan.Shares[a])
	require.Equal(t, uint64(50), plan.Shares[b])
	require.Equal(t, uint64(850), plan.Shares[c])
	require.Equal(t, uint64(1000), plan.SumShares())
	require.Empty(t, plan.Skipped)
}

func TestReflector_Rewards_Allocate_SkipsBelowMinShare(t *testing.T) {
	t.Parallel()

	a := testWallet(t)
	b := testWallet(t)

	snapshot := Snapshot{
		Holders: []Holder{
			{Owner: a, RawBalance: 1},
			{Owner: b, RawBalance: 999},
		},
		Supply: 1000,
	}

	plan, err := Allocate(1000, snapshot, 5)
	require.NoError(t, err)

	require.NotContains(t, plan.Shares, a)
	require.Contains(t, plan.Skipped, a)
	require.Equal(t, uint64(999), plan.Shares[b])
}

func TestReflector_Rewards_Allocate_SumNeverExceedsTotal(t *testing.T) {
	t.Parallel()

	holders := make([]Holder, 0, 7)
	var supply uint64
	for _, bal := range []uint64{3, 7, 11, 13, 17, 19, 23} {
		holders = append(holders, Holder{Owner: testWallet(t), RawBalance: bal})
		supply += bal
	}

	plan, err := Allocate(1_000_003, Snapshot{Holders: holders, Supply: supply}, 0)
	require.NoError(t, err)
	require.LessOrEqual(t, plan.SumShares(), uint64(1_000_003))
}

func TestReflector_Rewards_Allocate_NoShareBelowMinShare(t *testing.T) {
	t.Parallel()

	holders := make([]Holder, 0, 50)
	var supply uint64
	for i := uint64(1); i <= 50; i++ {
		holders = append(holders, Holder{Owner: testWallet(t), RawBalance: i * i})
		supply += i * i
	}

	const minShare = 500
	plan, err := Allocate(10_000, Snapshot{Holders: holders, Supply: supply}, minShare)
	require.NoError(t, err)

	for owner, share := range plan.Shares {
		require.GreaterOrEqual(t, share, uint64(minShare), "owner %s", owner)
	}
	require.Equal(t, len(holders), len(plan.Shares)+len(plan.Skipped))
}

func TestReflector_Rewards_Allocate_ZeroSupply(t *testing.T) {
	t.Parallel()

	_, err := Allocate(1000, Snapshot{Supply: 0}, 0)
	require.ErrorIs(t, err, ErrZeroSupply)
}

func TestReflector_Rewards_Allocate_LargeBalancesNoOverflow(t *testing.T) {
	t.Parallel()

	a := testWallet(t)
	// balance * total overflows uint64; big-integer math must not.
	snapshot := Snapshot{
		Holders: []Holder{{Owner: a, RawBalance: 1 << 62}},
		Supply:  1 << 62,
	}

	plan, err := Allocate(1<<60, snapshot, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<60), plan.Shares[a])
}

func TestReflector_Rewards_Plan_OrderedOwnersDeterministic(t *testing.T) {
	t.Parallel()

	plan := Plan{Shares: map[solana.PublicKey]uint64{}}
	for i := 0; i < 20; i++ {
		plan.Shares[testWallet(t)] = uint64(i + 1)
	}

	first := plan.OrderedOwners()
	second := plan.OrderedOwners()
	require.Equal(t, first, second)
	for i := 1; i < len(first); i++ {
		require.Less(t, first[i-1].String(), first[i].String())
	}
}
