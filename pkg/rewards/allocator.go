package rewards

import (
	"errors"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// ErrZeroSupply is returned when a plan is requested against a zero
// total supply.
var ErrZeroSupply = errors.New("total supply must be greater than 0")

// Allocate computes each holder's integer share of total, proportional
// to balance over supply. Shares are floored with big-integer
// arithmetic. Holders whose floored share falls below minShare are
// skipped entirely rather than rounded up; their value stays in the
// source wallet until a later cycle computes a larger share. Pure and
// deterministic. The sum of shares never exceeds total.
func Allocate(total uint64, snapshot Snapshot, minShare uint64) (Plan, error) {
	if snapshot.Supply == 0 {
		return Plan{}, ErrZeroSupply
	}

	plan := Plan{
		Total:   total,
		Shares:  make(map[solana.PublicKey]uint64, len(snapshot.Holders)),
		Skipped: make(map[solana.PublicKey]struct{}),
	}

	totalBig := new(big.Int).SetUint64(total)
	supplyBig := new(big.Int).SetUint64(snapshot.Supply)

	for _, holder := range snapshot.Holders {
		// share = floor(balance * total / supply)
		share := new(big.Int).SetUint64(holder.RawBalance)
		share.Mul(share, totalBig)
		share.Quo(share, supplyBig)

		v := share.Uint64()
		if v < minShare {
			plan.Skipped[holder.Owner] = struct{}{}
			continue
		}
		plan.Shares[holder.Owner] = v
	}

	return plan, nil
}
