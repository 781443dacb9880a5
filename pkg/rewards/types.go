package rewards

import (
	"sort"

	"github.com/gagliardetto/solana-go"
)

// Holder is one (owner, raw balance) pair from a snapshot.
type Holder struct {
	Owner      solana.PublicKey
	RawBalance uint64
}

// Snapshot is a point-in-time enumeration of token balances by owner,
// with the mint's total raw supply at the same moment. Produced fresh
// per cycle and never persisted.
type Snapshot struct {
	Holders []Holder
	Supply  uint64
}

// Plan is the output of proportional allocation: the integer share per
// holder and the holders skipped for falling below the minimum share.
type Plan struct {
	Total   uint64
	Shares  map[solana.PublicKey]uint64
	Skipped map[solana.PublicKey]struct{}
}

// SumShares returns the total allocated across all holders. Flooring
// guarantees SumShares() <= Total.
func (p Plan) SumShares() uint64 {
	var sum uint64
	for _, share := range p.Shares {
		sum += share
	}
	return sum
}

// OrderedOwners returns plan owners sorted by address so batch
// construction is deterministic for a given plan.
func (p Plan) OrderedOwners() []solana.PublicKey {
	owners := make([]solana.PublicKey, 0, len(p.Shares))
	for owner := range p.Shares {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool {
		return owners[i].String() < owners[j].String()
	})
	return owners
}
