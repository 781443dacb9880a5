package jackpot

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// maxOldPoolAttempts bounds re-draws when the old-pool pick collides
// with new-pool membership. Exhausting it forfeits the old prize for
// the round.
const maxOldPoolAttempts = 100

// Result is the outcome of one jackpot draw. A nil winner means no
// prize in that category for the round.
type Result struct {
	OldFund   uint64
	NewFund   uint64
	WinnerOld *solana.PublicKey
	WinnerNew *solana.PublicKey
}

// Draw performs a weighted random jackpot draw between the standing
// ("old") holder pool and the recent ("new") holder pool. All random
// decisions use the operating system's secure random source.
//
// The old-pool pick is re-drawn while it also belongs to the new pool
// so the two prize categories stay disjoint. When both categories end
// up with a winner, a fair coin flip keeps exactly one and zeroes the
// other's fund; the non-chosen prize is forfeited for the round rather
// than rolled over.
func Draw(oldPool, newPool []solana.PublicKey, amount, oldSharePct, newSharePct uint64) (Result, error) {
	res := Result{
		OldFund: mulPercent(amount, oldSharePct),
		NewFund: mulPercent(amount, newSharePct),
	}

	newMembers := make(map[solana.PublicKey]struct{}, len(newPool))
	for _, pk := range newPool {
		newMembers[pk] = struct{}{}
	}

	if len(oldPool) > 0 && res.OldFund > 0 {
		for attempt := 0; attempt < maxOldPoolAttempts; attempt++ {
			idx, err := secureIndex(len(oldPool))
			if err != nil {
				return Result{}, err
			}
			pick := oldPool[idx]
			if _, overlap := newMembers[pick]; overlap {
				continue
			}
			res.WinnerOld = &pick
			break
		}
	}

	if len(newPool) > 0 && res.NewFund > 0 {
		idx, err := secureIndex(len(newPool))
		if err != nil {
			return Result{}, err
		}
		pick := newPool[idx]
		res.WinnerNew = &pick
	}

	// Tie-break: a single coin flip keeps exactly one winner.
	if res.WinnerOld != nil && res.WinnerNew != nil {
		flip, err := secureIndex(2)
		if err != nil {
			return Result{}, err
		}
		if flip == 0 {
			res.WinnerNew = nil
			res.NewFund = 0
		} else {
			res.WinnerOld = nil
			res.OldFund = 0
		}
	}

	if res.WinnerOld == nil {
		res.OldFund = 0
	}
	if res.WinnerNew == nil {
		res.NewFund = 0
	}
	return res, nil
}

// NormalizedShare is the eligibility weighting curve for an alternate
// share formula: min(1, max(0, k*balance/supply)). It lets sub-1%
// holders still win a full share.
func NormalizedShare(balance, supply uint64, k float64) float64 {
	if supply == 0 {
		return 0
	}
	share := k * float64(balance) / float64(supply)
	if share < 0 {
		return 0
	}
	if share > 1 {
		return 1
	}
	return share
}

func secureIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to read secure random source: %w", err)
	}
	return int(v.Int64()), nil
}

func mulPercent(amount, percent uint64) uint64 {
	return (amount/100)*percent + (amount%100)*percent/100
}
