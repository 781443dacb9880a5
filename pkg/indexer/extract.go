package indexer

import (
	"github.com/gagliardetto/solana-go"
)

// DefaultRentCeilingLamports is the ceiling under which a native
// transfer can be classified as rent provisioning rather than a reward.
// Token account rent deposits sit around 2m lamports; payouts are well
// above this.
const DefaultRentCeilingLamports = 5_000_000

// Classify extracts reward events from a transaction summary for the
// given source wallet. Pure: same summary, same events.
//
// A destination qualifies when its key lies on the ed25519 curve, a
// plausible wallet rather than a program-derived pool or vault address.
// Small native transfers that co-occur with a token payout or an
// account create/close in the same transaction are treated as rent
// provisioning and dropped.
func Classify(tx TxSummary, source solana.PublicKey, rentCeiling uint64) []RewardEvent {
	if !tx.Success {
		return nil
	}

	var events []RewardEvent

	var sourceTokenPayout bool
	for _, tr := range tx.TokenTransfers {
		if !tr.From.Equals(source) {
			continue
		}
		sourceTokenPayout = true
		if !tr.To.IsOnCurve() {
			continue
		}
		events = append(events, RewardEvent{
			Signature: tx.Signature,
			Slot:      tx.Slot,
			BlockTime: tx.BlockTime,
			Wallet:    tr.To.String(),
			AssetType: AssetToken,
			TokenMint: tr.Mint.String(),
			AmountRaw: tr.AmountRaw,
			Decimals:  tr.Decimals,
		})
	}

	for _, tr := range tx.NativeTransfers {
		if !tr.From.Equals(source) || tr.Lamports == 0 {
			continue
		}
		if !tr.To.IsOnCurve() {
			continue
		}
		if tr.Lamports < rentCeiling && (sourceTokenPayout || tx.HasCreateOrClose) {
			// rent dust
			continue
		}
		events = append(events, RewardEvent{
			Signature: tx.Signature,
			Slot:      tx.Slot,
			BlockTime: tx.BlockTime,
			Wallet:    tr.To.String(),
			AssetType: AssetNative,
			AmountRaw: tr.Lamports,
			Decimals:  9,
		})
	}

	return events
}
