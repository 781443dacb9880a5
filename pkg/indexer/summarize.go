package indexer

import (
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// Token instruction discriminators that mark account provisioning or
// teardown inside a transaction.
const (
	tokenInstrInitializeAccount  = 1
	tokenInstrCloseAccount       = 9
	tokenInstrInitializeAccount2 = 16
	tokenInstrInitializeAccount3 = 18
)

// systemInstrCreateAccount is the system program's CreateAccount
// discriminator (u32 LE).
const systemInstrCreateAccount = 0

// Summarize flattens a resolved transaction into the structured form
// classification runs against. Native movements are derived from
// pre/post lamport balance deltas with the fee payer as the spender;
// token movements from pre/post token balance deltas per mint.
func Summarize(sig solana.Signature, res *solanarpc.GetTransactionResult) (TxSummary, error) {
	if res == nil || res.Meta == nil || res.Transaction == nil {
		return TxSummary{}, fmt.Errorf("transaction %s has no metadata", sig)
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return TxSummary{}, fmt.Errorf("failed to decode transaction %s: %w", sig, err)
	}

	summary := TxSummary{
		Signature: sig.String(),
		Slot:      res.Slot,
		Success:   res.Meta.Err == nil,
	}
	if res.BlockTime != nil {
		t := res.BlockTime.Time().UTC()
		summary.BlockTime = &t
	}

	keys := tx.Message.AccountKeys
	if len(keys) == 0 {
		return summary, nil
	}
	feePayer := keys[0]

	// Lamport deltas. Accounts credited during the transaction are
	// destinations of the fee payer's outbound transfers.
	n := len(res.Meta.PostBalances)
	if len(res.Meta.PreBalances) < n {
		n = len(res.Meta.PreBalances)
	}
	for i := 1; i < n && i < len(keys); i++ {
		post := res.Meta.PostBalances[i]
		pre := res.Meta.PreBalances[i]
		if post <= pre {
			continue
		}
		summary.NativeTransfers = append(summary.NativeTransfers, NativeTransfer{
			From:     feePayer,
			To:       keys[i],
			Lamports: post - pre,
		})
	}

	summary.TokenTransfers = tokenTransfersFromMeta(res.Meta)
	summary.HasCreateOrClose = hasCreateOrClose(tx)
	return summary, nil
}

type tokenBalanceDelta struct {
	owner    solana.PublicKey
	mint     solana.PublicKey
	decimals uint8
	delta    int64
}

func tokenTransfersFromMeta(meta *solanarpc.TransactionMeta) []TokenTransfer {
	pre := make(map[uint16]uint64, len(meta.PreTokenBalances))
	for _, tb := range meta.PreTokenBalances {
		pre[tb.AccountIndex] = parseRawAmount(tb)
	}

	var deltas []tokenBalanceDelta
	seen := make(map[uint16]bool, len(meta.PostTokenBalances))
	for _, tb := range meta.PostTokenBalances {
		if tb.Owner == nil {
			continue
		}
		seen[tb.AccountIndex] = true
		post := parseRawAmount(tb)
		deltas = append(deltas, tokenBalanceDelta{
			owner:    *tb.Owner,
			mint:     tb.Mint,
			decimals: tokenDecimals(tb),
			delta:    int64(post) - int64(pre[tb.AccountIndex]),
		})
	}
	// Accounts closed during the transaction appear only in the pre set.
	for _, tb := range meta.PreTokenBalances {
		if seen[tb.AccountIndex] || tb.Owner == nil {
			continue
		}
		deltas = append(deltas, tokenBalanceDelta{
			owner:    *tb.Owner,
			mint:     tb.Mint,
			decimals: tokenDecimals(tb),
			delta:    -int64(parseRawAmount(tb)),
		})
	}

	// Pair the sender (largest decrease per mint) with each credited
	// owner of the same mint.
	senders := make(map[solana.PublicKey]solana.PublicKey)
	largest := make(map[solana.PublicKey]int64)
	for _, d := range deltas {
		if d.delta < 0 && d.delta < largest[d.mint] {
			largest[d.mint] = d.delta
			senders[d.mint] = d.owner
		}
	}

	var transfers []TokenTransfer
	for _, d := range deltas {
		if d.delta <= 0 {
			continue
		}
		from, ok := senders[d.mint]
		if !ok {
			// Mint or fee withdrawal with no sending account.
			continue
		}
		transfers = append(transfers, TokenTransfer{
			From:      from,
			To:        d.owner,
			Mint:      d.mint,
			AmountRaw: uint64(d.delta),
			Decimals:  d.decimals,
		})
	}
	return transfers
}

func hasCreateOrClose(tx *solana.Transaction) bool {
	keys := tx.Message.AccountKeys
	for _, ci := range tx.Message.Instructions {
		if int(ci.ProgramIDIndex) >= len(keys) {
			continue
		}
		program := keys[ci.ProgramIDIndex]
		data := []byte(ci.Data)

		switch {
		case program.Equals(solana.SPLAssociatedTokenAccountProgramID):
			return true
		case program.Equals(solana.SystemProgramID):
			if len(data) >= 4 &&
				uint32(data[0])|uint32(data[1])<<8|uint32(data[2])<<16|uint32(data[3])<<24 == systemInstrCreateAccount {
				return true
			}
		case program.Equals(solana.TokenProgramID) || program.Equals(token2022ProgramID):
			if len(data) == 0 {
				continue
			}
			switch data[0] {
			case tokenInstrInitializeAccount, tokenInstrCloseAccount,
				tokenInstrInitializeAccount2, tokenInstrInitializeAccount3:
				return true
			}
		}
	}
	return false
}

var token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

func parseRawAmount(tb solanarpc.TokenBalance) uint64 {
	if tb.UiTokenAmount == nil {
		return 0
	}
	v, err := strconv.ParseUint(tb.UiTokenAmount.Amount, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func tokenDecimals(tb solanarpc.TokenBalance) uint8 {
	if tb.UiTokenAmount == nil {
		return 0
	}
	return tb.UiTokenAmount.Decimals
}
