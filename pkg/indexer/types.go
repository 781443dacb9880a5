package indexer

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// AssetType distinguishes native-lamport rewards from SPL token rewards.
type AssetType string

const (
	AssetNative AssetType = "NATIVE"
	AssetToken  AssetType = "TOKEN"
)

// RewardEvent is one outbound reward transfer extracted from the
// ledger. Append-only and immutable once written; keyed by
// (signature, wallet, token_mint).
type RewardEvent struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	Wallet    string
	AssetType AssetType
	TokenMint string
	AmountRaw uint64
	Decimals  uint8
}

// Cursor is the per-source-wallet watermark below which history is
// considered fully indexed.
type Cursor struct {
	SourceWallet  string
	LastSignature string
	LastSlot      uint64
	UpdatedAt     time.Time
}

// WalletTotals is the running per-wallet aggregate kept alongside
// events.
type WalletTotals struct {
	Wallet       string
	SolTotalRaw  uint64
	USDCTotalRaw uint64
	LastUpdated  time.Time
	Tokens       []TokenTotal
}

// TokenTotal is one per-(wallet, mint) running aggregate row.
type TokenTotal struct {
	Wallet      string
	TokenMint   string
	TokenSymbol string
	TotalRaw    uint64
	Decimals    uint8
	LastUpdated time.Time
}

// NativeTransfer is one lamport movement inside a transaction.
type NativeTransfer struct {
	From     solana.PublicKey
	To       solana.PublicKey
	Lamports uint64
}

// TokenTransfer is one SPL token movement inside a transaction.
type TokenTransfer struct {
	From      solana.PublicKey
	To        solana.PublicKey
	Mint      solana.PublicKey
	AmountRaw uint64
	Decimals  uint8
}

// TxSummary is the structured view of one resolved transaction that
// classification runs against. Building it is the only place that
// touches RPC types; everything downstream is pure.
type TxSummary struct {
	Signature        string
	Slot             uint64
	BlockTime        *time.Time
	Success          bool
	NativeTransfers  []NativeTransfer
	TokenTransfers   []TokenTransfer
	HasCreateOrClose bool
}
