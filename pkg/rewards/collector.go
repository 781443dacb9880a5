package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/halolabs/reflector/pkg/sol"
)

// maxWithdrawAccountsPerTx bounds how many fee accounts one withdraw
// transaction touches; each adds a writable account to the message.
const maxWithdrawAccountsPerTx = 20

// WithheldWithdrawer submits one withheld-fee withdrawal covering the
// given token accounts.
type WithheldWithdrawer interface {
	WithdrawWithheld(ctx context.Context, accounts []solana.PublicKey) (solana.Signature, error)
}

// CollectorConfig holds the fee collector configuration.
type CollectorConfig struct {
	Logger       *slog.Logger
	RPC          SnapshotRPC
	Withdrawer   WithheldWithdrawer
	Mint         solana.PublicKey
	TokenProgram solana.PublicKey
	MaxAccounts  int
}

func (cfg *CollectorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Withdrawer == nil {
		return errors.New("withdrawer is required")
	}
	if cfg.Mint.IsZero() {
		return errors.New("mint is required")
	}
	if cfg.TokenProgram.IsZero() {
		cfg.TokenProgram = sol.Token2022ProgramID
	}
	if cfg.MaxAccounts <= 0 || cfg.MaxAccounts > maxWithdrawAccountsPerTx {
		cfg.MaxAccounts = maxWithdrawAccountsPerTx
	}
	return nil
}

// Collector scans the mint's token accounts for accrued withheld fees
// and withdraws them into the distributor wallet.
type Collector struct {
	log *slog.Logger
	cfg CollectorConfig
}

// NewCollector creates a withheld fee collector.
func NewCollector(cfg CollectorConfig) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{log: cfg.Logger, cfg: cfg}, nil
}

// Collect withdraws all nonzero withheld fee balances, batching
// accounts per transaction with the same sequential confirm-before-next
// discipline as disbursement. Returns the aggregate amount collected so
// far even when a later batch fails.
func (c *Collector) Collect(ctx context.Context) (uint64, error) {
	accounts, err := c.cfg.RPC.GetTokenHolders(ctx, c.cfg.Mint, c.cfg.TokenProgram)
	if err != nil {
		return 0, fmt.Errorf("failed to scan token accounts: %w", err)
	}

	var pending []sol.TokenHolder
	for _, acc := range accounts {
		if acc.Withheld == 0 {
			continue
		}
		pending = append(pending, acc)
	}
	if len(pending) == 0 {
		c.log.Debug("rewards: no withheld fees to collect")
		return 0, nil
	}

	var collected uint64
	for start := 0; start < len(pending); start += c.cfg.MaxAccounts {
		end := start + c.cfg.MaxAccounts
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		keys := make([]solana.PublicKey, 0, len(batch))
		var batchAmount uint64
		for _, acc := range batch {
			keys = append(keys, acc.TokenAccount)
			batchAmount += acc.Withheld
		}

		sig, err := c.cfg.Withdrawer.WithdrawWithheld(ctx, keys)
		if err != nil {
			return collected, fmt.Errorf("failed to withdraw withheld fees (batch starting at %d of %d accounts): %w", start, len(pending), err)
		}
		collected += batchAmount
		c.log.Info("rewards: withheld fees withdrawn", "accounts", len(batch), "amount", batchAmount, "signature", sig)
	}

	c.log.Info("rewards: fee collection completed", "accounts", len(pending), "collected", collected)
	return collected, nil
}
