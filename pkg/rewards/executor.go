package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/halolabs/reflector/pkg/metrics"
	"github.com/halolabs/reflector/pkg/sol"
)

// BatchSender submits one batch of transfers as a single transaction
// and waits for its confirmation.
type BatchSender interface {
	SendBatch(ctx context.Context, transfers []sol.TokenTransfer) (solana.Signature, error)
}

// Notifier is the best-effort audit notification sink. Failures are
// logged and never block a cycle.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// ExecutorConfig holds the batched disbursement executor configuration.
type ExecutorConfig struct {
	Logger      *slog.Logger
	Sender      BatchSender
	Notifier    Notifier // optional
	BatchSize   int
	AssetSymbol string
}

func (cfg *ExecutorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Sender == nil {
		return errors.New("batch sender is required")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("batch size must be greater than 0")
	}
	if cfg.BatchSize > sol.MaxTransfersPerBatch {
		return fmt.Errorf("batch size %d exceeds wire ceiling of %d transfers", cfg.BatchSize, sol.MaxTransfersPerBatch)
	}
	if cfg.AssetSymbol == "" {
		cfg.AssetSymbol = "SOL"
	}
	return nil
}

// ExecResult reports how much of a plan was confirmed on chain before
// the run ended.
type ExecResult struct {
	ConfirmedBatches   int
	ConfirmedTransfers int
	Signatures         []solana.Signature
}

// Executor disburses a plan in consecutive fixed-size batches.
type Executor struct {
	log *slog.Logger
	cfg ExecutorConfig
}

// NewExecutor creates a batched disbursement executor. An oversized
// batch size is a construction error, not a runtime one.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

// Execute submits the plan's transfers in strictly sequential batches,
// waiting for confirmation of each batch before building the next.
// On a batch failure the remaining batches are abandoned and the
// partial result is returned with the error; confirmed transfers are
// final and are never rolled back.
func (e *Executor) Execute(ctx context.Context, plan Plan) (ExecResult, error) {
	owners := plan.OrderedOwners()
	if len(owners) == 0 {
		e.log.Info("rewards: empty plan, nothing to disburse")
		return ExecResult{}, nil
	}

	transfers := make([]sol.TokenTransfer, 0, len(owners))
	for _, owner := range owners {
		transfers = append(transfers, sol.TokenTransfer{Dest: owner, Amount: plan.Shares[owner]})
	}

	var result ExecResult
	for start := 0; start < len(transfers); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(transfers) {
			end = len(transfers)
		}
		batch := transfers[start:end]

		sig, err := e.cfg.Sender.SendBatch(ctx, batch)
		if err != nil {
			metrics.BatchTotal.WithLabelValues("failed").Inc()
			e.log.Error("rewards: batch failed, aborting remaining batches",
				"batch", result.ConfirmedBatches+1,
				"confirmed_batches", result.ConfirmedBatches,
				"error", err)
			return result, fmt.Errorf("batch %d failed after %d confirmed: %w", result.ConfirmedBatches+1, result.ConfirmedBatches, err)
		}

		result.ConfirmedBatches++
		result.ConfirmedTransfers += len(batch)
		result.Signatures = append(result.Signatures, sig)
		metrics.BatchTotal.WithLabelValues("confirmed").Inc()
		e.log.Info("rewards: batch confirmed",
			"batch", result.ConfirmedBatches,
			"transfers", len(batch),
			"signature", sig)

		e.notifyBatch(ctx, batch, sig)
	}

	return result, nil
}

func (e *Executor) notifyBatch(ctx context.Context, batch []sol.TokenTransfer, sig solana.Signature) {
	if e.cfg.Notifier == nil {
		return
	}
	var total uint64
	for _, tr := range batch {
		total += tr.Amount
	}
	msg := fmt.Sprintf("rewards: paid %d wallets a total of %d raw %s (tx %s)",
		len(batch), total, e.cfg.AssetSymbol, sig)
	if err := e.cfg.Notifier.Notify(ctx, msg); err != nil {
		e.log.Warn("rewards: audit notification failed", "error", err)
	}
}
