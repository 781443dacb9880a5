package jackpot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/halolabs/reflector/pkg/metrics"
	"github.com/halolabs/reflector/pkg/rewards"
)

// HolderLister reads the standing eligible-holder registry.
type HolderLister interface {
	ListEligibleHolders(ctx context.Context) ([]string, error)
}

// PrizeBalanceReader reports the jackpot wallet's current settlement
// balance, which funds the round.
type PrizeBalanceReader interface {
	Balance(ctx context.Context) (uint64, error)
}

// Payer issues the winner payout transfer.
type Payer interface {
	Send(ctx context.Context, dest solana.PublicKey, amount uint64) (solana.Signature, error)
}

// RunnerConfig holds the jackpot runner configuration.
type RunnerConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Holders  HolderLister
	Snapshot rewards.Snapshotter
	Balance  PrizeBalanceReader
	Payer    Payer
	Notifier rewards.Notifier // optional

	OldSharePct  uint64
	NewSharePct  uint64
	MinPrize     uint64
	DrawInterval time.Duration
}

func (cfg *RunnerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Holders == nil {
		return errors.New("holder lister is required")
	}
	if cfg.Snapshot == nil {
		return errors.New("snapshot reader is required")
	}
	if cfg.Balance == nil {
		return errors.New("balance reader is required")
	}
	if cfg.Payer == nil {
		return errors.New("payer is required")
	}
	if cfg.OldSharePct+cfg.NewSharePct > 100 {
		return errors.New("old and new share percents must sum to at most 100")
	}
	if cfg.DrawInterval <= 0 {
		cfg.DrawInterval = 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Runner performs scheduled jackpot draws and pays out the winners.
type Runner struct {
	log    *slog.Logger
	cfg    RunnerConfig
	drawMu sync.Mutex
}

// NewRunner creates a jackpot runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{log: cfg.Logger, cfg: cfg}, nil
}

// Start runs draws on the configured interval until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	go func() {
		r.log.Info("jackpot: starting draw loop", "interval", r.cfg.DrawInterval)

		ticker := r.cfg.Clock.NewTicker(r.cfg.DrawInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if err := r.RunOnce(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					r.log.Error("jackpot: draw failed", "error", err)
				}
			}
		}
	}()
}

// RunOnce performs one draw round: build the two pools, draw, and pay
// the surviving winner.
func (r *Runner) RunOnce(ctx context.Context) error {
	r.drawMu.Lock()
	defer r.drawMu.Unlock()

	runID := uuid.NewString()
	log := r.log.With("run_id", runID)

	prize, err := r.cfg.Balance.Balance(ctx)
	if err != nil {
		metrics.JackpotDrawTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to read jackpot balance: %w", err)
	}
	if prize < r.cfg.MinPrize {
		metrics.JackpotDrawTotal.WithLabelValues("accumulating").Inc()
		log.Info("jackpot: prize below minimum, skipping round", "prize", prize, "min", r.cfg.MinPrize)
		return nil
	}

	oldPool, newPool, err := r.buildPools(ctx)
	if err != nil {
		metrics.JackpotDrawTotal.WithLabelValues("error").Inc()
		return err
	}
	if len(oldPool) == 0 && len(newPool) == 0 {
		metrics.JackpotDrawTotal.WithLabelValues("empty").Inc()
		log.Info("jackpot: no eligible holders, skipping round")
		return nil
	}

	result, err := Draw(oldPool, newPool, prize, r.cfg.OldSharePct, r.cfg.NewSharePct)
	if err != nil {
		metrics.JackpotDrawTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to draw jackpot: %w", err)
	}

	if result.WinnerOld == nil && result.WinnerNew == nil {
		metrics.JackpotDrawTotal.WithLabelValues("no_winner").Inc()
		log.Info("jackpot: no winner this round", "old_pool", len(oldPool), "new_pool", len(newPool))
		return nil
	}

	var winner solana.PublicKey
	var fund uint64
	var category string
	if result.WinnerOld != nil {
		winner, fund, category = *result.WinnerOld, result.OldFund, "old"
	} else {
		winner, fund, category = *result.WinnerNew, result.NewFund, "new"
	}

	sig, err := r.cfg.Payer.Send(ctx, winner, fund)
	if err != nil {
		metrics.JackpotDrawTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to pay jackpot winner %s: %w", winner, err)
	}

	metrics.JackpotDrawTotal.WithLabelValues("paid").Inc()
	log.Info("jackpot: winner paid",
		"winner", winner, "category", category, "amount", fund, "signature", sig)
	r.notify(ctx, log, fmt.Sprintf("jackpot round %s: %s-pool winner %s paid %d raw units (tx %s)",
		runID, category, winner, fund, sig))
	return nil
}

// buildPools derives the two disjoint draw pools: the standing registry
// is the old pool, snapshot holders not yet registered are the new pool.
func (r *Runner) buildPools(ctx context.Context) ([]solana.PublicKey, []solana.PublicKey, error) {
	registered, err := r.cfg.Holders.ListEligibleHolders(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list eligible holders: %w", err)
	}

	oldPool := make([]solana.PublicKey, 0, len(registered))
	oldSet := make(map[solana.PublicKey]struct{}, len(registered))
	for _, addr := range registered {
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			r.log.Warn("jackpot: skipping malformed registry address", "address", addr)
			continue
		}
		oldPool = append(oldPool, pk)
		oldSet[pk] = struct{}{}
	}

	snapshot, err := r.cfg.Snapshot.Read(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to take holder snapshot: %w", err)
	}

	var newPool []solana.PublicKey
	for _, holder := range snapshot.Holders {
		if _, ok := oldSet[holder.Owner]; ok {
			continue
		}
		newPool = append(newPool, holder.Owner)
	}
	return oldPool, newPool, nil
}

func (r *Runner) notify(ctx context.Context, log *slog.Logger, msg string) {
	if r.cfg.Notifier == nil {
		return
	}
	if err := r.cfg.Notifier.Notify(ctx, msg); err != nil {
		log.Warn("jackpot: notification failed", "error", err)
	}
}
