package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/halolabs/reflector/pkg/metrics"
)

// ErrCycleInProgress is returned when a cycle trigger overlaps a
// running cycle. Overlapping triggers are dropped, not queued.
var ErrCycleInProgress = errors.New("distribution cycle already in progress")

// CycleState is the orchestrator's observable position in a cycle.
type CycleState string

const (
	StateIdle         CycleState = "idle"
	StateCollecting   CycleState = "collecting"
	StateAccumulating CycleState = "accumulating"
	StateBurning      CycleState = "burning"
	StateConverting   CycleState = "converting"
	StateSplitting    CycleState = "splitting"
	StateDisbursing   CycleState = "disbursing"
)

// FeeCollector withdraws accrued withheld fees into the distributor
// wallet and returns the aggregate collected amount.
type FeeCollector interface {
	Collect(ctx context.Context) (uint64, error)
}

// Burner destroys raw token units irreversibly.
type Burner interface {
	Burn(ctx context.Context, amount uint64) (solana.Signature, error)
}

// Swapper converts raw token units into the settlement asset held by
// the distributor wallet. Only the outcome matters to the cycle; the
// route is the swap service's business.
type Swapper interface {
	Swap(ctx context.Context, amount uint64) (proceeds uint64, txRef string, err error)
}

// DirectSender issues a single fixed-destination settlement transfer,
// used for the treasury and jackpot cuts.
type DirectSender interface {
	Send(ctx context.Context, dest solana.PublicKey, amount uint64) (solana.Signature, error)
}

// TokenBalanceReader reports the distributor wallet's liquid raw token
// balance.
type TokenBalanceReader interface {
	Balance(ctx context.Context) (uint64, error)
}

// Snapshotter produces a fresh holder snapshot.
type Snapshotter interface {
	Read(ctx context.Context) (Snapshot, error)
}

// HolderRegistry records addresses seen holding the mint, feeding the
// jackpot's standing pool.
type HolderRegistry interface {
	UpsertEligibleHolders(ctx context.Context, wallets []string) error
}

// OrchestratorConfig holds the distribution cycle configuration.
type OrchestratorConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Collector FeeCollector
	Balance   TokenBalanceReader
	Burner    Burner
	Swapper   Swapper
	Snapshot  Snapshotter
	Executor  *Executor
	Direct    DirectSender
	Registry  HolderRegistry // optional
	Notifier  Notifier       // optional

	AccumulationThreshold uint64
	BurnPercent           uint64
	JackpotPercent        uint64
	TreasuryPercent       uint64
	MinShare              uint64
	TreasuryWallet        solana.PublicKey
	JackpotWallet         solana.PublicKey

	CycleInterval time.Duration
}

func (cfg *OrchestratorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Collector == nil {
		return errors.New("fee collector is required")
	}
	if cfg.Balance == nil {
		return errors.New("balance reader is required")
	}
	if cfg.Burner == nil {
		return errors.New("burner is required")
	}
	if cfg.Swapper == nil {
		return errors.New("swapper is required")
	}
	if cfg.Snapshot == nil {
		return errors.New("snapshot reader is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Direct == nil {
		return errors.New("direct sender is required")
	}
	if cfg.BurnPercent > 100 {
		return errors.New("burn percent must be at most 100")
	}
	if cfg.JackpotPercent+cfg.TreasuryPercent > 100 {
		return errors.New("jackpot and treasury percents must sum to at most 100")
	}
	if cfg.TreasuryPercent > 0 && cfg.TreasuryWallet.IsZero() {
		return errors.New("treasury wallet is required")
	}
	if cfg.JackpotPercent > 0 && cfg.JackpotWallet.IsZero() {
		return errors.New("jackpot wallet is required")
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 30 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// CycleReport summarizes one completed (or early-terminated) cycle.
type CycleReport struct {
	RunID       string
	Outcome     string
	Collected   uint64
	Burned      uint64
	Swapped     uint64
	Proceeds    uint64
	JackpotCut  uint64
	TreasuryCut uint64
	HolderPool  uint64
	Disbursed   ExecResult
}

// Orchestrator drives full distribution cycles. A compare-and-swap
// guard owned by the instance serializes cycles; overlapping triggers
// are rejected immediately.
type Orchestrator struct {
	log *slog.Logger
	cfg OrchestratorConfig

	running atomic.Bool
	state   atomic.Value // CycleState
}

// NewOrchestrator creates a distribution cycle orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{log: cfg.Logger, cfg: cfg}
	o.state.Store(StateIdle)
	return o, nil
}

// State returns the orchestrator's current cycle state.
func (o *Orchestrator) State() CycleState {
	return o.state.Load().(CycleState)
}

// Start runs cycles on the configured interval until ctx is done.
func (o *Orchestrator) Start(ctx context.Context) {
	go func() {
		o.log.Info("rewards: starting distribution loop", "interval", o.cfg.CycleInterval)

		ticker := o.cfg.Clock.NewTicker(o.cfg.CycleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if _, err := o.RunCycle(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					if errors.Is(err, ErrCycleInProgress) {
						o.log.Warn("rewards: cycle trigger dropped, previous cycle still running")
						continue
					}
					o.log.Error("rewards: cycle failed", "error", err)
				}
			}
		}
	}()
}

// RunCycle drives one full distribution cycle: collect withheld fees,
// check the accumulation threshold, burn, convert to the settlement
// asset, split, and disburse. Returns ErrCycleInProgress when a cycle
// is already running.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		metrics.CycleTotal.WithLabelValues("rejected").Inc()
		return CycleReport{}, ErrCycleInProgress
	}
	defer o.running.Store(false)
	defer o.state.Store(StateIdle)

	report := CycleReport{RunID: uuid.NewString()}
	log := o.log.With("run_id", report.RunID)

	start := time.Now()
	defer func() {
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	// Collecting. A collection failure is soft: the cycle proceeds
	// with whatever balance is already liquid.
	o.state.Store(StateCollecting)
	collected, err := o.cfg.Collector.Collect(ctx)
	if err != nil {
		log.Warn("rewards: fee collection failed, continuing with liquid balance", "error", err)
	} else {
		report.Collected = collected
	}

	balance, err := o.cfg.Balance.Balance(ctx)
	if err != nil {
		metrics.CycleTotal.WithLabelValues("error").Inc()
		return report, fmt.Errorf("failed to read distributor balance: %w", err)
	}

	// Accumulating: below-threshold is a normal end of cycle.
	o.state.Store(StateAccumulating)
	if balance < o.cfg.AccumulationThreshold {
		report.Outcome = "accumulating"
		metrics.CycleTotal.WithLabelValues("accumulating").Inc()
		log.Info("rewards: below accumulation threshold, ending cycle",
			"balance", balance, "threshold", o.cfg.AccumulationThreshold)
		return report, nil
	}

	// Burning. 0% is a valid no-op.
	o.state.Store(StateBurning)
	burnAmount := mulPercent(balance, o.cfg.BurnPercent)
	if burnAmount > 0 {
		if _, err := o.cfg.Burner.Burn(ctx, burnAmount); err != nil {
			metrics.CycleTotal.WithLabelValues("error").Inc()
			return report, fmt.Errorf("failed to burn %d raw units: %w", burnAmount, err)
		}
		report.Burned = burnAmount
		log.Info("rewards: burned", "amount", burnAmount, "percent", o.cfg.BurnPercent)
	}

	// Converting. The burn has already happened; an aborted swap here
	// leaves reduced supply without proceeds. Ordering is intentional.
	o.state.Store(StateConverting)
	remainder := balance - burnAmount
	report.Swapped = remainder
	proceeds, txRef, err := o.cfg.Swapper.Swap(ctx, remainder)
	if err != nil {
		metrics.CycleTotal.WithLabelValues("error").Inc()
		return report, fmt.Errorf("failed to convert %d raw units to settlement asset: %w", remainder, err)
	}
	report.Proceeds = proceeds
	log.Info("rewards: converted to settlement asset", "amount_in", remainder, "proceeds", proceeds, "tx_ref", txRef)

	// Splitting. Percentages are independent knobs; any remainder
	// stays with holders.
	o.state.Store(StateSplitting)
	report.JackpotCut = mulPercent(proceeds, o.cfg.JackpotPercent)
	report.TreasuryCut = mulPercent(proceeds, o.cfg.TreasuryPercent)
	report.HolderPool = proceeds - report.JackpotCut - report.TreasuryCut

	if report.TreasuryCut > 0 {
		if _, err := o.cfg.Direct.Send(ctx, o.cfg.TreasuryWallet, report.TreasuryCut); err != nil {
			metrics.CycleTotal.WithLabelValues("error").Inc()
			return report, fmt.Errorf("failed to transfer treasury cut: %w", err)
		}
	}
	if report.JackpotCut > 0 {
		if _, err := o.cfg.Direct.Send(ctx, o.cfg.JackpotWallet, report.JackpotCut); err != nil {
			metrics.CycleTotal.WithLabelValues("error").Inc()
			return report, fmt.Errorf("failed to transfer jackpot cut: %w", err)
		}
	}

	// Disbursing.
	o.state.Store(StateDisbursing)
	snapshot, err := o.cfg.Snapshot.Read(ctx)
	if err != nil {
		metrics.CycleTotal.WithLabelValues("error").Inc()
		return report, fmt.Errorf("failed to take holder snapshot: %w", err)
	}
	if len(snapshot.Holders) == 0 {
		report.Outcome = "no-holders"
		metrics.CycleTotal.WithLabelValues("no_holders").Inc()
		log.Info("rewards: no eligible holders, ending cycle")
		return report, nil
	}

	o.upsertRegistry(ctx, log, snapshot)

	plan, err := Allocate(report.HolderPool, snapshot, o.cfg.MinShare)
	if err != nil {
		metrics.CycleTotal.WithLabelValues("error").Inc()
		return report, fmt.Errorf("failed to allocate holder pool: %w", err)
	}
	log.Info("rewards: plan allocated",
		"holders", len(plan.Shares), "skipped", len(plan.Skipped),
		"pool", report.HolderPool, "allocated", plan.SumShares())

	result, err := o.cfg.Executor.Execute(ctx, plan)
	report.Disbursed = result
	if err != nil {
		// Partial completion: confirmed batches are final. The next
		// cycle re-derives a fresh plan from current balances.
		report.Outcome = "partial"
		metrics.CycleTotal.WithLabelValues("partial").Inc()
		o.notify(ctx, log, fmt.Sprintf(
			"distribution cycle %s partially completed: %d batches confirmed before failure",
			report.RunID, result.ConfirmedBatches))
		return report, fmt.Errorf("disbursement incomplete after %d confirmed batches: %w", result.ConfirmedBatches, err)
	}

	report.Outcome = "completed"
	metrics.CycleTotal.WithLabelValues("completed").Inc()
	log.Info("rewards: cycle completed",
		"collected", report.Collected,
		"burned", report.Burned,
		"proceeds", report.Proceeds,
		"holder_pool", report.HolderPool,
		"transfers", result.ConfirmedTransfers)
	o.notify(ctx, log, fmt.Sprintf(
		"distribution cycle %s completed: %d holders paid from a pool of %d",
		report.RunID, result.ConfirmedTransfers, report.HolderPool))
	return report, nil
}

func (o *Orchestrator) upsertRegistry(ctx context.Context, log *slog.Logger, snapshot Snapshot) {
	if o.cfg.Registry == nil {
		return
	}
	wallets := make([]string, 0, len(snapshot.Holders))
	for _, holder := range snapshot.Holders {
		wallets = append(wallets, holder.Owner.String())
	}
	if err := o.cfg.Registry.UpsertEligibleHolders(ctx, wallets); err != nil {
		log.Warn("rewards: eligible holder registry update failed", "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, log *slog.Logger, msg string) {
	if o.cfg.Notifier == nil {
		return
	}
	if err := o.cfg.Notifier.Notify(ctx, msg); err != nil {
		log.Warn("rewards: cycle notification failed", "error", err)
	}
}

// mulPercent computes floor(amount*percent/100) without intermediate
// overflow for amounts near the uint64 ceiling.
func mulPercent(amount, percent uint64) uint64 {
	return (amount/100)*percent + (amount%100)*percent/100
}
