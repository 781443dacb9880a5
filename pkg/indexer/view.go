package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/halolabs/reflector/pkg/metrics"
	"github.com/halolabs/reflector/utils/pkg/retry"
)

const (
	// DefaultPageLimit is the signature page size used when walking
	// the ledger backward.
	DefaultPageLimit = 1000

	// DefaultChunkSize is how many signatures are resolved into full
	// transactions before their events are committed and the cursor
	// advances.
	DefaultChunkSize = 100
)

// LedgerRPC wraps the RPC methods the view uses to read the ledger.
type LedgerRPC interface {
	GetSignaturesPage(ctx context.Context, address solana.PublicKey, before solana.Signature, limit int) ([]*solanarpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, sig solana.Signature) (*solanarpc.GetTransactionResult, error)
}

// EventStore is the persistence surface the view writes through.
type EventStore interface {
	GetCursor(ctx context.Context, sourceWallet string) (*Cursor, error)
	UpsertCursor(ctx context.Context, c Cursor) error
	CommitTransaction(ctx context.Context, events []RewardEvent) (int, error)
}

type ViewConfig struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	RPC             LedgerRPC
	Store           EventStore
	SourceWallet    solana.PublicKey
	RefreshInterval time.Duration

	PageLimit           int
	ChunkSize           int
	RentCeilingLamports uint64
	Retry               retry.Config
}

func (cfg *ViewConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.SourceWallet.IsZero() {
		return errors.New("source wallet is required")
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.RentCeilingLamports == 0 {
		cfg.RentCeilingLamports = DefaultRentCeilingLamports
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Config{
			MaxAttempts: 4,
			BaseBackoff: 500 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
			Strategy:    retry.Linear,
		}
	}
	return nil
}

// View walks the source wallet's transaction history backward from the
// chain tip, extracts reward events, and keeps the Postgres tables
// current. Restarts resume from the stored cursor.
type View struct {
	log       *slog.Logger
	cfg       ViewConfig
	refreshMu sync.Mutex

	readyOnce sync.Once
	readyCh   chan struct{}
}

func NewView(cfg ViewConfig) (*View, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &View{
		log:     cfg.Logger,
		cfg:     cfg,
		readyCh: make(chan struct{}),
	}, nil
}

func (v *View) Ready() bool {
	select {
	case <-v.readyCh:
		return true
	default:
		return false
	}
}

func (v *View) WaitReady(ctx context.Context) error {
	select {
	case <-v.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for indexer view: %w", ctx.Err())
	}
}

func (v *View) Start(ctx context.Context) {
	go func() {
		v.log.Info("indexer: starting refresh loop", "interval", v.cfg.RefreshInterval, "source", v.cfg.SourceWallet)

		v.safeRun(ctx)

		ticker := v.cfg.Clock.NewTicker(v.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				v.safeRun(ctx)
			}
		}
	}()
}

func (v *View) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("indexer: run panicked", "panic", r)
			metrics.IndexerRunTotal.WithLabelValues("panic").Inc()
		}
	}()

	if err := v.RunOnce(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		v.log.Error("indexer: run failed", "error", err)
	}
}

// RunOnce indexes everything between the stored cursor and the current
// chain tip. Events are committed per transaction and the cursor only
// advances past durably committed work, so an interrupted run never
// loses or double-counts an event.
func (v *View) RunOnce(ctx context.Context) error {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	runStart := time.Now()
	v.log.Debug("indexer: run started")
	defer func() {
		duration := time.Since(runStart)
		v.log.Info("indexer: run completed", "duration", duration.String())
		metrics.IndexerRunDuration.Observe(duration.Seconds())
	}()

	source := v.cfg.SourceWallet.String()
	cursor, err := v.cfg.Store.GetCursor(ctx, source)
	if err != nil {
		metrics.IndexerRunTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to load cursor: %w", err)
	}

	sigs, err := v.collectNewSignatures(ctx, cursor)
	if err != nil {
		metrics.IndexerRunTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to collect signatures: %w", err)
	}
	if len(sigs) == 0 {
		v.markReady()
		metrics.IndexerRunTotal.WithLabelValues("success").Inc()
		return nil
	}
	v.log.Info("indexer: found new transactions", "count", len(sigs))

	// Oldest first, so the cursor only ever moves forward.
	reverse(sigs)

	totalInserted := 0
	for start := 0; start < len(sigs); start += v.cfg.ChunkSize {
		end := start + v.cfg.ChunkSize
		if end > len(sigs) {
			end = len(sigs)
		}
		chunk := sigs[start:end]

		inserted, err := v.processChunk(ctx, chunk)
		if err != nil {
			metrics.IndexerRunTotal.WithLabelValues("error").Inc()
			return err
		}
		totalInserted += inserted

		newest := chunk[len(chunk)-1]
		if err := v.cfg.Store.UpsertCursor(ctx, Cursor{
			SourceWallet:  source,
			LastSignature: newest.Signature.String(),
			LastSlot:      newest.Slot,
		}); err != nil {
			metrics.IndexerRunTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("failed to advance cursor: %w", err)
		}
	}

	if totalInserted > 0 {
		metrics.IndexerEventsInserted.Add(float64(totalInserted))
		v.log.Info("indexer: inserted events", "count", totalInserted)
	}

	v.markReady()
	metrics.IndexerRunTotal.WithLabelValues("success").Inc()
	return nil
}

// collectNewSignatures pages backward from the chain tip until it
// reaches the stored cursor or the start of history. The result is
// newest first.
func (v *View) collectNewSignatures(ctx context.Context, cursor *Cursor) ([]*solanarpc.TransactionSignature, error) {
	var all []*solanarpc.TransactionSignature
	var before solana.Signature

	for {
		var page []*solanarpc.TransactionSignature
		err := retry.Do(ctx, v.cfg.Retry, func() error {
			var err error
			page, err = v.cfg.RPC.GetSignaturesPage(ctx, v.cfg.SourceWallet, before, v.cfg.PageLimit)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch signature page: %w", err)
		}
		if len(page) == 0 {
			return all, nil
		}

		for _, sig := range page {
			if cursor != nil && sig.Signature.String() == cursor.LastSignature {
				return all, nil
			}
			all = append(all, sig)
		}

		if len(page) < v.cfg.PageLimit {
			return all, nil
		}
		before = page[len(page)-1].Signature
	}
}

// processChunk resolves a chunk of signatures into full transactions
// and commits each transaction's events atomically. Signatures the RPC
// marked failed are skipped without resolution.
func (v *View) processChunk(ctx context.Context, chunk []*solanarpc.TransactionSignature) (int, error) {
	inserted := 0
	for _, sigInfo := range chunk {
		if sigInfo.Err != nil {
			// Failed on chain, nothing to index.
			continue
		}

		var res *solanarpc.GetTransactionResult
		err := retry.Do(ctx, v.cfg.Retry, func() error {
			var err error
			res, err = v.cfg.RPC.GetTransaction(ctx, sigInfo.Signature)
			return err
		})
		if err != nil {
			return inserted, fmt.Errorf("failed to resolve transaction %s: %w", sigInfo.Signature, err)
		}

		summary, err := Summarize(sigInfo.Signature, res)
		if err != nil {
			v.log.Warn("indexer: skipping unparseable transaction", "signature", sigInfo.Signature, "error", err)
			continue
		}

		events := Classify(summary, v.cfg.SourceWallet, v.cfg.RentCeilingLamports)
		if len(events) == 0 {
			continue
		}

		n, err := v.cfg.Store.CommitTransaction(ctx, events)
		if err != nil {
			return inserted, fmt.Errorf("failed to commit events for %s: %w", sigInfo.Signature, err)
		}
		inserted += n
	}
	return inserted, nil
}

func (v *View) markReady() {
	v.readyOnce.Do(func() {
		close(v.readyCh)
		v.log.Info("indexer: view is now ready")
	})
}

func reverse(sigs []*solanarpc.TransactionSignature) {
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
}
