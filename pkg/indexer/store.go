package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halolabs/reflector/pkg/metrics"
)

type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool

	// USDCMint designates the token mint whose events also roll into
	// the usdc_total_raw column of rewards_totals.
	USDCMint string

	// TokenSymbols maps mint addresses to display symbols stored in
	// rewards_token_totals. Unknown mints get an empty symbol.
	TokenSymbols map[string]string
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	return nil
}

// Store persists reward events, per-wallet running totals, and the
// indexer cursor in Postgres.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// GetCursor returns the stored cursor for the given source wallet, or
// nil when the wallet has never been indexed.
func (s *Store) GetCursor(ctx context.Context, sourceWallet string) (*Cursor, error) {
	var c Cursor
	var lastSlot int64
	err := s.cfg.Pool.QueryRow(ctx,
		`SELECT source_wallet, last_signature, last_slot, updated_at
		 FROM indexer_cursor WHERE source_wallet = $1`,
		sourceWallet,
	).Scan(&c.SourceWallet, &c.LastSignature, &lastSlot, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}
	metrics.DatabaseQueriesTotal.WithLabelValues("ok").Inc()
	c.LastSlot = uint64(lastSlot)
	return &c, nil
}

// UpsertCursor records the newest signature and slot the indexer has
// durably committed for the source wallet.
func (s *Store) UpsertCursor(ctx context.Context, c Cursor) error {
	_, err := s.cfg.Pool.Exec(ctx,
		`INSERT INTO indexer_cursor (source_wallet, last_signature, last_slot, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (source_wallet) DO UPDATE
		 SET last_signature = EXCLUDED.last_signature,
		     last_slot = EXCLUDED.last_slot,
		     updated_at = now()`,
		c.SourceWallet, c.LastSignature, int64(c.LastSlot),
	)
	if err != nil {
		metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to upsert cursor: %w", err)
	}
	metrics.DatabaseQueriesTotal.WithLabelValues("ok").Inc()
	return nil
}

// CommitTransaction inserts all reward events of one resolved
// transaction and applies them to running totals, atomically. Events
// that were already recorded are skipped and leave totals untouched,
// so replaying a page after a crash cannot double count.
func (s *Store) CommitTransaction(ctx context.Context, events []RewardEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.cfg.Pool.Begin(ctx)
	if err != nil {
		metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, ev := range events {
		tag, err := tx.Exec(ctx,
			`INSERT INTO rewards_events (signature, slot, block_time, wallet, asset_type, token_mint, amount_raw, decimals)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (signature, wallet, token_mint) DO NOTHING`,
			ev.Signature, int64(ev.Slot), ev.BlockTime, ev.Wallet,
			string(ev.AssetType), ev.TokenMint, int64(ev.AmountRaw), int16(ev.Decimals),
		)
		if err != nil {
			metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
			return 0, fmt.Errorf("failed to insert event %s/%s: %w", ev.Signature, ev.Wallet, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		inserted++

		if err := s.applyToTotals(ctx, tx, ev); err != nil {
			metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	metrics.DatabaseQueriesTotal.WithLabelValues("ok").Inc()
	return inserted, nil
}

func (s *Store) applyToTotals(ctx context.Context, tx pgx.Tx, ev RewardEvent) error {
	switch ev.AssetType {
	case AssetNative:
		_, err := tx.Exec(ctx,
			`INSERT INTO rewards_totals (wallet, sol_total_raw, last_updated)
			 VALUES ($1, $2, now())
			 ON CONFLICT (wallet) DO UPDATE
			 SET sol_total_raw = rewards_totals.sol_total_raw + EXCLUDED.sol_total_raw,
			     last_updated = now()`,
			ev.Wallet, int64(ev.AmountRaw),
		)
		if err != nil {
			return fmt.Errorf("failed to update native totals for %s: %w", ev.Wallet, err)
		}
		return nil

	case AssetToken:
		if ev.TokenMint == s.cfg.USDCMint && s.cfg.USDCMint != "" {
			_, err := tx.Exec(ctx,
				`INSERT INTO rewards_totals (wallet, usdc_total_raw, last_updated)
				 VALUES ($1, $2, now())
				 ON CONFLICT (wallet) DO UPDATE
				 SET usdc_total_raw = rewards_totals.usdc_total_raw + EXCLUDED.usdc_total_raw,
				     last_updated = now()`,
				ev.Wallet, int64(ev.AmountRaw),
			)
			if err != nil {
				return fmt.Errorf("failed to update usdc totals for %s: %w", ev.Wallet, err)
			}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO rewards_token_totals (wallet, token_mint, token_symbol, total_raw, decimals, last_updated)
			 VALUES ($1, $2, $3, $4, $5, now())
			 ON CONFLICT (wallet, token_mint) DO UPDATE
			 SET total_raw = rewards_token_totals.total_raw + EXCLUDED.total_raw,
			     token_symbol = EXCLUDED.token_symbol,
			     decimals = EXCLUDED.decimals,
			     last_updated = now()`,
			ev.Wallet, ev.TokenMint, s.cfg.TokenSymbols[ev.TokenMint],
			int64(ev.AmountRaw), int16(ev.Decimals),
		)
		if err != nil {
			return fmt.Errorf("failed to update token totals for %s: %w", ev.Wallet, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown asset type %q", ev.AssetType)
	}
}

// UpsertEligibleHolders adds wallets to the jackpot eligibility
// registry. Already registered wallets are left untouched.
func (s *Store) UpsertEligibleHolders(ctx context.Context, wallets []string) error {
	if len(wallets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, w := range wallets {
		batch.Queue(
			`INSERT INTO eligible_holders (wallet_address) VALUES ($1)
			 ON CONFLICT (wallet_address) DO NOTHING`, w)
	}
	res := s.cfg.Pool.SendBatch(ctx, batch)
	defer res.Close()
	for range wallets {
		if _, err := res.Exec(); err != nil {
			metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("failed to upsert eligible holders: %w", err)
		}
	}
	metrics.DatabaseQueriesTotal.WithLabelValues("ok").Inc()
	return nil
}

// ListEligibleHolders returns every wallet in the eligibility registry.
func (s *Store) ListEligibleHolders(ctx context.Context) ([]string, error) {
	rows, err := s.cfg.Pool.Query(ctx,
		`SELECT wallet_address FROM eligible_holders ORDER BY wallet_address`)
	if err != nil {
		metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list eligible holders: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("failed to scan eligible holder: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to iterate eligible holders: %w", err)
	}
	metrics.DatabaseQueriesTotal.WithLabelValues("ok").Inc()
	return wallets, nil
}

// GetWalletTotals returns the running reward totals for one wallet,
// or nil when the wallet has never received a reward.
func (s *Store) GetWalletTotals(ctx context.Context, wallet string) (*WalletTotals, error) {
	var t WalletTotals
	var solRaw, usdcRaw int64
	var lastUpdated time.Time
	err := s.cfg.Pool.QueryRow(ctx,
		`SELECT wallet, sol_total_raw, usdc_total_raw, last_updated
		 FROM rewards_totals WHERE wallet = $1`,
		wallet,
	).Scan(&t.Wallet, &solRaw, &usdcRaw, &lastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to read wallet totals: %w", err)
	}
	t.SolTotalRaw = uint64(solRaw)
	t.USDCTotalRaw = uint64(usdcRaw)
	t.LastUpdated = lastUpdated

	rows, err := s.cfg.Pool.Query(ctx,
		`SELECT token_mint, token_symbol, total_raw, decimals
		 FROM rewards_token_totals WHERE wallet = $1 ORDER BY token_mint`,
		wallet,
	)
	if err != nil {
		metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to read token totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tt TokenTotal
		var totalRaw int64
		var decimals int16
		tt.Wallet = wallet
		if err := rows.Scan(&tt.TokenMint, &tt.TokenSymbol, &totalRaw, &decimals); err != nil {
			return nil, fmt.Errorf("failed to scan token total: %w", err)
		}
		tt.TotalRaw = uint64(totalRaw)
		tt.Decimals = uint8(decimals)
		t.Tokens = append(t.Tokens, tt)
	}
	if err := rows.Err(); err != nil {
		metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to iterate token totals: %w", err)
	}
	metrics.DatabaseQueriesTotal.WithLabelValues("ok").Inc()
	return &t, nil
}

// CountEvents returns the number of stored reward events for a source
// signature, used by tests and the admin CLI.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.cfg.Pool.QueryRow(ctx, `SELECT count(*) FROM rewards_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
