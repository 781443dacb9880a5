package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/halolabs/reflector/pkg/sol"
)

// SnapshotRPC is the subset of the RPC client the snapshot reader uses.
type SnapshotRPC interface {
	GetTokenHolders(ctx context.Context, mint, tokenProgram solana.PublicKey) ([]sol.TokenHolder, error)
	GetTokenSupply(ctx context.Context, mint solana.PublicKey) (uint64, uint8, error)
}

// SnapshotConfig holds the holder snapshot reader configuration.
type SnapshotConfig struct {
	Logger       *slog.Logger
	RPC          SnapshotRPC
	Mint         solana.PublicKey
	TokenProgram solana.PublicKey

	// Exclude lists system wallets that must never appear in a
	// snapshot: treasury, burn address, fee collector, pool vaults,
	// and the distributor wallet itself.
	Exclude []solana.PublicKey
}

func (cfg *SnapshotConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Mint.IsZero() {
		return errors.New("mint is required")
	}
	if cfg.TokenProgram.IsZero() {
		cfg.TokenProgram = sol.Token2022ProgramID
	}
	return nil
}

// SnapshotReader enumerates current (owner, balance) pairs for the mint.
type SnapshotReader struct {
	log      *slog.Logger
	cfg      SnapshotConfig
	excluded map[solana.PublicKey]struct{}
}

// NewSnapshotReader creates a holder snapshot reader.
func NewSnapshotReader(cfg SnapshotConfig) (*SnapshotReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	excluded := make(map[solana.PublicKey]struct{}, len(cfg.Exclude))
	for _, pk := range cfg.Exclude {
		excluded[pk] = struct{}{}
	}
	return &SnapshotReader{
		log:      cfg.Logger,
		cfg:      cfg,
		excluded: excluded,
	}, nil
}

// Read takes a fresh holder snapshot. Balances are aggregated per owner
// since a wallet may hold the mint across multiple token accounts.
func (r *SnapshotReader) Read(ctx context.Context) (Snapshot, error) {
	supply, _, err := r.cfg.RPC.GetTokenSupply(ctx, r.cfg.Mint)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to fetch token supply: %w", err)
	}

	accounts, err := r.cfg.RPC.GetTokenHolders(ctx, r.cfg.Mint, r.cfg.TokenProgram)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to fetch token holders: %w", err)
	}

	byOwner := make(map[solana.PublicKey]uint64, len(accounts))
	for _, acc := range accounts {
		if _, ok := r.excluded[acc.Owner]; ok {
			continue
		}
		byOwner[acc.Owner] += acc.Amount
	}

	holders := make([]Holder, 0, len(byOwner))
	for owner, balance := range byOwner {
		holders = append(holders, Holder{Owner: owner, RawBalance: balance})
	}

	r.log.Debug("rewards: snapshot taken", "holders", len(holders), "supply", supply)
	return Snapshot{Holders: holders, Supply: supply}, nil
}
