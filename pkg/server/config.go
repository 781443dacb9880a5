package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/halolabs/reflector/pkg/indexer"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// TotalsReader is the query surface the rewards endpoint reads from.
type TotalsReader interface {
	GetWalletTotals(ctx context.Context, wallet string) (*indexer.WalletTotals, error)
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo
	View              *indexer.View
	Totals            TotalsReader
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.View == nil {
		return errors.New("indexer view is required")
	}
	if cfg.Totals == nil {
		return errors.New("totals reader is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return nil
}
