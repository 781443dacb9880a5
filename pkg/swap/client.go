package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/halolabs/reflector/utils/pkg/retry"
)

// Config configures the swap service client.
type Config struct {
	Logger      *slog.Logger
	BaseURL     string
	SourceAsset string
	DestAsset   string

	// DestinationWallet receives the swap proceeds.
	DestinationWallet solana.PublicKey

	HTTPTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		return errors.New("base url is required")
	}
	if cfg.SourceAsset == "" {
		return errors.New("source asset is required")
	}
	if cfg.DestAsset == "" {
		return errors.New("dest asset is required")
	}
	if cfg.DestinationWallet.IsZero() {
		return errors.New("destination wallet is required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 2 * time.Minute
	}
	return nil
}

// Client talks to the external swap service. The cycle only depends on
// the boolean outcome and the reported proceeds; routing is the swap
// service's business.
type Client struct {
	log  *slog.Logger
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log:  cfg.Logger,
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

type swapRequest struct {
	SourceAsset       string `json:"sourceAsset"`
	Amount            uint64 `json:"amount"`
	DestAsset         string `json:"destAsset"`
	DestinationWallet string `json:"destinationWallet"`
}

type swapResponse struct {
	Success  bool   `json:"success"`
	TxRef    string `json:"txRef"`
	Proceeds uint64 `json:"proceeds"`
	Error    string `json:"error"`
}

// Swap converts amount raw units of the source asset and returns the
// settlement proceeds credited to the destination wallet.
func (c *Client) Swap(ctx context.Context, amount uint64) (uint64, string, error) {
	body, err := json.Marshal(swapRequest{
		SourceAsset:       c.cfg.SourceAsset,
		Amount:            amount,
		DestAsset:         c.cfg.DestAsset,
		DestinationWallet: c.cfg.DestinationWallet.String(),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal swap request: %w", err)
	}

	var out swapResponse
	retryCfg := retry.DefaultConfig()
	err = retry.Do(ctx, retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/swap", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return &httpStatusError{code: resp.StatusCode, body: string(payload)}
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return 0, "", fmt.Errorf("swap request failed: %w", err)
	}
	if !out.Success {
		return 0, "", fmt.Errorf("swap rejected: %s", out.Error)
	}

	c.log.Info("swap: conversion complete", "amount", amount, "proceeds", out.Proceeds, "tx_ref", out.TxRef)
	return out.Proceeds, out.TxRef, nil
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("swap service returned %d: %s", e.code, e.body)
}

func (e *httpStatusError) StatusCode() int { return e.code }
