package sol

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// Token2022ProgramID is the SPL Token-2022 program, which carries the
// transfer-fee extension used by the reflected mint.
var Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

// tokenAccountMinLen covers mint(32) + owner(32) + amount(8). Token-2022
// accounts carry extension TLVs past the base layout, so only a minimum
// length check applies.
const tokenAccountMinLen = 72

// Config holds the RPC client configuration.
type Config struct {
	Logger         *slog.Logger
	Endpoint       string
	RequestsPerSec float64
	Commitment     solanarpc.CommitmentType
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Endpoint == "" {
		return errors.New("rpc endpoint is required")
	}
	if cfg.RequestsPerSec == 0 {
		cfg.RequestsPerSec = 10
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentConfirmed
	}
	return nil
}

// Client is a rate-limited wrapper around the Solana JSON-RPC client.
type Client struct {
	log     *slog.Logger
	cfg     Config
	rpc     *solanarpc.Client
	limiter *rate.Limiter
}

// NewClient creates a new rate-limited RPC client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log:     cfg.Logger,
		cfg:     cfg,
		rpc:     solanarpc.New(cfg.Endpoint),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	return nil
}

// GetSignaturesPage returns up to limit signatures for the address,
// paging backward from before (zero value means most recent).
func (c *Client) GetSignaturesPage(ctx context.Context, address solana.PublicKey, before solana.Signature, limit int) ([]*solanarpc.TransactionSignature, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	opts := &solanarpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: c.cfg.Commitment,
	}
	if !before.IsZero() {
		opts.Before = before
	}
	sigs, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, address, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get signatures for %s: %w", address, err)
	}
	return sigs, nil
}

// GetTransaction fetches a transaction with metadata.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*solanarpc.GetTransactionResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &solanarpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.cfg.Commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}
	return out, nil
}

// TokenHolder is one (owner, amount) pair from a token account scan.
// Withheld carries the account's accrued transfer fee when the mint
// uses the Token-2022 transfer-fee extension.
type TokenHolder struct {
	Owner        solana.PublicKey
	TokenAccount solana.PublicKey
	Amount       uint64
	Withheld     uint64
}

// GetTokenHolders scans all token accounts of the mint under the given
// token program and returns their owners, raw balances, and withheld
// fee amounts. Accounts with neither balance nor withheld fees are
// skipped.
func (c *Client) GetTokenHolders(ctx context.Context, mint, tokenProgram solana.PublicKey) ([]TokenHolder, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.rpc.GetProgramAccountsWithOpts(ctx, tokenProgram, &solanarpc.GetProgramAccountsOpts{
		Commitment: c.cfg.Commitment,
		Encoding:   solana.EncodingBase64,
		Filters: []solanarpc.RPCFilter{
			{
				Memcmp: &solanarpc.RPCFilterMemcmp{
					Offset: 0,
					Bytes:  mint.Bytes(),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get token accounts for mint %s: %w", mint, err)
	}

	holders := make([]TokenHolder, 0, len(res))
	for _, acc := range res {
		data := acc.Account.Data.GetBinary()
		if len(data) < tokenAccountMinLen {
			c.log.Warn("sol: skipping short token account", "account", acc.Pubkey, "len", len(data))
			continue
		}
		owner := solana.PublicKeyFromBytes(data[32:64])
		amount := binary.LittleEndian.Uint64(data[64:72])
		withheld := parseWithheldAmount(data)
		if amount == 0 && withheld == 0 {
			continue
		}
		holders = append(holders, TokenHolder{
			Owner:        owner,
			TokenAccount: acc.Pubkey,
			Amount:       amount,
			Withheld:     withheld,
		})
	}
	return holders, nil
}

// Token-2022 account data past the 165-byte base layout: one account
// type byte, then TLV extension entries of (type u16 LE, length u16 LE,
// value).
const (
	tokenAccountBaseLen       = 165
	extensionTransferFeeAmount = 2
)

// parseWithheldAmount extracts the transfer-fee extension's withheld
// amount from raw Token-2022 account data, or 0 when absent.
func parseWithheldAmount(data []byte) uint64 {
	if len(data) <= tokenAccountBaseLen+1 {
		return 0
	}
	tlv := data[tokenAccountBaseLen+1:]
	for len(tlv) >= 4 {
		extType := binary.LittleEndian.Uint16(tlv[0:2])
		extLen := int(binary.LittleEndian.Uint16(tlv[2:4]))
		if len(tlv) < 4+extLen {
			return 0
		}
		if extType == extensionTransferFeeAmount && extLen >= 8 {
			return binary.LittleEndian.Uint64(tlv[4:12])
		}
		tlv = tlv[4+extLen:]
	}
	return 0
}

// GetTokenSupply returns the raw supply and decimals of the mint.
func (c *Client) GetTokenSupply(ctx context.Context, mint solana.PublicKey) (uint64, uint8, error) {
	if err := c.wait(ctx); err != nil {
		return 0, 0, err
	}
	res, err := c.rpc.GetTokenSupply(ctx, mint, c.cfg.Commitment)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get token supply for %s: %w", mint, err)
	}
	if res == nil || res.Value == nil {
		return 0, 0, fmt.Errorf("empty token supply result for %s", mint)
	}
	supply, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse token supply %q: %w", res.Value.Amount, err)
	}
	return supply, res.Value.Decimals, nil
}

// GetBalance returns the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	res, err := c.rpc.GetBalance(ctx, address, c.cfg.Commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance for %s: %w", address, err)
	}
	return res.Value, nil
}

// GetTokenAccountBalance returns the raw balance of a token account.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	res, err := c.rpc.GetTokenAccountBalance(ctx, account, c.cfg.Commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get token account balance for %s: %w", account, err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("empty token account balance result for %s", account)
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token balance %q: %w", res.Value.Amount, err)
	}
	return amount, nil
}

// SendAndConfirm signs, submits, and waits for confirmation of a
// transaction built from the given instructions.
func (c *Client) SendAndConfirm(ctx context.Context, instructions []solana.Instruction, payer solana.PrivateKey) (solana.Signature, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	recent, err := c.rpc.GetLatestBlockhash(ctx, c.cfg.Commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		PreflightCommitment: c.cfg.Commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	if err := c.confirm(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// confirm polls signature status until the configured commitment is
// reached or the context expires.
func (c *Client) confirm(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	deadline := time.Now().Add(90 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation cancelled for %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("confirmation timed out for %s", sig)
		}

		if err := c.wait(ctx); err != nil {
			return err
		}
		res, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			c.log.Debug("sol: signature status poll failed", "signature", sig, "error", err)
			continue
		}
		if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
			continue
		}
		status := res.Value[0]
		if status.Err != nil {
			return fmt.Errorf("transaction %s failed on chain: %v", sig, status.Err)
		}
		switch status.ConfirmationStatus {
		case solanarpc.ConfirmationStatusConfirmed, solanarpc.ConfirmationStatusFinalized:
			return nil
		}
	}
}
