package sol

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// MaxTransfersPerBatch is the hard ceiling on transfer instructions in
// one transaction. Past this point the serialized message exceeds the
// 1232-byte packet limit once the signature and account table are
// accounted for.
const MaxTransfersPerBatch = 12

// Token instruction discriminators used by the raw builders below.
const (
	tokenInstrTransferChecked      = 12
	tokenInstrBurnChecked          = 15
	tokenInstrTransferFeeExtension = 26

	// TransferFeeExtension sub-instruction
	transferFeeWithdrawFromAccounts = 3
)

// SenderConfig holds the transaction sender configuration.
type SenderConfig struct {
	Logger       *slog.Logger
	Client       *Client
	Signer       solana.PrivateKey
	Mint         solana.PublicKey
	Decimals     uint8
	TokenProgram solana.PublicKey
}

func (cfg *SenderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Signer == nil {
		return errors.New("signer is required")
	}
	if cfg.Mint.IsZero() {
		return errors.New("mint is required")
	}
	if cfg.TokenProgram.IsZero() {
		cfg.TokenProgram = Token2022ProgramID
	}
	return nil
}

// Sender builds and submits the on-chain transfer, burn, and fee
// withdrawal transactions for a single signing wallet.
type Sender struct {
	log *slog.Logger
	cfg SenderConfig

	sourceATA solana.PublicKey
}

// NewSender creates a transaction sender for the configured mint and signer.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sourceATA, err := DeriveAssociatedTokenAccount(cfg.Signer.PublicKey(), cfg.Mint, cfg.TokenProgram)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source token account: %w", err)
	}
	return &Sender{
		log:       cfg.Logger,
		cfg:       cfg,
		sourceATA: sourceATA,
	}, nil
}

// Wallet returns the sender's signing wallet address.
func (s *Sender) Wallet() solana.PublicKey {
	return s.cfg.Signer.PublicKey()
}

// SourceTokenAccount returns the sender's token account for the mint.
func (s *Sender) SourceTokenAccount() solana.PublicKey {
	return s.sourceATA
}

// TokenTransfer is one outbound transfer of the mint to a holder wallet.
type TokenTransfer struct {
	Dest   solana.PublicKey
	Amount uint64
}

// SendTokenBatch submits one transaction carrying a TransferChecked
// instruction per transfer and waits for confirmation.
func (s *Sender) SendTokenBatch(ctx context.Context, transfers []TokenTransfer) (solana.Signature, error) {
	if len(transfers) == 0 {
		return solana.Signature{}, errors.New("empty transfer batch")
	}
	if len(transfers) > MaxTransfersPerBatch {
		return solana.Signature{}, fmt.Errorf("batch of %d exceeds wire ceiling of %d transfers", len(transfers), MaxTransfersPerBatch)
	}

	instructions := make([]solana.Instruction, 0, len(transfers))
	for _, tr := range transfers {
		destATA, err := DeriveAssociatedTokenAccount(tr.Dest, s.cfg.Mint, s.cfg.TokenProgram)
		if err != nil {
			return solana.Signature{}, fmt.Errorf("failed to derive token account for %s: %w", tr.Dest, err)
		}
		instructions = append(instructions, s.transferCheckedInstruction(destATA, tr.Amount))
	}

	sig, err := s.cfg.Client.SendAndConfirm(ctx, instructions, s.cfg.Signer)
	if err != nil {
		return sig, fmt.Errorf("failed to send token batch of %d: %w", len(transfers), err)
	}
	return sig, nil
}

// SendNativeBatch submits one transaction carrying a system transfer per
// lamport payout and waits for confirmation.
func (s *Sender) SendNativeBatch(ctx context.Context, transfers []TokenTransfer) (solana.Signature, error) {
	if len(transfers) == 0 {
		return solana.Signature{}, errors.New("empty transfer batch")
	}
	if len(transfers) > MaxTransfersPerBatch {
		return solana.Signature{}, fmt.Errorf("batch of %d exceeds wire ceiling of %d transfers", len(transfers), MaxTransfersPerBatch)
	}

	instructions := make([]solana.Instruction, 0, len(transfers))
	for _, tr := range transfers {
		instructions = append(instructions, system.NewTransferInstruction(
			tr.Amount,
			s.cfg.Signer.PublicKey(),
			tr.Dest,
		).Build())
	}

	sig, err := s.cfg.Client.SendAndConfirm(ctx, instructions, s.cfg.Signer)
	if err != nil {
		return sig, fmt.Errorf("failed to send native batch of %d: %w", len(transfers), err)
	}
	return sig, nil
}

// Send issues a single settlement transfer to dest.
func (s *Sender) Send(ctx context.Context, dest solana.PublicKey, amount uint64) (solana.Signature, error) {
	return s.SendNativeBatch(ctx, []TokenTransfer{{Dest: dest, Amount: amount}})
}

// Burn destroys amount raw units from the sender's token account,
// reducing supply irreversibly.
func (s *Sender) Burn(ctx context.Context, amount uint64) (solana.Signature, error) {
	if amount == 0 {
		return solana.Signature{}, errors.New("burn amount must be greater than 0")
	}

	data := make([]byte, 10)
	data[0] = tokenInstrBurnChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = s.cfg.Decimals

	instr := solana.NewInstruction(
		s.cfg.TokenProgram,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(s.sourceATA, true, false),
			solana.NewAccountMeta(s.cfg.Mint, true, false),
			solana.NewAccountMeta(s.cfg.Signer.PublicKey(), false, true),
		},
		data,
	)

	sig, err := s.cfg.Client.SendAndConfirm(ctx, []solana.Instruction{instr}, s.cfg.Signer)
	if err != nil {
		return sig, fmt.Errorf("failed to burn %d raw units: %w", amount, err)
	}
	return sig, nil
}

// WithdrawWithheld collects accrued transfer fees from the given token
// accounts into the sender's token account. The caller batches accounts
// to respect the wire ceiling.
func (s *Sender) WithdrawWithheld(ctx context.Context, accounts []solana.PublicKey) (solana.Signature, error) {
	if len(accounts) == 0 {
		return solana.Signature{}, errors.New("no fee accounts to withdraw from")
	}

	data := []byte{tokenInstrTransferFeeExtension, transferFeeWithdrawFromAccounts, byte(len(accounts))}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(s.cfg.Mint, false, false),
		solana.NewAccountMeta(s.sourceATA, true, false),
		solana.NewAccountMeta(s.cfg.Signer.PublicKey(), false, true),
	}
	for _, acc := range accounts {
		metas = append(metas, solana.NewAccountMeta(acc, true, false))
	}

	instr := solana.NewInstruction(s.cfg.TokenProgram, metas, data)

	sig, err := s.cfg.Client.SendAndConfirm(ctx, []solana.Instruction{instr}, s.cfg.Signer)
	if err != nil {
		return sig, fmt.Errorf("failed to withdraw withheld fees from %d accounts: %w", len(accounts), err)
	}
	return sig, nil
}

func (s *Sender) transferCheckedInstruction(destATA solana.PublicKey, amount uint64) solana.Instruction {
	data := make([]byte, 10)
	data[0] = tokenInstrTransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = s.cfg.Decimals

	return solana.NewInstruction(
		s.cfg.TokenProgram,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(s.sourceATA, true, false),
			solana.NewAccountMeta(s.cfg.Mint, false, false),
			solana.NewAccountMeta(destATA, true, false),
			solana.NewAccountMeta(s.cfg.Signer.PublicKey(), false, true),
		},
		data,
	)
}

// DeriveAssociatedTokenAccount derives the associated token account for
// a wallet, mint, and token program.
func DeriveAssociatedTokenAccount(wallet, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			wallet.Bytes(),
			tokenProgram.Bytes(),
			mint.Bytes(),
		},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token account: %w", err)
	}
	return addr, nil
}
