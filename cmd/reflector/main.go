package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/halolabs/reflector/pkg/indexer"
	"github.com/halolabs/reflector/pkg/jackpot"
	"github.com/halolabs/reflector/pkg/metrics"
	"github.com/halolabs/reflector/pkg/notify"
	"github.com/halolabs/reflector/pkg/pg"
	"github.com/halolabs/reflector/pkg/rewards"
	"github.com/halolabs/reflector/pkg/server"
	"github.com/halolabs/reflector/pkg/sol"
	"github.com/halolabs/reflector/pkg/swap"
	"github.com/halolabs/reflector/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", "0.0.0.0:8080", "HTTP listen address")

	// Solana
	rpcEndpointFlag := flag.String("rpc-endpoint", "", "Solana RPC endpoint (or set RPC_ENDPOINT env var)")
	rpcRateFlag := flag.Float64("rpc-rate", 10, "Max RPC requests per second")
	mintFlag := flag.String("mint", "", "Token mint address (or set MINT env var)")
	keypairFlag := flag.String("keypair", "", "Path to distributor wallet keypair file (or set KEYPAIR_PATH env var)")
	jackpotKeypairFlag := flag.String("jackpot-keypair", "", "Path to jackpot wallet keypair file (defaults to the distributor keypair)")

	// Postgres
	pgHostFlag := flag.String("pg-host", "localhost", "Postgres host (or set PG_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "Postgres port (or set PG_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "reflector", "Postgres database (or set PG_DATABASE env var)")
	pgUsernameFlag := flag.String("pg-username", "reflector", "Postgres username (or set PG_USERNAME env var)")
	pgPasswordFlag := flag.String("pg-password", "", "Postgres password (or set PG_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "Postgres sslmode")
	migrateFlag := flag.Bool("migrate", false, "Run database migrations on startup")

	// Distribution cycle
	treasuryWalletFlag := flag.String("treasury-wallet", "", "Treasury wallet address")
	jackpotWalletFlag := flag.String("jackpot-wallet", "", "Jackpot wallet address")
	excludeWalletsFlag := flag.StringSlice("exclude-wallets", nil, "Additional wallets excluded from snapshots")
	burnPercentFlag := flag.Uint64("burn-percent", 10, "Percent of collected fees to burn")
	jackpotPercentFlag := flag.Uint64("jackpot-percent", 10, "Percent of proceeds sent to the jackpot wallet")
	treasuryPercentFlag := flag.Uint64("treasury-percent", 10, "Percent of proceeds sent to the treasury wallet")
	minShareFlag := flag.Uint64("min-share", 1000, "Minimum per-holder share in raw settlement units")
	thresholdFlag := flag.Uint64("accumulation-threshold", 1_000_000, "Raw token balance below which a cycle accumulates instead of distributing")
	batchSizeFlag := flag.Int("batch-size", sol.MaxTransfersPerBatch, "Transfers per disbursement batch")
	cycleIntervalFlag := flag.Duration("cycle-interval", 30*time.Minute, "Distribution cycle interval")

	// Jackpot
	drawIntervalFlag := flag.Duration("draw-interval", 24*time.Hour, "Jackpot draw interval")
	oldSharePctFlag := flag.Uint64("jackpot-old-share", 70, "Percent of the prize for the standing-pool winner")
	newSharePctFlag := flag.Uint64("jackpot-new-share", 30, "Percent of the prize for the new-holder winner")
	minPrizeFlag := flag.Uint64("jackpot-min-prize", 10_000_000, "Minimum prize balance in lamports to run a draw")

	// Indexer
	indexIntervalFlag := flag.Duration("index-interval", 1*time.Minute, "Indexer refresh interval")
	rentCeilingFlag := flag.Uint64("rent-ceiling", indexer.DefaultRentCeilingLamports, "Lamport ceiling under which co-occurring native transfers are treated as rent")
	usdcMintFlag := flag.String("usdc-mint", "", "USDC mint address for the usdc totals column")

	// Swap service
	swapURLFlag := flag.String("swap-url", "", "Swap service base URL (or set SWAP_URL env var)")
	swapDestAssetFlag := flag.String("swap-dest-asset", "SOL", "Settlement asset the swap service delivers")

	// Slack
	slackChannelFlag := flag.String("slack-channel", "", "Slack channel for audit notifications (or set SLACK_CHANNEL env var)")

	flag.Parse()

	// Secrets and deploy-specific settings come from the environment,
	// optionally via a local .env file.
	_ = godotenv.Load()
	for env, target := range map[string]*string{
		"RPC_ENDPOINT":  rpcEndpointFlag,
		"MINT":          mintFlag,
		"KEYPAIR_PATH":  keypairFlag,
		"PG_HOST":       pgHostFlag,
		"PG_PORT":       pgPortFlag,
		"PG_DATABASE":   pgDatabaseFlag,
		"PG_USERNAME":   pgUsernameFlag,
		"PG_PASSWORD":   pgPasswordFlag,
		"SWAP_URL":      swapURLFlag,
		"SLACK_CHANNEL": slackChannelFlag,
	} {
		if v := os.Getenv(env); v != "" {
			*target = v
		}
	}

	log := logger.New(*verboseFlag)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mint, err := solana.PublicKeyFromBase58(*mintFlag)
	if err != nil {
		return fmt.Errorf("invalid mint address %q: %w", *mintFlag, err)
	}
	treasuryWallet, err := solana.PublicKeyFromBase58(*treasuryWalletFlag)
	if err != nil {
		return fmt.Errorf("invalid treasury wallet %q: %w", *treasuryWalletFlag, err)
	}
	jackpotWallet, err := solana.PublicKeyFromBase58(*jackpotWalletFlag)
	if err != nil {
		return fmt.Errorf("invalid jackpot wallet %q: %w", *jackpotWalletFlag, err)
	}
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(*keypairFlag)
	if err != nil {
		return fmt.Errorf("failed to load keypair: %w", err)
	}
	jackpotSigner := signer
	if *jackpotKeypairFlag != "" {
		jackpotSigner, err = solana.PrivateKeyFromSolanaKeygenFile(*jackpotKeypairFlag)
		if err != nil {
			return fmt.Errorf("failed to load jackpot keypair: %w", err)
		}
	}

	exclude := []solana.PublicKey{signer.PublicKey(), treasuryWallet, jackpotWallet}
	for _, raw := range *excludeWalletsFlag {
		w, err := solana.PublicKeyFromBase58(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid exclude wallet %q: %w", raw, err)
		}
		exclude = append(exclude, w)
	}

	// Postgres.
	pgCfg := pg.Config{
		Logger:   log,
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}
	if *migrateFlag {
		if err := pg.MigrateUp(ctx, log, pgCfg.ConnStr()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	pool, err := pg.NewPool(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	store, err := indexer.NewStore(indexer.StoreConfig{
		Logger:   log,
		Pool:     pool,
		USDCMint: *usdcMintFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	// Solana RPC.
	client, err := sol.NewClient(sol.Config{
		Logger:         log,
		Endpoint:       *rpcEndpointFlag,
		RequestsPerSec: *rpcRateFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create rpc client: %w", err)
	}
	_, decimals, err := client.GetTokenSupply(ctx, mint)
	if err != nil {
		return fmt.Errorf("failed to read mint supply: %w", err)
	}
	sender, err := sol.NewSender(sol.SenderConfig{
		Logger:       log,
		Client:       client,
		Signer:       signer,
		Mint:         mint,
		Decimals:     decimals,
		TokenProgram: sol.Token2022ProgramID,
	})
	if err != nil {
		return fmt.Errorf("failed to create sender: %w", err)
	}
	jackpotSender := sender
	if !jackpotSigner.PublicKey().Equals(signer.PublicKey()) {
		jackpotSender, err = sol.NewSender(sol.SenderConfig{
			Logger:       log,
			Client:       client,
			Signer:       jackpotSigner,
			Mint:         mint,
			Decimals:     decimals,
			TokenProgram: sol.Token2022ProgramID,
		})
		if err != nil {
			return fmt.Errorf("failed to create jackpot sender: %w", err)
		}
	}

	// Notifications.
	var notifier rewards.Notifier = notify.NopNotifier{}
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" && *slackChannelFlag != "" {
		slackNotifier, err := notify.NewSlackNotifier(notify.SlackConfig{
			Logger:   log,
			BotToken: token,
			Channel:  *slackChannelFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to create slack notifier: %w", err)
		}
		notifier = slackNotifier
	}

	// Swap collaborator.
	swapClient, err := swap.NewClient(swap.Config{
		Logger:            log,
		BaseURL:           *swapURLFlag,
		SourceAsset:       mint.String(),
		DestAsset:         *swapDestAssetFlag,
		DestinationWallet: signer.PublicKey(),
	})
	if err != nil {
		return fmt.Errorf("failed to create swap client: %w", err)
	}

	// Distribution cycle.
	collector, err := rewards.NewCollector(rewards.CollectorConfig{
		Logger:       log,
		RPC:          client,
		Withdrawer:   sender,
		Mint:         mint,
		TokenProgram: sol.Token2022ProgramID,
	})
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}
	snapshot, err := rewards.NewSnapshotReader(rewards.SnapshotConfig{
		Logger:       log,
		RPC:          client,
		Mint:         mint,
		TokenProgram: sol.Token2022ProgramID,
		Exclude:      exclude,
	})
	if err != nil {
		return fmt.Errorf("failed to create snapshot reader: %w", err)
	}
	executor, err := rewards.NewExecutor(rewards.ExecutorConfig{
		Logger:    log,
		Sender:    nativeBatchSender{sender},
		Notifier:  notifier,
		BatchSize: *batchSizeFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}
	orchestrator, err := rewards.NewOrchestrator(rewards.OrchestratorConfig{
		Logger:    log,
		Collector: collector,
		Balance: balanceFunc(func(ctx context.Context) (uint64, error) {
			return client.GetTokenAccountBalance(ctx, sender.SourceTokenAccount())
		}),
		Burner:                sender,
		Swapper:               swapClient,
		Snapshot:              snapshot,
		Executor:              executor,
		Direct:                sender,
		Registry:              store,
		Notifier:              notifier,
		AccumulationThreshold: *thresholdFlag,
		BurnPercent:           *burnPercentFlag,
		JackpotPercent:        *jackpotPercentFlag,
		TreasuryPercent:       *treasuryPercentFlag,
		MinShare:              *minShareFlag,
		TreasuryWallet:        treasuryWallet,
		JackpotWallet:         jackpotWallet,
		CycleInterval:         *cycleIntervalFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// Jackpot draw.
	runner, err := jackpot.NewRunner(jackpot.RunnerConfig{
		Logger:   log,
		Holders:  store,
		Snapshot: snapshot,
		Balance: balanceFunc(func(ctx context.Context) (uint64, error) {
			return client.GetBalance(ctx, jackpotWallet)
		}),
		Payer:        jackpotSender,
		Notifier:     notifier,
		OldSharePct:  *oldSharePctFlag,
		NewSharePct:  *newSharePctFlag,
		MinPrize:     *minPrizeFlag,
		DrawInterval: *drawIntervalFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create jackpot runner: %w", err)
	}

	// Ledger indexer.
	view, err := indexer.NewView(indexer.ViewConfig{
		Logger:              log,
		RPC:                 client,
		Store:               store,
		SourceWallet:        signer.PublicKey(),
		RefreshInterval:     *indexIntervalFlag,
		RentCeilingLamports: *rentCeilingFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create indexer view: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:     log,
		ListenAddr: *listenAddrFlag,
		VersionInfo: server.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
		View:   view,
		Totals: store,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("reflector: starting",
		"version", version,
		"mint", mint,
		"wallet", signer.PublicKey(),
		"listen_addr", *listenAddrFlag)

	orchestrator.Start(ctx)
	runner.Start(ctx)
	view.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	return g.Wait()
}

// nativeBatchSender adapts the settlement sender to the executor's
// batch interface.
type nativeBatchSender struct {
	s *sol.Sender
}

func (n nativeBatchSender) SendBatch(ctx context.Context, transfers []sol.TokenTransfer) (solana.Signature, error) {
	return n.s.SendNativeBatch(ctx, transfers)
}

type balanceFunc func(ctx context.Context) (uint64, error)

func (f balanceFunc) Balance(ctx context.Context) (uint64, error) { return f(ctx) }
