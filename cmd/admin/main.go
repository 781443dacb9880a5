package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/halolabs/reflector/pkg/pg"
	"github.com/halolabs/reflector/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Postgres configuration
	pgHostFlag := flag.String("pg-host", "localhost", "Postgres host (or set PG_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "Postgres port (or set PG_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "reflector", "Postgres database (or set PG_DATABASE env var)")
	pgUsernameFlag := flag.String("pg-username", "reflector", "Postgres username (or set PG_USERNAME env var)")
	pgPasswordFlag := flag.String("pg-password", "", "Postgres password (or set PG_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "Postgres sslmode")

	// Commands
	migrateFlag := flag.Bool("migrate", false, "Run database migrations using goose")
	migrateDownFlag := flag.Bool("migrate-down", false, "Roll back the most recent migration")
	migrateStatusFlag := flag.Bool("migrate-status", false, "Show database migration status")

	flag.Parse()

	log := logger.New(*verboseFlag)

	_ = godotenv.Load()
	for env, target := range map[string]*string{
		"PG_HOST":     pgHostFlag,
		"PG_PORT":     pgPortFlag,
		"PG_DATABASE": pgDatabaseFlag,
		"PG_USERNAME": pgUsernameFlag,
		"PG_PASSWORD": pgPasswordFlag,
	} {
		if v := os.Getenv(env); v != "" {
			*target = v
		}
	}

	cfg := pg.Config{
		Logger:   log,
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}

	switch {
	case *migrateFlag:
		return pg.MigrateUp(context.Background(), log, cfg.ConnStr())
	case *migrateDownFlag:
		return pg.MigrateDown(context.Background(), log, cfg.ConnStr())
	case *migrateStatusFlag:
		return pg.MigrateStatus(context.Background(), log, cfg.ConnStr())
	}

	flag.Usage()
	return nil
}
