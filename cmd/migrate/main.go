package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/cyroid/backend/internal/config"
	"github.com/cyroid/backend/internal/logger"
	"github.com/cyroid/backend/internal/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// DATABASE_URL 优先，否则由 DB_* 变量拼接
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = cfg.Database.URL()
		log.Info("DATABASE_URL not set, using DB_* settings",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.DBName),
		)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping database", zap.Error(err))
	}

	migrator, err := migrations.NewMigrator(db, log)
	if err != nil {
		log.Fatal("Failed to create migrator", zap.Error(err))
	}
	defer migrator.Close()

	command := os.Args[1]
	switch command {
	case "up":
		log.Info("Running migrations up")
		if err := migrator.Up(); err != nil {
			log.Fatal("Failed to migrate up", zap.Error(err))
		}
		log.Info("Migrations completed successfully")

	case "down":
		log.Info("Rolling back all migrations")
		if err := migrator.Down(); err != nil {
			log.Fatal("Failed to migrate down", zap.Error(err))
		}
		log.Info("Rollback completed successfully")

	case "steps":
		n := commandArg(log)
		if err := migrator.Steps(n); err != nil {
			log.Fatal("Failed to run migration steps", zap.Error(err))
		}
		log.Info("Migration steps completed", zap.Int("steps", n))

	case "force":
		v := commandArg(log)
		if err := migrator.Force(v); err != nil {
			log.Fatal("Failed to force version", zap.Error(err))
		}
		log.Info("Migration version forced", zap.Int("version", v))

	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			log.Fatal("Failed to get version", zap.Error(err))
		}
		log.Info("Current migration version",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
		)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func commandArg(log *zap.Logger) int {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}
	n, err := strconv.Atoi(os.Args[2])
	if err != nil {
		log.Fatal("Argument must be an integer", zap.String("arg", os.Args[2]))
	}
	return n
}

func printUsage() {
	fmt.Println("Usage: migrate <command> [arg]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up        - Run all pending migrations")
	fmt.Println("  down      - Rollback all migrations")
	fmt.Println("  steps N   - Apply N migrations (negative N rolls back)")
	fmt.Println("  force V   - Set version V and clear the dirty flag")
	fmt.Println("  version   - Print current migration version")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_URL - PostgreSQL connection string (optional)")
	fmt.Println("                 Default: built from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, DB_SSLMODE")
}
