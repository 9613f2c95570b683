package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	chatlogpostgres "github.com/aquamitra/aquamitra/internal/chatlog/postgres"
	"github.com/aquamitra/aquamitra/internal/config"
	"github.com/aquamitra/aquamitra/internal/migrations"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down|status")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("aquamitra-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.ChatLog.DSN == "" {
		fmt.Fprintln(os.Stderr, "AQUAMITRA_CHATLOG_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := chatlogpostgres.Open(ctx, cfg.ChatLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner()
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		reverted, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("reverted %d migration(s)\n", reverted)
	case "status":
		versions, err := runner.Applied(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration status failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied versions: %v\n", versions)
	default:
		fmt.Fprintf(os.Stderr, "unsupported direction %q\n", *direction)
		os.Exit(2)
	}
}
