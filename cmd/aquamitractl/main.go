package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aquamitra/aquamitra/internal/cli/aquamitractl"
	"github.com/aquamitra/aquamitra/internal/config"
	"github.com/aquamitra/aquamitra/internal/storage"
	s3store "github.com/aquamitra/aquamitra/internal/storage/s3"
)

func main() {
	_ = config.LoadDotEnv()
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("AQUAMITRA_CLI_TIMEOUT")), 60*time.Second)
	options := aquamitractl.Options{
		BaseURL:   envOr("AQUAMITRA_API_URL", "http://localhost:8000"),
		APIKey:    strings.TrimSpace(os.Getenv("AQUAMITRA_API_KEY")),
		Timeout:   timeout,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		OpenStore: openStore,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := aquamitractl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func openStore(ctx context.Context) (storage.ObjectStore, error) {
	cfg, err := config.LoadFromEnv("aquamitractl")
	if err != nil {
		return nil, err
	}
	return s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: true,
	})
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid AQUAMITRA_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
