package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"surveycmi/internal/progress"
	"surveycmi/internal/surveyclient"

	"github.com/redis/go-redis/v9"
)

// ParseClientFlags overlays command-line flags on the environment defaults.
// It returns the arguments left after the flags.
func ParseClientFlags(name string, args []string, output io.Writer) (ClientConfig, []string, error) {
	cfg := LoadClientConfig()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&cfg.APIURL, "api", cfg.APIURL, "survey API base URL (SURVEY_API_URL)")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "API request timeout")
	fs.StringVar(&cfg.StoreKind, "store", cfg.StoreKind, "progress store: sqlite or redis (PROGRESS_STORE)")
	fs.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "sqlite progress file (PROGRESS_SQLITE_PATH)")
	fs.StringVar(&cfg.ProgressSlot, "slot", cfg.ProgressSlot, "progress slot, one per kiosk (PROGRESS_SLOT)")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "redis address (REDIS_ADDR)")
	fs.StringVar(&cfg.AdminUsername, "user", cfg.AdminUsername, "admin username (ADMIN_USERNAME)")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, nil, err
	}

	cfg.StoreKind = strings.ToLower(strings.TrimSpace(cfg.StoreKind))
	switch cfg.StoreKind {
	case StoreSQLite, StoreRedis:
	default:
		return ClientConfig{}, nil, fmt.Errorf("unknown progress store %q (use sqlite or redis)", cfg.StoreKind)
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		return ClientConfig{}, nil, fmt.Errorf("api url required (use -api or SURVEY_API_URL)")
	}
	return cfg, fs.Args(), nil
}

func NewAPIClient(cfg ClientConfig) *surveyclient.Client {
	return surveyclient.New(surveyclient.Config{
		BaseURL:    cfg.APIURL,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
	})
}

// OpenProgressStore opens the store selected by cfg.StoreKind.
func OpenProgressStore(ctx context.Context, cfg ClientConfig) (progress.Store, error) {
	switch cfg.StoreKind {
	case StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return progress.NewRedisStore(client, cfg.ProgressSlot, cfg.ProgressTTL), nil
	case StoreSQLite, "":
		store, err := progress.OpenSQLite(ctx, cfg.SQLitePath, cfg.ProgressSlot)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown progress store %q", cfg.StoreKind)
	}
}
