// Package rooms parses rooms command flags and composes the service entrypoint.
package rooms

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/breakpoint/internal/platform/cmd"
	server "github.com/louisbranch/breakpoint/internal/services/rooms/app"
)

// Config holds rooms command configuration. Environment names carry the
// BREAKPOINT_ prefix, e.g. BREAKPOINT_ROOMS_HTTP_ADDR.
type Config struct {
	HTTPAddr        string `env:"ROOMS_HTTP_ADDR"    envDefault:":8787"`
	GRPCAddr        string `env:"ROOMS_GRPC_ADDR"`
	StoreBackend    string `env:"ROOMS_STORE"        envDefault:"sqlite"`
	DBPath          string `env:"ROOMS_DB_PATH"      envDefault:"data/rooms.db"`
	RedisAddr       string `env:"ROOMS_REDIS_ADDR"   envDefault:"localhost:6379"`
	RedisDB         int    `env:"ROOMS_REDIS_DB"     envDefault:"0"`
	PostgresURL     string `env:"ROOMS_POSTGRES_URL"`
	DirectoryDBPath string `env:"DIRECTORY_DB_PATH"  envDefault:"data/directory.db"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	AdminKey       string   `env:"ADMIN_KEY"`

	PromotionThreshold int           `env:"PROMOTION_THRESHOLD"   envDefault:"2"`
	IdleReapAfter      time.Duration `env:"IDLE_REAP_AFTER"       envDefault:"24h"`
	KeepPromotedOnReap bool          `env:"KEEP_PROMOTED_ON_REAP" envDefault:"false"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var origins string
	cfg, err := entrypoint.LoadConfig(fs, args, func(fs *flag.FlagSet, cfg *Config) {
		origins = strings.Join(cfg.AllowedOrigins, ",")
		fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "rooms HTTP listen address")
		fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
		fs.StringVar(&cfg.StoreBackend, "store", cfg.StoreBackend, "room store backend: sqlite, bbolt, redis, postgres, memory")
		fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "room database path for sqlite and bbolt")
		fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address")
		fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "redis logical database")
		fs.StringVar(&cfg.PostgresURL, "postgres-url", cfg.PostgresURL, "postgres connection URL")
		fs.StringVar(&cfg.DirectoryDBPath, "directory-db-path", cfg.DirectoryDBPath, "room directory database path (empty disables)")
		fs.StringVar(&origins, "allowed-origins", origins, "comma-separated allowed origins (empty allows all)")
		fs.StringVar(&cfg.AdminKey, "admin-key", cfg.AdminKey, "admin API key (empty disables)")
		fs.IntVar(&cfg.PromotionThreshold, "promotion-threshold", cfg.PromotionThreshold, "votes an option must exceed to be promoted (0 promotes on the first vote)")
		fs.DurationVar(&cfg.IdleReapAfter, "idle-reap-after", cfg.IdleReapAfter, "idle window before an empty room is reset")
		fs.BoolVar(&cfg.KeepPromotedOnReap, "keep-promoted-on-reap", cfg.KeepPromotedOnReap, "keep promoted options when a room is reset")
	})
	if err != nil {
		return Config{}, err
	}
	cfg.AllowedOrigins = splitList(origins)
	return cfg, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Run builds the rooms app and serves until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRooms, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:           cfg.HTTPAddr,
			GRPCAddr:           cfg.GRPCAddr,
			StoreBackend:       cfg.StoreBackend,
			DBPath:             cfg.DBPath,
			RedisAddr:          cfg.RedisAddr,
			RedisDB:            cfg.RedisDB,
			PostgresURL:        cfg.PostgresURL,
			DirectoryDBPath:    cfg.DirectoryDBPath,
			AllowedOrigins:     cfg.AllowedOrigins,
			AdminKey:           cfg.AdminKey,
			PromotionThreshold: cfg.PromotionThreshold,
			IdleReapAfter:      cfg.IdleReapAfter,
			KeepPromotedOnReap: cfg.KeepPromotedOnReap,
		}); err != nil {
			return fmt.Errorf("serve rooms: %w", err)
		}
		return nil
	})
}
