package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/breakpoint/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/breakpoint/internal/platform/grpc"
	"github.com/louisbranch/breakpoint/internal/platform/telemetry/metrics"
	"github.com/louisbranch/breakpoint/internal/platform/timeouts"
	"github.com/louisbranch/breakpoint/internal/random"
	"github.com/louisbranch/breakpoint/internal/services/directory"
	directorysqlite "github.com/louisbranch/breakpoint/internal/services/directory/storage/sqlite"
	"github.com/louisbranch/breakpoint/internal/services/rooms/storage"
	roombbolt "github.com/louisbranch/breakpoint/internal/services/rooms/storage/bbolt"
	roommemory "github.com/louisbranch/breakpoint/internal/services/rooms/storage/memory"
	roompostgres "github.com/louisbranch/breakpoint/internal/services/rooms/storage/postgres"
	roomredis "github.com/louisbranch/breakpoint/internal/services/rooms/storage/redis"
	roomsqlite "github.com/louisbranch/breakpoint/internal/services/rooms/storage/sqlite"
)

// Store backends accepted by Config.StoreBackend.
const (
	StoreSQLite   = "sqlite"
	StoreBBolt    = "bbolt"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// DefaultPromotionThreshold is the vote count an option must exceed.
const DefaultPromotionThreshold = 2

// DefaultIdleReapAfter is the quiet period before an empty room is wiped.
const DefaultIdleReapAfter = 24 * time.Hour

// Config defines the inputs for the rooms process.
type Config struct {
	HTTPAddr string
	// GRPCAddr enables the gRPC health server when set.
	GRPCAddr string

	StoreBackend string
	DBPath       string
	RedisAddr    string
	RedisDB      int
	PostgresURL  string
	// DirectoryDBPath enables the room directory when set.
	DirectoryDBPath string

	AllowedOrigins []string
	AdminKey       string

	// PromotionThreshold is the vote count an option must exceed; 0 promotes
	// on the first vote and a negative value selects the default.
	PromotionThreshold int
	IdleReapAfter      time.Duration
	KeepPromotedOnReap bool

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the rooms HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	hub             *roomHub
	store           storage.RoomStore
	directoryStore  *directorysqlite.Store
	health          *platformgrpc.HealthServer
	reporterStop    context.CancelFunc
	reporterDone    chan struct{}
}

// NewServer builds a configured rooms server.
func NewServer(config Config) (*Server, error) {
	return NewServerWithContext(context.Background(), config)
}

// NewServerWithContext builds a configured rooms server with an explicit context.
func NewServerWithContext(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.PromotionThreshold < 0 {
		config.PromotionThreshold = DefaultPromotionThreshold
	}
	if config.IdleReapAfter <= 0 {
		config.IdleReapAfter = DefaultIdleReapAfter
	}

	store, err := openRoomStore(ctx, config)
	if err != nil {
		return nil, err
	}
	server := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		store:           store,
	}

	var registry *directory.Registry
	if path := strings.TrimSpace(config.DirectoryDBPath); path != "" {
		if err := ensureParentDir(path); err != nil {
			server.Close()
			return nil, err
		}
		directoryStore, err := directorysqlite.Open(path)
		if err != nil {
			server.Close()
			return nil, fmt.Errorf("open directory store: %w", err)
		}
		server.directoryStore = directoryStore
		registry, err = directory.NewRegistry(directoryStore, directory.DefaultStaleAfter)
		if err != nil {
			server.Close()
			return nil, fmt.Errorf("init directory: %w", err)
		}
	}

	if addr := strings.TrimSpace(config.GRPCAddr); addr != "" {
		health, err := platformgrpc.ListenHealth(addr, cmd.ServiceRooms)
		if err != nil {
			server.Close()
			return nil, err
		}
		server.health = health
	}

	roomMetrics := metrics.NewRooms()
	deps := roomDeps{
		store:   store,
		metrics: roomMetrics,
		config: roomConfig{
			promotionThreshold: config.PromotionThreshold,
			idleReapAfter:      config.IdleReapAfter,
			keepPromotedOnReap: config.KeepPromotedOnReap,
		},
		draw: random.Index,
	}
	var reporter occupancyReporter
	if registry != nil {
		reporter = registry
	}
	server.hub = newRoomHub(deps, reporter)
	server.httpServer = &http.Server{
		Addr: httpAddr,
		Handler: newHandler(server.hub, handlerOptions{
			metrics:        roomMetrics,
			directory:      registry,
			allowedOrigins: config.AllowedOrigins,
			adminKey:       config.AdminKey,
		}),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return server, nil
}

// Run creates and serves a rooms server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServerWithContext(ctx, config)
	if err != nil {
		return fmt.Errorf("init rooms server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve rooms: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("rooms server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	reporterCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s.reporterStop = stop
	s.reporterDone = make(chan struct{})
	go func() {
		defer close(s.reporterDone)
		s.hub.runReporter(reporterCtx)
	}()

	if s.health != nil {
		go func() {
			if err := s.health.Serve(ctx); err != nil {
				log.Printf("rooms: health server stopped err=%v", err)
			}
		}()
		s.health.SetServing(true)
	}

	serveErr := make(chan error, 1)
	log.Printf("rooms server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.SetServing(false)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		if err := s.hub.shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown rooms: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.reporterStop != nil {
		s.reporterStop()
		<-s.reporterDone
	}
	if s.health != nil {
		s.health.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("rooms: close room store: %v", err)
		}
	}
	if s.directoryStore != nil {
		if err := s.directoryStore.Close(); err != nil {
			log.Printf("rooms: close directory store: %v", err)
		}
	}
}

// openRoomStore opens the backend named by config.StoreBackend.
func openRoomStore(ctx context.Context, config Config) (storage.RoomStore, error) {
	backend := strings.ToLower(strings.TrimSpace(config.StoreBackend))
	switch backend {
	case "", StoreSQLite:
		if err := ensureParentDir(config.DBPath); err != nil {
			return nil, err
		}
		store, err := roomsqlite.Open(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite room store: %w", err)
		}
		return store, nil
	case StoreBBolt:
		if err := ensureParentDir(config.DBPath); err != nil {
			return nil, err
		}
		store, err := roombbolt.Open(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open bbolt room store: %w", err)
		}
		return store, nil
	case StoreRedis:
		store, err := roomredis.Open(ctx, roomredis.Options{Addr: config.RedisAddr, DB: config.RedisDB})
		if err != nil {
			return nil, fmt.Errorf("open redis room store: %w", err)
		}
		return store, nil
	case StorePostgres:
		store, err := roompostgres.Open(ctx, config.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres room store: %w", err)
		}
		return store, nil
	case StoreMemory:
		return roommemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown room store %q", config.StoreBackend)
	}
}

func ensureParentDir(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("storage path is required")
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	return nil
}
