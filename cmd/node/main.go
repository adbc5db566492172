package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/term"

	"github.com/peteroluoch/africa-offline-os/internal/aggregate"
	"github.com/peteroluoch/africa-offline-os/internal/config"
	"github.com/peteroluoch/africa-offline-os/internal/identity"
	"github.com/peteroluoch/africa-offline-os/internal/mesh"
	"github.com/peteroluoch/africa-offline-os/internal/peerauth"
	"github.com/peteroluoch/africa-offline-os/internal/resolve"
	"github.com/peteroluoch/africa-offline-os/internal/server"
	"github.com/peteroluoch/africa-offline-os/internal/server/handlers"
	"github.com/peteroluoch/africa-offline-os/internal/server/middleware"
	"github.com/peteroluoch/africa-offline-os/internal/storage/sqlite"
	"github.com/peteroluoch/africa-offline-os/internal/sync"
	"github.com/peteroluoch/africa-offline-os/internal/transport"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	initNode := flag.Bool("init", false, "Provision node identity and mesh passphrase")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *initNode {
		if err := runInit(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger := newLogger(cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.Error("node exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, path := range []string{cfg.Storage.SQLitePath, cfg.Storage.BoltPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	boltDB, err := bbolt.Open(cfg.Storage.BoltPath, 0o600, nil)
	if err != nil {
		return fmt.Errorf("failed to open bolt database: %w", err)
	}
	defer boltDB.Close()

	idStore, err := identity.NewStore(boltDB)
	if err != nil {
		return err
	}
	ident, err := idStore.LoadOrCreate(cfg.Mesh.Village)
	if err != nil {
		return fmt.Errorf("failed to load node identity: %w", err)
	}
	logger.Info("node identity loaded", "node_id", ident.NodeID, "village", ident.Village)

	snapshot, err := idStore.ClockSnapshot()
	if err != nil {
		return err
	}

	store, err := sqlite.New(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open sqlite storage: %w", err)
	}
	defer store.Close()

	resolver := resolve.ForStrategy(cfg.Mesh.ResolutionStrategy)
	logger.Info("conflict resolution strategy", "strategy", resolver.Strategy())

	engine, err := sync.NewEngine(ctx, ident.NodeID, store, resolver, snapshot, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize sync engine: %w", err)
	}

	var tokenValidator middleware.TokenValidator
	var tokens transport.TokenSource
	if cfg.Mesh.Passphrase != "" {
		auth, err := peerauth.NewManager(ident.NodeID, cfg.Mesh.Passphrase, peerauth.DefaultTokenTTL)
		if err != nil {
			return fmt.Errorf("failed to initialize peer auth: %w", err)
		}
		tokenValidator = auth
		tokens = auth
	} else {
		logger.Warn("mesh passphrase not set, peer auth disabled")
	}

	registry, err := mesh.NewRegistry(boltDB)
	if err != nil {
		return err
	}
	queue, err := mesh.NewQueue(boltDB, cfg.Mesh.MaxAttempts)
	if err != nil {
		return err
	}

	transports := func(peer *mesh.Peer) transport.Transport {
		return transport.NewHTTPTransport(peer.BaseURL, tokens)
	}
	manager := mesh.NewManager(engine, registry, queue, transports, logger,
		cfg.Mesh.SyncInterval, cfg.Mesh.MaxQueueAge)

	aggregator := aggregate.NewRegionalAggregator(store, engine.ReadGate(), logger)

	router := server.NewRouter(logger, server.Handlers{
		Sync:     handlers.NewSyncHandler(logger, engine),
		Conflict: handlers.NewConflictHandler(logger, engine),
		Regional: handlers.NewRegionalHandler(logger, aggregator),
		Status:   handlers.NewStatusHandler(logger, engine),
		Mesh:     handlers.NewMeshHandler(logger, manager),
		Health:   handlers.NewHealthHandler(logger),
	}, tokenValidator)

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("node listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	manager.Start(ctx)
	go snapshotLoop(ctx, idStore, engine, logger)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	manager.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	if err := idStore.SaveClockSnapshot(engine.Clock()); err != nil {
		logger.Error("failed to save clock snapshot", "error", err)
	}

	logger.Info("node stopped")
	return nil
}

// snapshotLoop periodically persists the engine clock so a restart starts
// close to the last known position instead of replaying the whole log.
func snapshotLoop(ctx context.Context, idStore *identity.Store, engine *sync.Engine, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := idStore.SaveClockSnapshot(engine.Clock()); err != nil {
				logger.Error("failed to save clock snapshot", "error", err)
			}
		}
	}
}

// runInit provisions the node identity and captures the mesh passphrase into
// the local .env file.
func runInit(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.BoltPath), 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	boltDB, err := bbolt.Open(cfg.Storage.BoltPath, 0o600, nil)
	if err != nil {
		return fmt.Errorf("failed to open bolt database: %w", err)
	}
	defer boltDB.Close()

	idStore, err := identity.NewStore(boltDB)
	if err != nil {
		return err
	}
	ident, err := idStore.LoadOrCreate(cfg.Mesh.Village)
	if err != nil {
		return err
	}

	fmt.Printf("Node ID: %s\n", ident.NodeID)
	if ident.Village != "" {
		fmt.Printf("Village: %s\n", ident.Village)
	}

	if cfg.Mesh.Passphrase != "" {
		fmt.Println("Mesh passphrase already configured.")
		return nil
	}

	passphrase, err := promptPassphrase()
	if err != nil {
		return err
	}
	if passphrase == "" {
		fmt.Println("No passphrase set; peer auth stays disabled.")
		return nil
	}

	f, err := os.OpenFile(".env", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open .env: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "MESH_PASSPHRASE=%s\n", passphrase); err != nil {
		return fmt.Errorf("failed to write .env: %w", err)
	}

	fmt.Println("Mesh passphrase saved to .env")
	return nil
}

// promptPassphrase reads the mesh passphrase twice without echo.
func promptPassphrase() (string, error) {
	fmt.Print("Mesh passphrase (empty to skip): ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(first) == 0 {
		return "", nil
	}

	fmt.Print("Confirm passphrase: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return strings.TrimSpace(string(first)), nil
}

func printVersion() {
	fmt.Printf("africa-offline-os node\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
