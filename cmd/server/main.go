// Package main provides the entry point for the memory proxy.
// The proxy sits in front of an OpenAI-compatible chat-completion provider,
// injects long-term memories into chat requests and forwards everything else unchanged.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/memoryllm/memproxy/internal/api"
	"github.com/memoryllm/memproxy/internal/api/middleware"
	"github.com/memoryllm/memproxy/internal/config"
	"github.com/memoryllm/memproxy/internal/logging"
	"github.com/memoryllm/memproxy/internal/memory"
	"github.com/memoryllm/memproxy/internal/watcher"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shutdownTimeout = 30 * time.Second

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

func main() {
	var configPath string
	var showVersion bool
	var noWatch bool

	flag.StringVar(&configPath, "config", "config.yaml", "Configure File Path")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&noWatch, "no-watch", false, "Do not reload the config file on change")
	flag.Parse()

	if showVersion {
		fmt.Printf("memproxy %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return
	}

	// Load environment variables from .env if present.
	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := loadConfig(configPath, true)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err = logging.ApplyConfig(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
	}
	if cfg.Upstream.IsDefaultBaseURL() {
		log.Warnf("no upstream base URL configured, defaulting to %s", config.DefaultBaseURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mem := newMemoryClient(ctx, cfg)
	defer memory.Close(mem)

	server, err := api.NewServer(cfg, mem)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
	if !noWatch {
		w := watcher.New(configPath, server.UpdateConfig, watcher.WithLoader(func(path string) (*config.Config, error) {
			return loadConfig(path, false)
		}))
		g.Go(func() error {
			if errWatch := w.Run(gctx); errWatch != nil {
				log.WithError(errWatch).Warn("config hot reload disabled")
			}
			return nil
		})
	}

	if err = g.Wait(); err != nil {
		log.Errorf("memory proxy stopped: %v", err)
		os.Exit(1)
	}
	log.Info("memory proxy stopped")
}

func loadConfig(path string, optional bool) (*config.Config, error) {
	cfg, err := config.LoadConfigOptional(path, optional)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// newMemoryClient builds the configured backend. Startup never fails on the
// memory service: an unreachable backend degrades to requests without memories.
func newMemoryClient(ctx context.Context, cfg *config.Config) memory.Client {
	var client memory.Client
	backend := cfg.Memory.Backend

	switch backend {
	case config.MemoryBackendMCP:
		mcpClient := memory.NewMCPClient(cfg.Memory.ResolvedMCPURL(), cfg.Memory.ResolvedSearchType())
		// The session lives as long as ctx, so no deadline here.
		if errConnect := mcpClient.Connect(ctx); errConnect != nil {
			log.WithError(errConnect).Warn("memory server unavailable, continuing without memories")
		}
		client = mcpClient
	case config.MemoryBackendCLI:
		cliClient, errCLI := memory.NewCLIClient(cfg.Memory.CLIPath)
		if errCLI != nil {
			log.WithError(errCLI).Warn("memory cli unavailable, continuing without memories")
			return memory.Disabled{}
		}
		client = cliClient
	case config.MemoryBackendNone:
		return memory.Disabled{}
	default:
		log.Warnf("unknown memory backend %q, continuing without memories", backend)
		return memory.Disabled{}
	}

	client = memory.WithTimeout(client, cfg.Memory.SearchTimeout())
	return memory.Instrumented(client, func(outcome string, elapsed time.Duration) {
		middleware.RecordMemorySearch(backend, outcome, elapsed)
	})
}
