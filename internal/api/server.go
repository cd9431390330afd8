// Package api provides the HTTP API server of the memory proxy.
// It wires the Gin engine, the ambient middleware stack and the proxy handlers,
// and supports swapping configuration at runtime.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/memoryllm/memproxy/internal/api/handlers/proxy"
	"github.com/memoryllm/memproxy/internal/api/middleware"
	"github.com/memoryllm/memproxy/internal/augment"
	"github.com/memoryllm/memproxy/internal/config"
	"github.com/memoryllm/memproxy/internal/logging"
	"github.com/memoryllm/memproxy/internal/memory"
	"github.com/memoryllm/memproxy/internal/upstream"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	engineConfigurator func(*gin.Engine)
	upstreamClient     proxy.Doer
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithEngineConfigurator allows callers to mutate the Gin engine prior to middleware setup.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.engineConfigurator = fn
	}
}

// WithUpstreamClient replaces the HTTP client built from the upstream configuration.
// The client is then kept across config reloads.
func WithUpstreamClient(client proxy.Doer) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.upstreamClient = client
	}
}

// Server represents the main API server.
type Server struct {
	engine *gin.Engine
	server *http.Server

	// cfgHolder provides race-safe config snapshots.
	cfgHolder atomic.Value
	updateMu sync.Mutex
	// oldConfigYaml is the YAML snapshot of the active configuration, used for change detection.
	oldConfigYaml []byte

	proxy          *proxy.Handler
	memory         memory.Client
	fixedClient    proxy.Doer
	upstreamClient proxy.Doer
	connections    *middleware.ConnectionTracker
}

// NewServer creates the API server. mem is the memory capability handed to every
// chat request; pass memory.Disabled{} to run without memories.
func NewServer(cfg *config.Config, mem memory.Client, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("api: config is required")
	}
	if mem == nil {
		mem = memory.Disabled{}
	}
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	// Paths are forwarded as received; no redirects for trailing slashes.
	// Route lookup ignores duplicate slashes so //v1/chat/completions still reaches
	// the chat route; the forwarded URL is left untouched.
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false
	engine.RemoveExtraSlash = true
	if optionState.engineConfigurator != nil {
		optionState.engineConfigurator(engine)
	}

	middleware.SetMetricsEnabled(cfg.Metrics.Enabled)

	s := &Server{
		engine:      engine,
		memory:      mem,
		fixedClient: optionState.upstreamClient,
		connections: &middleware.ConnectionTracker{},
	}

	client, err := s.buildUpstreamClient(cfg)
	if err != nil {
		return nil, err
	}
	s.upstreamClient = client
	s.proxy = proxy.NewHandler(cfg, client, s.buildAugmenter(cfg))
	s.cfgHolder.Store(cfg)
	s.oldConfigYaml, _ = yaml.Marshal(cfg)

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(s.connections.Middleware())
	engine.Use(middleware.PrometheusMiddleware())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    cfg.Addr(),
		Handler: engine,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", middleware.MetricsHandler())
	chat := []gin.HandlerFunc{middleware.RequestDecompressionMiddleware(), s.proxy.ChatCompletions}
	s.engine.POST("/v1/chat/completions", chat...)
	s.engine.POST("/v1/chat/completions/", chat...)
	s.engine.NoRoute(s.proxy.Passthrough)
}

func (s *Server) handleHealth(c *gin.Context) {
	logging.SkipGinRequestLogging(c)
	cfg := s.getConfig()
	backend := config.MemoryBackendNone
	if cfg != nil && cfg.Memory.IsEnabled() {
		backend = cfg.Memory.Backend
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "memory": backend})
}

func (s *Server) buildUpstreamClient(cfg *config.Config) (proxy.Doer, error) {
	if s.fixedClient != nil {
		return s.fixedClient, nil
	}
	client, err := upstream.NewClient(&cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("api: build upstream client: %w", err)
	}
	return client, nil
}

func (s *Server) buildAugmenter(cfg *config.Config) *augment.Augmenter {
	return augment.New(s.memory,
		augment.WithEnabled(cfg.Memory.IsEnabled()),
		augment.WithInjectionObserver(middleware.RecordInjectedTokens),
	)
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ActiveConnections returns the number of in-flight requests.
func (s *Server) ActiveConnections() int64 {
	return s.connections.Count()
}

// Start begins listening for and serving HTTP requests.
// It's a blocking call and will only return on an unrecoverable error.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}

	log.Infof("memory proxy listening on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting any
// active connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debugf("Stopping API server (%d active connections)...", s.connections.Count())
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	log.Debug("API server stopped")
	return nil
}

// UpdateConfig applies a reloaded configuration to new requests.
// Listen address and memory backend changes take effect after a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	newYaml, _ := yaml.Marshal(cfg)
	if bytes.Equal(newYaml, s.oldConfigYaml) {
		log.Debug("config unchanged, nothing to apply")
		return
	}

	var oldCfg *config.Config
	if len(s.oldConfigYaml) > 0 {
		_ = yaml.Unmarshal(s.oldConfigYaml, &oldCfg)
	}

	if oldCfg == nil || oldCfg.LogLevel != cfg.LogLevel || oldCfg.LoggingToFile != cfg.LoggingToFile || oldCfg.LogDir != cfg.LogDir {
		if err := logging.ApplyConfig(cfg); err != nil {
			log.Errorf("failed to reconfigure log output: %v", err)
		}
	}
	if oldCfg != nil && (oldCfg.Host != cfg.Host || oldCfg.Port != cfg.Port) {
		log.Warnf("listen address change to %s requires a restart", cfg.Addr())
	}
	if oldCfg != nil && oldCfg.Memory.Backend != cfg.Memory.Backend {
		log.Warnf("memory backend change to %q requires a restart", cfg.Memory.Backend)
	}
	middleware.SetMetricsEnabled(cfg.Metrics.Enabled)

	client := s.upstreamClient
	if oldCfg == nil || oldCfg.Upstream.ProxyURL != cfg.Upstream.ProxyURL || oldCfg.Upstream.Timeout() != cfg.Upstream.Timeout() {
		rebuilt, err := s.buildUpstreamClient(cfg)
		if err != nil {
			log.Errorf("keeping previous upstream client: %v", err)
		} else {
			client = rebuilt
		}
	}
	s.upstreamClient = client

	s.proxy.Update(cfg, client, s.buildAugmenter(cfg))
	s.cfgHolder.Store(cfg)
	s.oldConfigYaml = newYaml
	log.Infof("configuration applied (upstream %s, memory enabled: %t)", cfg.Upstream.ResolvedBaseURL(), cfg.Memory.IsEnabled())
}

func (s *Server) getConfig() *config.Config {
	if s == nil {
		return nil
	}
	if v := s.cfgHolder.Load(); v != nil {
		if cfg, ok := v.(*config.Config); ok {
			return cfg
		}
	}
	return nil
}
