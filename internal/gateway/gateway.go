// ABOUTME: Gateway orchestrator wiring store, tool registry, auth, and the MCP server
// ABOUTME: Manages warm-up before listen, the HTTP server lifecycle, and graceful shutdown

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/tavola/tavola-gateway/internal/auth"
	"github.com/tavola/tavola-gateway/internal/config"
	"github.com/tavola/tavola-gateway/internal/keyset"
	"github.com/tavola/tavola-gateway/internal/mcp"
	"github.com/tavola/tavola-gateway/internal/metadata"
	"github.com/tavola/tavola-gateway/internal/store"
	"github.com/tavola/tavola-gateway/internal/tools"
)

// Version is the gateway release version, settable at build time.
var Version = "dev"

// shutdownGrace bounds how long in-flight requests may run after a stop
// signal before the HTTP server is torn down.
const shutdownGrace = 5 * time.Second

// Gateway orchestrates the tavola-gateway server components.
// It owns the store, the tool registry, the auth chain, and the HTTP server.
type Gateway struct {
	config     *config.Config
	store      store.Store
	registry   *tools.Registry
	mcpServer  *mcp.Server
	httpServer *http.Server
	logger     *slog.Logger

	// resolver is the signing-key resolver; nil when enforcement is off.
	resolver *keyset.Resolver
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TAVOLA_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildRegistry assembles and freezes the tool registry.
func buildRegistry(s store.Store, invokeTimeout time.Duration, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger)
	registry.SetInvokeTimeout(invokeTimeout)
	if err := tools.RegisterRestaurantTools(registry, s); err != nil {
		return nil, fmt.Errorf("registering restaurant tools: %w", err)
	}
	registry.Freeze()
	return registry, nil
}

// buildAuthChain constructs the key resolver, validator, authorizer, and gate
// from config. With enforcement off it returns a pass-through gate and no
// resolver.
func buildAuthChain(cfg *config.Config, logger *slog.Logger) (*auth.Gate, *keyset.Resolver, error) {
	if !cfg.Auth.Enforce {
		gate, err := auth.NewGate(auth.GateConfig{Logger: logger})
		return gate, nil, err
	}

	resolver, err := keyset.NewResolver(keyset.Config{
		JWKSURL:  cfg.Auth.JWKSURL,
		CacheTTL: cfg.Auth.KeyCacheTTL,
		StaleFor: cfg.Auth.KeyStaleFor,
		Logger:   logger.With("component", "keyset"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating key resolver: %w", err)
	}

	validator, err := auth.NewValidator(resolver, cfg.Auth.ClockSkew)
	if err != nil {
		return nil, nil, fmt.Errorf("creating token validator: %w", err)
	}

	authorizer, err := auth.NewAuthorizer(auth.AuthorizerConfig{
		Issuer:         cfg.Auth.Issuer,
		Audiences:      cfg.Auth.Audiences,
		AllowedCallers: cfg.Auth.AllowedCallers,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating authorizer: %w", err)
	}

	gate, err := auth.NewGate(auth.GateConfig{
		Validator:   validator,
		Authorizer:  authorizer,
		MetadataURL: cfg.Server.PublicURL + metadata.WellKnownPath,
		Enforce:     true,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating auth gate: %w", err)
	}
	return gate, resolver, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := buildRegistry(s, cfg.Server.ToolTimeout, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Registry:       registry,
		Logger:         logger,
		Stateful:       cfg.Sessions.Stateful,
		SessionIdleTTL: cfg.Sessions.IdleTTL,
		ServerName:     "tavola-gateway",
		ServerVersion:  Version,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	gate, resolver, err := buildAuthChain(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gw := &Gateway{
		config:    cfg,
		store:     s,
		registry:  registry,
		mcpServer: mcpServer,
		logger:    logger.With("component", "gateway"),
		resolver:  resolver,
	}

	mux := http.NewServeMux()

	// Health endpoint stays outside the auth gate.
	mux.HandleFunc("/healthz", gw.handleHealth)

	// The discovery document is only advertised when there is an auth chain
	// to discover; without enforcement the route does not exist.
	if cfg.Auth.Enforce {
		publisher, err := metadata.NewPublisher(
			cfg.Server.PublicURL,
			[]string{cfg.Auth.Issuer},
			cfg.Auth.Scopes,
			logger,
		)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("creating metadata publisher: %w", err)
		}
		mux.Handle(metadata.WellKnownPath, publisher)
	}

	mcpMux := http.NewServeMux()
	mcpServer.RegisterRoutes(mcpMux)
	mux.Handle("/mcp", gate.Middleware(mcpMux))

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the gateway and blocks until the context is canceled.
// Warm-up happens before the listener opens: with enforcement on, the
// signing keys must be fetched first so the gateway never accepts a
// request it cannot verify. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	if g.config.Database.SeedPath != "" {
		if err := store.Seed(ctx, g.store, g.config.Database.SeedPath, g.logger); err != nil {
			_ = g.store.Close()
			return fmt.Errorf("seeding database: %w", err)
		}
	}

	if g.resolver != nil {
		g.logger.Info("warming signing-key cache", "jwks_url", g.config.Auth.JWKSURL)
		if err := g.resolver.WarmUp(ctx); err != nil {
			_ = g.store.Close()
			return fmt.Errorf("signing-key warm-up failed: %w", err)
		}
	}

	g.mcpServer.StartJanitor(ctx)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.store.Close()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening",
			"addr", ln.Addr().String(),
			"auth_enforced", g.config.Auth.Enforce,
			"stateful_sessions", g.config.Sessions.Stateful,
		)
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown drains in-flight requests and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Handler exposes the fully wired HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
