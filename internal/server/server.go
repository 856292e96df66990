// ABOUTME: HTTP server orchestration for keydrop
// ABOUTME: Runs the resolve and admin APIs over TCP or a Tailscale node

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/keydrop/internal/auth"
	"github.com/2389/keydrop/internal/config"
	"github.com/2389/keydrop/internal/issuer"
	"github.com/2389/keydrop/internal/store"
)

// Options carries the server dependencies.
type Options struct {
	Config  *config.Config
	Store   store.Store
	Issuer  *issuer.Service
	Admins  *auth.Allowlist
	Version string
	Logger  *slog.Logger
}

// Server serves the public resolve endpoint and the admin API.
type Server struct {
	cfg     *config.Config
	store   store.Store
	svc     *issuer.Service
	admins  *auth.Allowlist
	version string
	logger  *slog.Logger

	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New creates the HTTP server. The store is only used for health checks;
// everything else goes through the issuer. The store's lifecycle belongs
// to the caller, which shares it with the bot.
func New(opts Options) (*Server, error) {
	s := &Server{
		cfg:     opts.Config,
		store:   opts.Store,
		svc:     opts.Issuer,
		admins:  opts.Admins,
		version: opts.Version,
		logger:  opts.Logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:              opts.Config.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// registerRoutes wires the public and admin endpoints. Admin routes only
// exist when an API secret is configured; an open admin surface on a
// credential service is never acceptable, so without a secret the paths
// stay unregistered rather than unauthenticated.
func (s *Server) registerRoutes(mux *http.ServeMux) error {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/resolve/{token}", s.handleResolve)

	if s.cfg.Auth.APISecret == "" {
		s.logger.Warn("admin API disabled - no api_secret configured")
		return nil
	}

	verifier, err := auth.NewJWTVerifier([]byte(s.cfg.Auth.APISecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	authMiddleware := auth.HTTPAuthMiddleware(verifier, s.admins, s.logger)
	adminMiddleware := auth.RequireAdminHTTP(s.logger)
	admin := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(adminMiddleware(h))
	}

	mux.Handle("POST /api/admin/issue", admin(s.handleIssue))
	mux.Handle("POST /api/admin/entries", admin(s.handleUploadEntries))
	mux.Handle("GET /api/admin/tokens", admin(s.handleListTokens))
	mux.Handle("GET /api/admin/tokens/{token}", admin(s.handleTokenInfo))
	mux.Handle("POST /api/admin/tokens/{token}/revoke", admin(s.handleRevoke))
	mux.Handle("GET /api/admin/stock", admin(s.handleStock))

	s.logger.Info("HTTP auth middleware enabled")
	return nil
}

// Run starts the server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := s.startServer(ln)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.cfg.Tailscale.Enabled {
		if s.cfg.Server.HTTPAddr != "" && s.cfg.Server.HTTPAddr != config.DefaultHTTPAddr {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.cfg.Server.HTTPAddr,
			)
		}
		return s.setupTailscaleListener(ctx)
	}

	s.logger.Info("starting server", "http_addr", s.cfg.Server.HTTPAddr)
	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (s *Server) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and the Tailscale node.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if s.tsnetServer != nil {
		if err := s.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// resolveTailscaleStateDir returns the state directory, using a default
// under the user's home if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "keydrop", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet node and returns its HTTP listener.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.cfg.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	return s.createTailscaleListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleListener creates the appropriate listener based on config.
// Funnel exposes the server publicly, which is what the resolve endpoint
// wants when the access links point at this node.
func (s *Server) createTailscaleListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return s.createTailscaleTLSListener()
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's
// auto-provisioned certs.
func (s *Server) createTailscaleTLSListener() (net.Listener, error) {
	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}
