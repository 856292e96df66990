// ABOUTME: Entry point for the keydrop credential daemon
// ABOUTME: Runs the HTTP server and Matrix bot, plus init and bootstrap helpers

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/keydrop/internal/audit"
	"github.com/2389/keydrop/internal/auth"
	"github.com/2389/keydrop/internal/bot"
	"github.com/2389/keydrop/internal/config"
	"github.com/2389/keydrop/internal/issuer"
	"github.com/2389/keydrop/internal/keygen"
	"github.com/2389/keydrop/internal/server"
	"github.com/2389/keydrop/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                      _
| | __  ___  _   _   __| | _ __   ___   _ __
| |/ / / _ \| | | | / _' || '__| / _ \ | '_ \
|   < |  __/| |_| || (_| || |   | (_) || |_) |
|_|\_\ \___| \__, | \__,_||_|    \___/ | .__/
             |___/                     |_|
`

// getConfigPath returns the path to the keydrop config file.
// Priority: KEYDROP_CONFIG env var > XDG_CONFIG_HOME/keydrop/keydrop.yaml > ~/.config/keydrop/keydrop.yaml
func getConfigPath() string {
	if envPath := os.Getenv("KEYDROP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "keydrop.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "keydrop", "keydrop.yaml")
}

// getDataPath returns the path to the keydrop data directory.
// Priority: XDG_DATA_HOME/keydrop > ~/.local/share/keydrop
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "keydrop")
}

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap()
	case "version":
		fmt.Printf("keydrop %s\n", version)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: keydrop [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                  Start the HTTP server and Matrix bot (default)")
	fmt.Fprintln(w, "  init                   Create a new config file interactively")
	fmt.Fprintln(w, "  bootstrap --actor ID   Mint an admin API token, creating config if needed")
	fmt.Fprintln(w, "  version                Print the version")
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Site:      %s\n", cfg.Site.BaseURL)

	if cfg.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    ")
		cyan.Print(cfg.Matrix.UserID)
		fmt.Println()
	}

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting keydrop",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"matrix", cfg.Matrix.Enabled,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	admins := auth.NewAllowlist(cfg.Admins)
	if admins.Size() == 0 {
		logger.Warn("no admins configured - uploads and token management are unavailable")
	}

	// The bot's audit-room sink needs the bot, and the bot needs the
	// issuer, so the issuer gets a slot that is pointed at the bot's sink
	// after construction.
	botSink := &audit.Slot{}
	sink := audit.Fanout(
		audit.NewStoreSink(st, logger),
		audit.NewLogSink(logger),
		botSink,
	)

	svc := issuer.New(issuer.Config{
		Store:       st,
		Keygen:      keygen.New(cfg.Issuer.TokenLength),
		Audit:       sink,
		Admins:      admins,
		SiteBaseURL: cfg.Site.BaseURL,
		StockPublic: cfg.Issuer.StockPublic,
		Logger:      logger,
	})

	var b *bot.Bot
	if cfg.Matrix.Enabled {
		b, err = bot.New(cfg.Matrix, svc, admins, logger)
		if err != nil {
			return fmt.Errorf("creating bot: %w", err)
		}
		botSink.Set(b.AuditSink())
	}

	srv, err := server.New(server.Options{
		Config:  cfg,
		Store:   st,
		Issuer:  svc,
		Admins:  admins,
		Version: version,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	runners := []func(context.Context) error{srv.Run}
	if b != nil {
		runners = append(runners, b.Run)
	}
	return runAll(ctx, runners)
}

// runAll runs the server and the bot until one fails or the context is
// canceled. The first failure cancels the rest; the first error wins.
func runAll(ctx context.Context, runners []func(context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(runners))
	for _, run := range runners {
		go func() { errCh <- run(runCtx) }()
	}

	var firstErr error
	for range runners {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with a random API secret (if not exists)
// 2. Mints an admin API token for the given actor
//
// This is a one-command setup: keydrop bootstrap --actor "ops@example.com"
func runBootstrap() error {
	// Parse args with explicit error handling
	// Supports both "--actor value" and "--actor=value" formats
	var actorID string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--actor" || arg == "-a":
			if i+1 >= len(args) {
				return fmt.Errorf("--actor requires a value")
			}
			actorID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--actor="):
			actorID = strings.TrimPrefix(arg, "--actor=")
		case strings.HasPrefix(arg, "-a="):
			actorID = strings.TrimPrefix(arg, "-a=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if actorID == "" {
		return fmt.Errorf("--actor flag is required")
	}

	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return fmt.Errorf("actor ID cannot be empty or whitespace only")
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "keydrop.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	// Check if config exists, create if not
	var cfg *config.Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Generate random API secret
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating API secret: %w", err)
		}
		apiSecret := base64.StdEncoding.EncodeToString(secretBytes)

		// Create config directory
		configDir := filepath.Dir(configPath)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		// Create data directory
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		// Write config file
		configContent := fmt.Sprintf(`# keydrop configuration
# Generated by keydrop bootstrap

server:
  http_addr: ":8080"

database:
  path: "%s"

site:
  base_url: "http://localhost:8080"

auth:
  api_secret: "%s"
  token_ttl: "720h"

admins:
  - "%s"

logging:
  level: "info"
  format: "text"
`, dbPath, apiSecret, actorID)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		green.Printf("  ✓ Created config: %s\n", configPath)

		// Load the config we just created
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		// Config exists, load it
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// Check API secret is configured
		if cfg.Auth.APISecret == "" {
			return fmt.Errorf("auth.api_secret not configured in %s (required for bootstrap)", configPath)
		}

		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	// A token for an actor outside the allow-list would pass signature
	// checks but fail every admin request with 403.
	admins := auth.NewAllowlist(cfg.Admins)
	if !admins.IsAdmin(actorID) {
		yellow.Printf("  ! %s is not in the admins list - add it to %s or the token will be rejected\n", actorID, configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.APISecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	tokenTTL := cfg.Auth.TokenTTL
	expiresAt := time.Now().Add(tokenTTL).UTC()

	token, err := verifier.Generate(actorID, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	// Save token to file for CLI tools to read
	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	// Print results
	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Admin API Token")
	cyan.Println("  ---------------")
	fmt.Printf("  Actor:   %s\n", actorID)
	fmt.Printf("  Token:   %s (expires %s)\n", tokenPath, expiresAt.Format("Jan 02, 2006 15:04 MST"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    keydrop serve          # start the server")
	fmt.Println("    keydrop-admin stock    # check the credential pool")
	fmt.Println()

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("keydrop configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "keydrop.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", ":8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Site
	fmt.Println("\n--- Site Configuration ---")
	baseURL := prompt(reader, "Base URL for access links", "http://localhost:8080")

	// Matrix
	fmt.Println("\n--- Matrix Configuration ---")
	enableMatrix := prompt(reader, "Enable the Matrix bot?", "yes")
	matrixEnabled := strings.ToLower(enableMatrix) == "yes" || strings.ToLower(enableMatrix) == "y"

	var homeserver, userID, accessToken, commandPrefix, auditRoom string
	var allowedRooms []string
	if matrixEnabled {
		homeserver = prompt(reader, "Homeserver URL", "https://matrix.org")
		userID = prompt(reader, "Bot user ID", "@keydrop:matrix.org")
		accessToken = prompt(reader, "Bot access token", "")
		commandPrefix = prompt(reader, "Command prefix", config.DefaultCommandPrefix)
		allowedRooms = splitList(prompt(reader, "Allowed room IDs (comma-separated, empty allows all)", ""))
		auditRoom = prompt(reader, "Audit room ID (empty disables)", "")
	}

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	apiSecret := prompt(reader, "Admin API secret (empty disables the admin API)", "")
	adminIDs := splitList(prompt(reader, "Admin IDs (comma-separated)", ""))

	// Tailscale
	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "keydrop")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for TS_AUTHKEY)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
		funnelStr := prompt(reader, "Enable Funnel (public HTTPS)?", "no")
		tsFunnel = strings.ToLower(funnelStr) == "yes" || strings.ToLower(funnelStr) == "y"
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# keydrop configuration\n")
	cfg.WriteString("# Generated by keydrop init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("site:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", baseURL))
	cfg.WriteString("\n")

	cfg.WriteString("matrix:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", matrixEnabled))
	if matrixEnabled {
		cfg.WriteString(fmt.Sprintf("  homeserver: \"%s\"\n", homeserver))
		cfg.WriteString(fmt.Sprintf("  user_id: \"%s\"\n", userID))
		cfg.WriteString(fmt.Sprintf("  access_token: \"%s\"\n", accessToken))
		cfg.WriteString(fmt.Sprintf("  command_prefix: \"%s\"\n", commandPrefix))
		if len(allowedRooms) > 0 {
			cfg.WriteString("  allowed_rooms:\n")
			for _, room := range allowedRooms {
				cfg.WriteString(fmt.Sprintf("    - \"%s\"\n", room))
			}
		}
		if auditRoom != "" {
			cfg.WriteString(fmt.Sprintf("  audit_room: \"%s\"\n", auditRoom))
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  api_secret: \"%s\"\n", apiSecret))
	cfg.WriteString("\n")

	if len(adminIDs) > 0 {
		cfg.WriteString("admins:\n")
		for _, id := range adminIDs {
			cfg.WriteString(fmt.Sprintf("  - \"%s\"\n", id))
		}
	} else {
		cfg.WriteString("admins: []\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file; it can hold a Matrix access token and the API secret
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  keydrop serve\n")

	return nil
}

// splitList parses a comma-separated prompt answer, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
