// ABOUTME: Admin CLI for the keydrop credential service
// ABOUTME: Talks JSON over HTTP to the admin API with JWT authentication

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"

	"github.com/2389/keydrop/internal/server"
)

const banner = `
 _                      _
| | __  ___  _   _   __| | _ __   ___   _ __
| |/ / / _ \| | | | / _' || '__| / _ \ | '_ \
|   < |  __/| |_| || (_| || |   | (_) || |_) |
|_|\_\ \___| \__, | \__,_||_|    \___/ | .__/
             |___/                     |_|
`

// adminConfig is the ~/.config/keydrop/admin.toml file. Both fields can
// be overridden by the KEYDROP_SERVER and KEYDROP_TOKEN environment
// variables.
type adminConfig struct {
	Server string `toml:"server"`
	Token  string `toml:"token"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	client := newClient(loadAdminConfig())

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(client)
	case "stock":
		err = cmdStock(client)
	case "issue":
		err = cmdIssue(client)
	case "list", "ls":
		err = cmdList(client, args)
	case "info":
		err = cmdInfo(client, args)
	case "revoke":
		err = cmdRevoke(client, args)
	case "search":
		err = cmdSearch(client, args)
	case "upload":
		err = cmdUpload(client, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: keydrop-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                        Show server health and token validity")
	fmt.Println("  stock                         Show how many credentials are unclaimed")
	fmt.Println("  issue                         Issue a credential to yourself")
	fmt.Println("  list [--active] [--limit N]   List issued tokens, newest first")
	fmt.Println("  info <token>                  Show one token's details")
	fmt.Println("  revoke <token>                Revoke a token")
	fmt.Println("  search <query>                Search tokens by owner id or handle")
	fmt.Println("  upload <file>                 Add credential lines from a file (- for stdin)")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  KEYDROP_SERVER                Server base URL (default: http://localhost:8080)")
	fmt.Println("  KEYDROP_TOKEN                 Admin API token (from 'keydrop bootstrap')")
	fmt.Println()
	yellow.Println("Config file " + adminConfigPath() + ":")
	fmt.Println("  server = \"https://keydrop.example.com\"")
	fmt.Println("  token = \"eyJhbG...\"")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  keydrop-admin upload creds.txt")
	fmt.Println("  keydrop-admin list --active")
	fmt.Println("  keydrop-admin revoke Ab3xY7kQ2p")
	fmt.Println()
}

// configDir returns the keydrop config directory, shared with the daemon.
func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(dir, "keydrop")
}

func adminConfigPath() string {
	return filepath.Join(configDir(), "admin.toml")
}

// loadAdminConfig reads admin.toml if present, then applies env overrides.
// A missing file is fine; everything can come from the environment.
func loadAdminConfig() adminConfig {
	cfg := adminConfig{Server: "http://localhost:8080"}

	if data, err := os.ReadFile(adminConfigPath()); err == nil {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: ignoring %s: %v\n", adminConfigPath(), err)
		}
	}

	if server := os.Getenv("KEYDROP_SERVER"); server != "" {
		cfg.Server = server
	}
	if token := os.Getenv("KEYDROP_TOKEN"); token != "" {
		cfg.Token = token
	}
	if cfg.Token == "" {
		cfg.Token = readTokenFile()
	}

	cfg.Server = strings.TrimRight(cfg.Server, "/")
	return cfg
}

// readTokenFile returns the token written by keydrop bootstrap, if any.
func readTokenFile() string {
	data, err := os.ReadFile(filepath.Join(configDir(), "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// apiClient talks to the keydrop admin API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newClient(cfg adminConfig) *apiClient {
	return &apiClient{
		base:  cfg.Server,
		token: cfg.Token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// apiError is the JSON error body the server sends.
type apiError struct {
	Error string `json:"error"`
}

func (c *apiClient) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, c.base+path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// requireToken fails early with a hint instead of a bare 401.
func requireToken(c *apiClient) error {
	if c.token == "" {
		return fmt.Errorf("no API token: set KEYDROP_TOKEN, add token to %s, or run 'keydrop bootstrap'", adminConfigPath())
	}
	return nil
}

// cmdStatus shows server health and whether the configured token works
func cmdStatus(c *apiClient) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	var health server.HealthResponse
	if err := c.get("/api/health", &health); err != nil {
		yellow.Printf("  Server:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}

	green.Printf("  Server:  ")
	fmt.Printf("%s (%s, version %s)\n", c.base, health.Status, health.Version)
	green.Printf("  Stock:   ")
	fmt.Printf("%d unclaimed\n", health.Stock)

	if c.token == "" {
		yellow.Printf("  Token:   ")
		fmt.Println("(none - set KEYDROP_TOKEN or run 'keydrop bootstrap')")
		fmt.Println()
		return nil
	}

	// Probe an admin endpoint so a stale token shows up here, not mid-task
	var stock server.StockResponse
	if err := c.get("/api/admin/stock", &stock); err != nil {
		yellow.Printf("  Token:   ")
		color.Red("rejected (%v)\n", err)
	} else {
		green.Printf("  Token:   ")
		fmt.Println("accepted")
	}

	fmt.Println()
	return nil
}

// cmdStock shows the unclaimed credential count
func cmdStock(c *apiClient) error {
	if err := requireToken(c); err != nil {
		return err
	}

	var resp server.StockResponse
	if err := c.get("/api/admin/stock", &resp); err != nil {
		return err
	}

	fmt.Printf("%d credentials available\n", resp.Stock)
	return nil
}

// cmdIssue claims a credential and prints the access link
func cmdIssue(c *apiClient) error {
	if err := requireToken(c); err != nil {
		return err
	}

	var resp server.IssueResponse
	if err := c.post("/api/admin/issue", nil, &resp); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	green.Println("  Credential issued")
	fmt.Println()
	cyan.Println("  Token:  " + resp.Token)
	cyan.Println("  Login:  " + resp.Login)
	fmt.Println()
	fmt.Println("  Access link (hand this out):")
	fmt.Println()
	fmt.Println("  " + resp.Link)
	fmt.Println()

	return nil
}

// cmdList lists issued tokens newest first
func cmdList(c *apiClient, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}

	params := url.Values{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--active":
			params.Set("active", "true")
		case "--limit", "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--limit requires a value")
			}
			params.Set("limit", args[i+1])
			i++
		default:
			return fmt.Errorf("unknown flag: %s (use --active, --limit N)", args[i])
		}
	}

	path := "/api/admin/tokens"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp server.ListTokensResponse
	if err := c.get(path, &resp); err != nil {
		return err
	}

	printTokenTable("Issued Tokens", resp.Tokens)
	return nil
}

// cmdSearch finds tokens by owner substring
func cmdSearch(c *apiClient, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: search <query>")
	}

	query := strings.Join(args, " ")

	var resp server.ListTokensResponse
	if err := c.get("/api/admin/tokens?q="+url.QueryEscape(query), &resp); err != nil {
		return err
	}

	printTokenTable(fmt.Sprintf("Tokens matching %q", query), resp.Tokens)
	return nil
}

// cmdInfo shows one token's full record
func cmdInfo(c *apiClient, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: info <token>")
	}

	var resp server.TokenResponse
	if err := c.get("/api/admin/tokens/"+url.PathEscape(args[0]), &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)

	fmt.Println()
	cyan.Println("  Token")
	cyan.Println("  -----")
	fmt.Printf("  Token:     %s\n", resp.Token)
	fmt.Printf("  Status:    %s\n", resp.Status)
	fmt.Printf("  Login:     %s\n", resp.Login)
	fmt.Printf("  Owner:     %s\n", formatOwner(resp))
	fmt.Printf("  Created:   %s\n", formatWhen(resp.CreatedAt))
	fmt.Printf("  Accesses:  %d%s\n", resp.AccessCount, lastAccessSuffix(resp))
	if resp.RevokedAt != nil {
		fmt.Printf("  Revoked:   %s by %s\n", formatWhen(*resp.RevokedAt), resp.RevokedBy)
	}
	fmt.Println()

	return nil
}

// cmdRevoke disables a token
func cmdRevoke(c *apiClient, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: revoke <token>")
	}

	var resp server.TokenResponse
	if err := c.post("/api/admin/tokens/"+url.PathEscape(args[0])+"/revoke", nil, &resp); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Revoked: %s\n", resp.Token)
	if resp.RevokedAt != nil {
		fmt.Printf("  Revoked at: %s\n", formatWhen(*resp.RevokedAt))
	}

	return nil
}

// cmdUpload sends credential lines from a file or stdin
func cmdUpload(c *apiClient, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: upload <file> (use - for stdin)")
	}

	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}

	req := server.UploadEntriesRequest{Lines: strings.Split(string(data), "\n")}

	var resp server.UploadEntriesResponse
	if err := c.post("/api/admin/entries", req, &resp); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Added %d credentials\n", resp.Added)
	return nil
}

func printTokenTable(title string, tokens []server.TokenResponse) {
	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  " + title)
	cyan.Println("  " + strings.Repeat("-", len(title)))

	if len(tokens) == 0 {
		fmt.Println("  (no tokens)")
		fmt.Println()
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TOKEN\tSTATUS\tLOGIN\tOWNER\tUSES\tCREATED")
	fmt.Fprintln(w, "  -----\t------\t-----\t-----\t----\t-------")

	for _, t := range tokens {
		owner := t.OwnerID
		if t.OwnerHandle != "" {
			owner = t.OwnerHandle
		}
		created := t.CreatedAt
		if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
			created = ts.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%d\t%s\n",
			t.Token, t.Status, truncate(t.Login, 24), truncate(owner, 24), t.AccessCount, created)
	}
	w.Flush()
	fmt.Println()
}

func formatOwner(t server.TokenResponse) string {
	if t.OwnerHandle != "" {
		return fmt.Sprintf("%s (%s)", t.OwnerID, t.OwnerHandle)
	}
	return t.OwnerID
}

func formatWhen(rfc3339 string) string {
	if ts, err := time.Parse(time.RFC3339, rfc3339); err == nil {
		return ts.Local().Format("Jan 02, 2006 15:04")
	}
	return rfc3339
}

func lastAccessSuffix(t server.TokenResponse) string {
	if t.LastAccessAt == nil {
		return ""
	}
	return fmt.Sprintf(" (last %s)", formatWhen(*t.LastAccessAt))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
