// ABOUTME: Entry point for the atdeck session daemon and CLI
// ABOUTME: Runs the local API server and drives it from the command line

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/atdeck/atdeck/internal/atproto"
	"github.com/atdeck/atdeck/internal/auth"
	"github.com/atdeck/atdeck/internal/config"
	"github.com/atdeck/atdeck/internal/deck"
	"github.com/atdeck/atdeck/internal/session"
	"github.com/atdeck/atdeck/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _      _           _
  __ _| |_ __| | ___  ___| | __
 / _' | __/ _' |/ _ \/ __| |/ /
| (_| | || (_| |  __/ (__|   <
 \__,_|\__\__,_|\___|\___|_|\_\
`

// getConfigPath returns the path to the atdeck config file.
// Priority: ATDECK_CONFIG env var > XDG_CONFIG_HOME/atdeck/config.yaml > ~/.config/atdeck/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ATDECK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "atdeck", "config.yaml")
}

// getDataPath returns the path to the atdeck data directory.
// Priority: XDG_DATA_HOME/atdeck > ~/.local/share/atdeck
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "atdeck")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: atdeck <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the deck daemon")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  login                  Log in an account interactively")
		fmt.Println("  logout HANDLE          Log out an account")
		fmt.Println("  accounts               List active accounts")
		fmt.Println("  status                 Show session health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "login":
		err = runLogin(ctx)
	case "logout":
		err = runLogout(ctx)
	case "accounts":
		err = runAccounts(ctx)
	case "status":
		err = runStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
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
	slog.SetDefault(logger)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("API:      %s\n", cfg.API.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Service:  %s\n", cfg.ATProto.DefaultService)
	fmt.Println()

	logger.Info("starting atdeck",
		"config", configPath,
		"api_addr", cfg.API.Addr,
		"default_service", cfg.ATProto.DefaultService,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	creds, err := auth.NewFileCredentialStore(filepath.Join(cfg.Auth.CredentialsDir, "credentials.json"))
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	client := atproto.NewXRPCClient(cfg.ATProto.RequestTimeout)
	authn := auth.NewAuthenticator(client, creds, cfg.Auth.DefaultTTL)
	registry := session.NewRegistry(logger)
	service := deck.NewService(st, authn, registry, cfg.ATProto.DefaultService)

	server := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: deck.NewAPI(service).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
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

// apiRequest sends a JSON request to the running daemon's local API.
func apiRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	url := fmt.Sprintf("http://%s%s", cfg.API.Addr, path)
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the daemon running? (atdeck serve): %w", err)
	}
	return resp, nil
}

// apiError extracts the error message from a failed API response.
func apiError(resp *http.Response) error {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error == "" {
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("%s (status %d)", envelope.Error, resp.StatusCode)
}

func runLogin(ctx context.Context) error {
	reader := bufio.NewReader(os.Stdin)

	identifier := prompt(reader, "Handle or email", "")
	if identifier == "" {
		return fmt.Errorf("identifier is required")
	}
	password := prompt(reader, "App password", "")
	if password == "" {
		return fmt.Errorf("password is required")
	}
	serviceURL := prompt(reader, "Service URL (empty for default)", "")

	resp, err := apiRequest(ctx, http.MethodPost, "/api/login", map[string]string{
		"identifier":  identifier,
		"password":    password,
		"service_url": serviceURL,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var login struct {
		Account struct {
			Handle string `json:"handle"`
			DID    string `json:"did"`
		} `json:"account"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Logged in: %s\n", login.Account.Handle)
	fmt.Printf("    DID: %s\n", login.Account.DID)
	return nil
}

func runLogout(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: atdeck logout HANDLE")
	}
	handle := os.Args[2]

	resp, err := apiRequest(ctx, http.MethodPost, "/api/logout", map[string]string{"handle": handle})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}

	color.New(color.FgGreen).Printf("  ✓ Logged out: %s\n", handle)
	return nil
}

func runAccounts(ctx context.Context) error {
	resp, err := apiRequest(ctx, http.MethodGet, "/api/state", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var state struct {
		ActiveAccounts []struct {
			ID          int64   `json:"id"`
			Handle      string  `json:"handle"`
			DID         string  `json:"did"`
			DisplayName *string `json:"display_name"`
		} `json:"active_accounts"`
		TotalAccounts     int  `json:"total_accounts"`
		AllAccountsActive bool `json:"all_accounts_active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if state.TotalAccounts == 0 {
		fmt.Println("No accounts. Log in with: atdeck login")
		return nil
	}

	cyan := color.New(color.FgCyan)
	for _, account := range state.ActiveAccounts {
		cyan.Printf("  %s", account.Handle)
		if account.DisplayName != nil && *account.DisplayName != "" {
			fmt.Printf(" (%s)", *account.DisplayName)
		}
		fmt.Printf("  %s\n", account.DID)
	}
	fmt.Println()
	if state.AllAccountsActive {
		color.New(color.FgGreen).Println("  All accounts connected")
	} else {
		color.New(color.FgYellow).Println("  Some accounts are disconnected")
	}
	return nil
}

func runStatus(ctx context.Context) error {
	resp, err := apiRequest(ctx, http.MethodGet, "/api/sessions", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Sessions []struct {
			Handle       string    `json:"handle"`
			IsConnected  bool      `json:"is_connected"`
			Health       string    `json:"session_health"`
			LastActivity time.Time `json:"last_activity"`
		} `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(payload.Sessions) == 0 {
		fmt.Println("No live sessions.")
		return nil
	}

	for _, s := range payload.Sessions {
		var c *color.Color
		switch s.Health {
		case "healthy":
			c = color.New(color.FgGreen)
		case "warning":
			c = color.New(color.FgYellow)
		default:
			c = color.New(color.FgRed)
		}
		c.Printf("  ● %-10s", s.Health)
		fmt.Printf(" %s  last activity %s\n", s.Handle, s.LastActivity.Local().Format("15:04:05"))
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("atdeck configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "deck.db")
	defaultCredsDir := filepath.Join(defaultDataPath, "credentials")

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

	// API
	fmt.Println("\n--- API Configuration ---")
	apiAddr := prompt(reader, "Local API address", "127.0.0.1:4848")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// AT Protocol
	fmt.Println("\n--- AT Protocol Configuration ---")
	serviceURL := prompt(reader, "Default service URL", "https://bsky.social")
	requestTimeout := prompt(reader, "Request timeout", "30s")

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	credsDir := prompt(reader, "Credentials directory", defaultCredsDir)
	defaultTTL := prompt(reader, "Default token TTL", "2h")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# atdeck configuration\n")
	cfg.WriteString("# Generated by atdeck init\n\n")

	cfg.WriteString("api:\n")
	cfg.WriteString(fmt.Sprintf("  addr: \"%s\"\n", apiAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("atproto:\n")
	cfg.WriteString(fmt.Sprintf("  default_service: \"%s\"\n", serviceURL))
	cfg.WriteString(fmt.Sprintf("  request_timeout: \"%s\"\n", requestTimeout))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  credentials_dir: \"%s\"\n", credsDir))
	cfg.WriteString(fmt.Sprintf("  default_ttl: \"%s\"\n", defaultTTL))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
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
	fmt.Println("\nTo start the daemon:")
	fmt.Printf("  atdeck serve\n")

	return nil
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
