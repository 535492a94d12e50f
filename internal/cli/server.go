package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/depot/internal/config"
	"github.com/kilupskalvis/depot/internal/ledger"
	"github.com/kilupskalvis/depot/internal/remote"
	"github.com/kilupskalvis/depot/internal/remote/server"
	"github.com/kilupskalvis/depot/internal/store"
	"github.com/kilupskalvis/depot/internal/tracing"
)

var (
	serverConfigPath    string
	serverListen        string
	serverDataDir       string
	serverLogLevel      string
	serverLogFormat     string
	serverTLSCert       string
	serverTLSKey        string
	serverWebhookURLs   string
	serverWebhookSecret string
	serverRateLimit     int
	serverRedisURL      string
	serverOTLPEndpoint  string

	serverAdminURL        string
	serverAdminToken      string
	serverTokenDesc       string
	serverTokenUser       string
	serverTokenRepos      []string
	serverTokenPermission string
	serverRepoPublic      bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run and administer the depot server",
	Long:  "Commands for running the depot server and managing its tokens and repositories.",
}

// newServerStartCmd builds the start command. It backs both "depot server start"
// and the standalone depot-server binary.
func newServerStartCmd(use string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: "Start the depot server",
		Long: `Start the depot server.

The server keeps the changelist ledger in SQLite and bearer tokens in bbolt,
both under the data directory. Settings come from built-in defaults, then the
--config TOML file, then DEPOT_* environment variables, then flags.

The admin token is read from the DEPOT_ADMIN_TOKEN environment variable and
enables the /admin/ endpoints for token and repository management.

Examples:
  depot server start
  depot server start --listen 0.0.0.0:8730 --data-dir /var/lib/depot
  depot server start --config /etc/depot/server.toml
  depot server start --redis-url redis://cache:6379/0 --otlp-endpoint collector:4317`,
		Args: cobra.NoArgs,
		Run:  runServerStart,
	}

	f := cmd.Flags()
	f.StringVar(&serverConfigPath, "config", os.Getenv("DEPOT_CONFIG"), "Server config file (TOML)")
	f.StringVar(&serverListen, "listen", "", "Listen address (host:port)")
	f.StringVar(&serverDataDir, "data-dir", "", "Directory for the ledger and token databases")
	f.StringVar(&serverLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	f.StringVar(&serverLogFormat, "log-format", "", "Log format (json|text)")
	f.StringVar(&serverTLSCert, "tls-cert", "", "TLS certificate file")
	f.StringVar(&serverTLSKey, "tls-key", "", "TLS key file")
	f.StringVar(&serverWebhookURLs, "webhook-urls", "", "Comma-separated webhook URLs to notify on submit and merge")
	f.StringVar(&serverWebhookSecret, "webhook-secret", "", "HMAC secret for signing webhook payloads")
	f.IntVar(&serverRateLimit, "rate-limit", 0, "Requests per minute per token or IP (0 disables)")
	f.StringVar(&serverRedisURL, "redis-url", "", "Share rate limits through Redis")
	f.StringVar(&serverOTLPEndpoint, "otlp-endpoint", "", "OTLP/gRPC collector for traces")
	return cmd
}

// ExecuteServer runs the server start command as a standalone program.
func ExecuteServer() error {
	return newServerStartCmd("depot-server").Execute()
}

func init() {
	serverCmd.AddCommand(newServerStartCmd("start"))
	serverCmd.AddCommand(serverTokensCmd)
	serverCmd.AddCommand(serverReposCmd)

	// Both parents bind the same vars; only one command path runs per process.
	for _, cmd := range []*cobra.Command{serverTokensCmd, serverReposCmd} {
		cmd.PersistentFlags().StringVar(&serverAdminURL, "url",
			os.Getenv("DEPOT_SERVER_URL"),
			"Server base URL (env: DEPOT_SERVER_URL)")
		cmd.PersistentFlags().StringVar(&serverAdminToken, "admin-token",
			os.Getenv("DEPOT_ADMIN_TOKEN"),
			"Admin token (env: DEPOT_ADMIN_TOKEN)")
	}

	serverTokensCmd.AddCommand(serverTokensCreateCmd, serverTokensListCmd, serverTokensDeleteCmd)
	serverReposCmd.AddCommand(serverReposCreateCmd, serverReposListCmd, serverReposDeleteCmd)

	tf := serverTokensCreateCmd.Flags()
	tf.StringVar(&serverTokenDesc, "desc", "", "Token description")
	tf.StringVar(&serverTokenUser, "user", "", "User the token authenticates as (required)")
	tf.StringArrayVar(&serverTokenRepos, "repo", nil,
		"Repo name or glob to grant access to, repeat for multiple (default: *)")
	tf.StringVar(&serverTokenPermission, "permission", "rw", "Permission level: ro, rw or admin")
	_ = serverTokensCreateCmd.MarkFlagRequired("user")

	serverReposCreateCmd.Flags().BoolVar(&serverRepoPublic, "public", false, "Allow read access to any token")
}

// loadServerConfig layers the config file, environment and explicitly set flags.
func loadServerConfig(cmd *cobra.Command) (*config.Server, error) {
	cfg, err := config.LoadServer(serverConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("listen", &cfg.Listen, serverListen)
	set("data-dir", &cfg.DataDir, serverDataDir)
	set("log-level", &cfg.Log.Level, serverLogLevel)
	set("log-format", &cfg.Log.Format, serverLogFormat)
	set("tls-cert", &cfg.TLSCert, serverTLSCert)
	set("tls-key", &cfg.TLSKey, serverTLSKey)
	set("webhook-secret", &cfg.Webhooks.Secret, serverWebhookSecret)
	set("redis-url", &cfg.RateLimit.RedisURL, serverRedisURL)
	set("otlp-endpoint", &cfg.Tracing.Endpoint, serverOTLPEndpoint)
	if flags.Changed("webhook-urls") {
		cfg.Webhooks.URLs = config.SplitList(serverWebhookURLs)
	}
	if flags.Changed("rate-limit") {
		cfg.RateLimit.RequestsPerMinute = serverRateLimit
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func runServerStart(cmd *cobra.Command, _ []string) {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		exitError("%v", err)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "error", err, "path", cfg.DataDir)
		os.Exit(1)
	}

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
		Enabled:     cfg.Tracing.Endpoint != "",
	})
	if err != nil {
		logger.Error("failed to initialise tracing", "error", err)
		os.Exit(1)
	}

	st, err := store.OpenSQLite(cfg.LedgerPath(), nil)
	if err != nil {
		logger.Error("failed to open ledger", "error", err, "path", cfg.LedgerPath())
		os.Exit(1)
	}
	defer st.Close()

	tokens, err := server.OpenBoltTokenStore(cfg.TokensPath())
	if err != nil {
		logger.Error("failed to open token store", "error", err, "path", cfg.TokensPath())
		os.Exit(1)
	}
	defer tokens.Close()

	initial, maxBackoff, _ := cfg.Retry.Backoffs()
	retry := ledger.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Retry.MaxAttempts
	retry.InitialBackoff = initial
	retry.MaxBackoff = maxBackoff

	opts := []ledger.Option{ledger.WithLogger(logger), ledger.WithRetry(retry)}
	if wn := server.NewWebhookNotifier(&server.WebhookConfig{
		URLs:   cfg.Webhooks.URLs,
		Secret: cfg.Webhooks.Secret,
	}, logger); wn != nil {
		opts = append(opts, ledger.WithNotifier(wn))
		logger.Info("webhooks configured", "count", len(cfg.Webhooks.URLs))
	}
	svc := ledger.NewService(st, opts...)

	scfg := server.DefaultServerConfig()
	scfg.AdminToken = os.Getenv("DEPOT_ADMIN_TOKEN")
	scfg.RequestsPerMinute = cfg.RateLimit.RequestsPerMinute
	if cfg.RateLimit.RedisURL != "" && cfg.RateLimit.RequestsPerMinute > 0 {
		ropts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(ropts)
		defer rdb.Close()
		scfg.Limiter = server.NewRedisLimiter(rdb, cfg.RateLimit.RequestsPerMinute)
		logger.Info("rate limits shared through redis", "addr", ropts.Addr)
	}

	h, handlerCleanup := server.Handler(svc, tokens, scfg, logger)
	defer handlerCleanup()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting depot server", "listen", cfg.Listen, "data_dir", cfg.DataDir)
		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

// --- depot server tokens ---

var serverTokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage server tokens",
	Long:  "Commands for managing authentication tokens on a running depot server.",
}

var serverTokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new authentication token",
	Run:   runServerTokensCreate,
}

var serverTokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all authentication tokens",
	Run:   runServerTokensList,
}

var serverTokensDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an authentication token",
	Args:  cobra.ExactArgs(1),
	Run:   runServerTokensDelete,
}

// --- depot server repos ---

var serverReposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Manage server repositories",
	Long:  "Commands for managing repositories on a running depot server.",
}

var serverReposCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a repository with a main mainline branch",
	Args:  cobra.ExactArgs(1),
	Run:   runServerReposCreate,
}

var serverReposListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all repositories",
	Run:   runServerReposList,
}

var serverReposDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a repository",
	Args:  cobra.ExactArgs(1),
	Run:   runServerReposDelete,
}

// resolveAdminClient builds an AdminClient from the package-level admin flag vars.
func resolveAdminClient() *remote.AdminClient {
	if serverAdminURL == "" {
		exitError("--url or DEPOT_SERVER_URL is required")
	}
	if serverAdminToken == "" {
		exitError("--admin-token or DEPOT_ADMIN_TOKEN is required")
	}
	return remote.NewAdminClient(serverAdminURL, serverAdminToken)
}

func runServerTokensCreate(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	repos := serverTokenRepos
	if len(repos) == 0 {
		repos = []string{"*"}
	}

	resp, err := c.CreateToken(ctx, &remote.AdminTokenRequest{
		Description: serverTokenDesc,
		UserID:      serverTokenUser,
		Repos:       repos,
		Permission:  serverTokenPermission,
	})
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println("Token created.")
	fmt.Printf("  ID:          %s\n", resp.ID)
	fmt.Printf("  User:        %s\n", resp.UserID)
	fmt.Printf("  Description: %s\n", resp.Description)
	fmt.Printf("  Repos:       %s\n", strings.Join(resp.Repos, ", "))
	fmt.Printf("  Permission:  %s\n", resp.Permission)
	fmt.Println()
	green.Printf("Token: %s\n", resp.Token)
	yellow.Println("Save this token. It will not be shown again.")
}

func runServerTokensList(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	tokens, err := c.ListTokens(ctx)
	if err != nil {
		exitError("%v", err)
	}

	if len(tokens) == 0 {
		return
	}

	fmt.Printf("  %-40s  %-12s  %-20s  %-16s  %s\n", "ID", "User", "Description", "Repos", "Permission")
	for _, t := range tokens {
		fmt.Printf("  %-40s  %-12s  %-20s  %-16s  %s\n",
			t.ID,
			t.UserID,
			t.Description,
			strings.Join(t.Repos, ","),
			t.Permission,
		)
	}
}

func runServerTokensDelete(_ *cobra.Command, args []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	if err := c.DeleteToken(ctx, args[0]); err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Deleted token '%s'\n", args[0])
}

func runServerReposCreate(_ *cobra.Command, args []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	repo, err := c.CreateRepo(ctx, args[0], serverRepoPublic)
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Created repository '%s' (%s)\n", repo.Name, shortID(repo.ID))
}

func runServerReposList(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	repos, err := c.ListRepos(ctx)
	if err != nil {
		exitError("%v", err)
	}

	for _, r := range repos {
		if r.Public {
			fmt.Printf("  %s (public)\n", r.Name)
		} else {
			fmt.Printf("  %s\n", r.Name)
		}
	}
}

func runServerReposDelete(_ *cobra.Command, args []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	if err := c.DeleteRepo(ctx, args[0]); err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Deleted repository '%s'\n", args[0])
}
