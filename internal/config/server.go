package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server is the server configuration. Values come from defaults, then an optional TOML
// file, then DEPOT_* environment variables, then command-line flags.
type Server struct {
	Listen    string          `toml:"listen"`
	DataDir   string          `toml:"data_dir"`
	TLSCert   string          `toml:"tls_cert,omitempty"`
	TLSKey    string          `toml:"tls_key,omitempty"`
	Log       LogConfig       `toml:"log"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Webhooks  WebhookConfig   `toml:"webhooks"`
	Tracing   TracingConfig   `toml:"tracing"`
	Retry     RetryConfig     `toml:"retry"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug|info|warn|error
	Format string `toml:"format"` // json|text
}

type RateLimitConfig struct {
	RequestsPerMinute int    `toml:"requests_per_minute"`
	RedisURL          string `toml:"redis_url,omitempty"` // shared limiter when set
}

type WebhookConfig struct {
	URLs   []string `toml:"urls"`
	Secret string   `toml:"secret,omitempty"`
}

type TracingConfig struct {
	Endpoint    string  `toml:"endpoint,omitempty"` // OTLP/gRPC collector, tracing is off when empty
	ServiceName string  `toml:"service_name"`
	SampleRate  float64 `toml:"sample_rate"`
	Insecure    bool    `toml:"insecure"`
}

// RetryConfig bounds how often a conflicting ledger transaction is re-run.
type RetryConfig struct {
	MaxAttempts    int    `toml:"max_attempts"`
	InitialBackoff string `toml:"initial_backoff"`
	MaxBackoff     string `toml:"max_backoff"`
}

// DefaultServer returns the built-in server defaults.
func DefaultServer() *Server {
	return &Server{
		Listen:  "127.0.0.1:8730",
		DataDir: defaultDataDir(),
		Log:     LogConfig{Level: "info", Format: "json"},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 600,
		},
		Tracing: TracingConfig{ServiceName: "depot", SampleRate: 1.0},
		Retry: RetryConfig{
			MaxAttempts:    5,
			InitialBackoff: "10ms",
			MaxBackoff:     "250ms",
		},
	}
}

// defaultDataDir returns the default server data directory (~/.depot-server).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/depot-server"
	}
	return filepath.Join(home, ".depot-server")
}

// LoadServer reads a TOML file over the defaults. An empty path returns the defaults.
func LoadServer(path string) (*Server, error) {
	cfg := DefaultServer()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read server config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays DEPOT_* environment variables that are set.
func (s *Server) ApplyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("DEPOT_LISTEN", &s.Listen)
	setString("DEPOT_DATA_DIR", &s.DataDir)
	setString("DEPOT_TLS_CERT", &s.TLSCert)
	setString("DEPOT_TLS_KEY", &s.TLSKey)
	setString("DEPOT_LOG_LEVEL", &s.Log.Level)
	setString("DEPOT_LOG_FORMAT", &s.Log.Format)
	setString("DEPOT_REDIS_URL", &s.RateLimit.RedisURL)
	setString("DEPOT_WEBHOOK_SECRET", &s.Webhooks.Secret)
	setString("DEPOT_OTLP_ENDPOINT", &s.Tracing.Endpoint)

	if v := os.Getenv("DEPOT_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("DEPOT_WEBHOOK_URLS"); v != "" {
		s.Webhooks.URLs = SplitList(v)
	}
}

// Validate checks values that cannot be checked by decoding alone.
func (s *Server) Validate() error {
	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", s.Log.Level)
	}
	switch s.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", s.Log.Format)
	}
	if (s.TLSCert == "") != (s.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	if s.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if _, _, err := s.Retry.Backoffs(); err != nil {
		return err
	}
	return nil
}

// Backoffs parses the retry backoff durations.
func (r RetryConfig) Backoffs() (initial, max time.Duration, err error) {
	initial, err = time.ParseDuration(r.InitialBackoff)
	if err != nil {
		return 0, 0, fmt.Errorf("retry initial_backoff: %w", err)
	}
	max, err = time.ParseDuration(r.MaxBackoff)
	if err != nil {
		return 0, 0, fmt.Errorf("retry max_backoff: %w", err)
	}
	return initial, max, nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LedgerPath is the SQLite ledger database inside the data directory.
func (s *Server) LedgerPath() string {
	return filepath.Join(s.DataDir, "depot.db")
}

// TokensPath is the bbolt token database inside the data directory.
func (s *Server) TokensPath() string {
	return filepath.Join(s.DataDir, "tokens.db")
}
