// Package config manages depot configuration: the client's .depot directory and
// the server's TOML settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const (
	DepotDir   = ".depot"
	ConfigFile = "config"
)

// Config is the client configuration stored in .depot/config.
type Config struct {
	ServerURL     string `toml:"server_url"`
	Repo          string `toml:"repo"`
	Token         string `toml:"token,omitempty"`
	User          string `toml:"user,omitempty"`
	Branch        string `toml:"branch,omitempty"`
	WorkspaceID   string `toml:"workspace_id,omitempty"`
	WorkspaceName string `toml:"workspace_name,omitempty"`
	path          string // path to .depot directory
}

// FindRoot finds the .depot directory by walking up from dir.
func FindRoot(dir string) (string, error) {
	for {
		p := filepath.Join(dir, DepotDir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a depot workspace (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration of the workspace containing the current directory.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadFrom(cwd)
}

// LoadFrom loads the configuration of the workspace containing dir.
func LoadFrom(dir string) (*Config, error) {
	root, err := FindRoot(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.path = root
	return &cfg, nil
}

// Save writes the configuration to disk. It may hold a token, so it is private to the user.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0600)
}

// Path returns the path to the .depot directory.
func (c *Config) Path() string {
	return c.path
}

// Root returns the workspace root, the directory holding .depot.
func (c *Config) Root() string {
	return filepath.Dir(c.path)
}

// Initialize creates .depot in dir with the given server and repo.
func Initialize(dir, serverURL, repo string) (*Config, error) {
	p := filepath.Join(dir, DepotDir)

	if _, err := os.Stat(p); err == nil {
		return nil, fmt.Errorf("depot workspace already exists")
	}

	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .depot directory: %w", err)
	}

	cfg := &Config{
		ServerURL: serverURL,
		Repo:      repo,
		path:      p,
	}

	if err := cfg.Save(); err != nil {
		os.RemoveAll(p)
		return nil, err
	}

	return cfg, nil
}

// TokenOrEnv returns the configured token, falling back to DEPOT_TOKEN.
func (c *Config) TokenOrEnv() string {
	if c.Token != "" {
		return c.Token
	}
	return os.Getenv("DEPOT_TOKEN")
}
