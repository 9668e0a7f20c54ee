package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Engine   EngineConfig   `toml:"engine"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	Identity IdentityConfig `toml:"identity"`
	Wallet   WalletConfig   `toml:"wallet"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type EngineConfig struct {
	SweepInterval       Duration `toml:"sweep_interval"`
	ConfirmationDelay   Duration `toml:"confirmation_delay"`
	ConfirmationTimeout Duration `toml:"confirmation_timeout"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// IdentityConfig persists the connected wallet. An empty address means disconnected.
type IdentityConfig struct {
	Address string `toml:"address"`
	Network string `toml:"network"`
}

type WalletConfig struct {
	ConnectDelay Duration `toml:"connect_delay"`
}

// Duration decodes TOML strings such as "1s" or "1500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Engine: EngineConfig{
			SweepInterval:       Duration{time.Second},
			ConfirmationDelay:   Duration{0},
			ConfirmationTimeout: Duration{10 * time.Second},
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".poa/log",
			},
		},
		Wallet: WalletConfig{
			ConnectDelay: Duration{1500 * time.Millisecond},
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	if c.Engine.SweepInterval.Duration <= 0 {
		return fmt.Errorf("engine.sweep_interval must be > 0, got %s", c.Engine.SweepInterval.Duration)
	}
	if c.Engine.ConfirmationDelay.Duration < 0 {
		return fmt.Errorf("engine.confirmation_delay must be >= 0, got %s", c.Engine.ConfirmationDelay.Duration)
	}
	if c.Engine.ConfirmationTimeout.Duration <= c.Engine.ConfirmationDelay.Duration {
		return fmt.Errorf("engine.confirmation_timeout (%s) must exceed engine.confirmation_delay (%s)", c.Engine.ConfirmationTimeout.Duration, c.Engine.ConfirmationDelay.Duration)
	}
	if c.Wallet.ConnectDelay.Duration < 0 {
		return fmt.Errorf("wallet.connect_delay must be >= 0, got %s", c.Wallet.ConnectDelay.Duration)
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	for name, endpoint := range map[string]string{
		"server.api_endpoint": c.Server.APIEndpoint,
		"server.mcp_endpoint": c.Server.MCPEndpoint,
	} {
		if !strings.HasPrefix(strings.TrimSpace(endpoint), "/") {
			return fmt.Errorf("%s must start with '/': %q", name, endpoint)
		}
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	switch strings.TrimSpace(strings.ToLower(c.Identity.Network)) {
	case "", "testnet", "mainnet":
	default:
		return fmt.Errorf("invalid identity.network: %q", c.Identity.Network)
	}

	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// UpsertIdentity rewrites the [identity] table, preserving every other table in the file.
func UpsertIdentity(path, address, network string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("config path is required")
	}
	doc := map[string]any{}
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read config: %w", err)
	case len(content) > 0:
		if err := toml.Unmarshal(content, &doc); err != nil {
			return fmt.Errorf("decode toml: %w", err)
		}
	}

	doc["identity"] = map[string]any{
		"address": strings.TrimSpace(address),
		"network": strings.TrimSpace(network),
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// IdentityFile persists wallet identity into the config file at its path.
type IdentityFile string

// SaveIdentity upserts the identity table.
func (f IdentityFile) SaveIdentity(address, network string) error {
	return UpsertIdentity(string(f), address, network)
}
