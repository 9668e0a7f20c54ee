package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default("/tmp/poa.db")
	if cfg.Database.Path != "/tmp/poa.db" {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
	if cfg.Engine.SweepInterval.Duration != time.Second {
		t.Fatalf("unexpected sweep interval %s", cfg.Engine.SweepInterval.Duration)
	}
	if cfg.Server.APIEndpoint != "/api/v1" || cfg.Server.MCPEndpoint != "/mcp" {
		t.Fatalf("unexpected endpoints %#v", cfg.Server)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	defaults := Default("/tmp/poa.db")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), defaults)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != defaults.Database.Path {
		t.Fatalf("expected default db path, got %q", cfg.Database.Path)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[database]
path = "/custom/poa.db"

[engine]
sweep_interval = "250ms"
confirmation_delay = "2s"
confirmation_timeout = "5s"

[logging]
level = "debug"

[identity]
address = "addr_test1xyz"
network = "testnet"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path, Default("/tmp/default.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/custom/poa.db" {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
	if cfg.Engine.SweepInterval.Duration != 250*time.Millisecond || cfg.Engine.ConfirmationDelay.Duration != 2*time.Second {
		t.Fatalf("unexpected engine config %#v", cfg.Engine)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Logging.Level)
	}
	if cfg.Identity.Address != "addr_test1xyz" {
		t.Fatalf("unexpected identity %#v", cfg.Identity)
	}
	if cfg.Server.HTTPBind != "127.0.0.1:8080" {
		t.Fatalf("expected default bind to survive partial file, got %q", cfg.Server.HTTPBind)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"timeout below delay": "[engine]\nconfirmation_delay = \"3s\"\nconfirmation_timeout = \"2s\"\n",
		"bad duration":        "[engine]\nsweep_interval = \"soon\"\n",
		"bad level":           "[logging]\nlevel = \"loud\"\n",
		"bad network":         "[identity]\nnetwork = \"devnet\"\n",
		"bad endpoint":        "[server]\napi_endpoint = \"api\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if _, err := Load(path, Default("/tmp/default.db")); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestUpsertIdentityPreservesOtherTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := UpsertIdentity(path, " addr_one ", "testnet"); err != nil {
		t.Fatalf("UpsertIdentity() error = %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	content = append([]byte("[database]\npath = \"/keep/poa.db\"\n\n"), content...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := IdentityFile(path).SaveIdentity("addr_two", "mainnet"); err != nil {
		t.Fatalf("SaveIdentity() error = %v", err)
	}
	cfg, err := Load(path, Default("/tmp/default.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/keep/poa.db" {
		t.Fatalf("expected database table preserved, got %q", cfg.Database.Path)
	}
	if cfg.Identity.Address != "addr_two" || cfg.Identity.Network != "mainnet" {
		t.Fatalf("unexpected identity %#v", cfg.Identity)
	}

	if err := UpsertIdentity(path, "", ""); err != nil {
		t.Fatalf("UpsertIdentity() error = %v", err)
	}
	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "addr_two") {
		t.Fatalf("expected identity cleared, got\n%s", raw)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b", "config.toml")
	if err := EnsureConfigDir(target); err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	if _, err := os.Stat(filepath.Dir(target)); err != nil {
		t.Fatalf("expected dir to exist, stat error %v", err)
	}
}
