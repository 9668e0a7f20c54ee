package platform

import (
	"path/filepath"
	"testing"
)

// TestPathsForLinuxXDG verifies behavior for the covered scenario.
func TestPathsForLinuxXDG(t *testing.T) {
	p, err := PathsFor("linux", map[string]string{
		"XDG_CONFIG_HOME": "/xdg/config",
		"XDG_DATA_HOME":   "/xdg/data",
	}, "/home/me/.config", "/home/me/.local/share", "poa")
	if err != nil {
		t.Fatalf("PathsFor() error = %v", err)
	}
	if p.ConfigPath != filepath.Join("/xdg/config", "poa", "config.toml") {
		t.Fatalf("unexpected config path %q", p.ConfigPath)
	}
	if p.DBPath != filepath.Join("/xdg/data", "poa", "poa.db") {
		t.Fatalf("unexpected db path %q", p.DBPath)
	}
	if p.LogDir != filepath.Join("/xdg/data", "poa", "log") {
		t.Fatalf("unexpected log dir %q", p.LogDir)
	}
}

// TestPathsForWindows verifies behavior for the covered scenario.
func TestPathsForWindows(t *testing.T) {
	p, err := PathsFor("windows", map[string]string{
		"APPDATA":      `C:\Users\me\AppData\Roaming`,
		"LOCALAPPDATA": `C:\Users\me\AppData\Local`,
	}, "/unused", "/unused", "poa")
	if err != nil {
		t.Fatalf("PathsFor() error = %v", err)
	}
	if p.ConfigPath != filepath.Join(`C:\Users\me\AppData\Roaming`, "poa", "config.toml") {
		t.Fatalf("unexpected config path %q", p.ConfigPath)
	}
	if p.DataDir != filepath.Join(`C:\Users\me\AppData\Local`, "poa") {
		t.Fatalf("unexpected data dir %q", p.DataDir)
	}
}

// TestPathsForHomeOverride verifies POA_HOME wins over XDG.
func TestPathsForHomeOverride(t *testing.T) {
	p, err := PathsFor("linux", map[string]string{
		HomeEnv:           "/srv/poa-home",
		"XDG_CONFIG_HOME": "/xdg/config",
		"XDG_DATA_HOME":   "/xdg/data",
	}, "/home/me/.config", "/home/me/.local/share", "poa")
	if err != nil {
		t.Fatalf("PathsFor() error = %v", err)
	}
	if p.ConfigPath != filepath.Join("/srv/poa-home", "poa", "config.toml") {
		t.Fatalf("unexpected config path %q", p.ConfigPath)
	}
	if p.DBPath != filepath.Join("/srv/poa-home", "poa", "poa.db") {
		t.Fatalf("unexpected db path %q", p.DBPath)
	}
}

// TestPathsForRejectsEmptyInput verifies behavior for the covered scenario.
func TestPathsForRejectsEmptyInput(t *testing.T) {
	if _, err := PathsFor("linux", map[string]string{}, "", "", "poa"); err == nil {
		t.Fatal("expected error for empty dirs")
	}
	if _, err := PathsFor("linux", map[string]string{}, "/cfg", "/data", "  "); err == nil {
		t.Fatal("expected error for empty app name")
	}
}

// TestPathsForDarwinFallback verifies behavior for the covered scenario.
func TestPathsForDarwinFallback(t *testing.T) {
	base := "/Users/me/Library/Application Support"
	p, err := PathsFor("darwin", map[string]string{
		"XDG_CONFIG_HOME": "/ignored",
		"XDG_DATA_HOME":   "/ignored",
	}, base, base, "poa")
	if err != nil {
		t.Fatalf("PathsFor() error = %v", err)
	}
	if p.ConfigPath != filepath.Join(base, "poa", "config.toml") {
		t.Fatalf("unexpected config path %q", p.ConfigPath)
	}
	if p.DBPath != filepath.Join(base, "poa", "poa.db") {
		t.Fatalf("unexpected db path %q", p.DBPath)
	}
}

// TestDefaultPathsWithOptionsDevMode verifies behavior for the covered scenario.
func TestDefaultPathsWithOptionsDevMode(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	p, err := DefaultPathsWithOptions(Options{AppName: "poa", DevMode: true})
	if err != nil {
		t.Fatalf("DefaultPathsWithOptions() error = %v", err)
	}
	if filepath.Base(filepath.Dir(p.ConfigPath)) != "poa-dev" {
		t.Fatalf("expected dev config dir suffix, got %q", p.ConfigPath)
	}
	if filepath.Base(p.DBPath) != "poa-dev.db" {
		t.Fatalf("expected dev db name, got %q", p.DBPath)
	}
}

// TestDefaultPathsSmoke verifies behavior for the covered scenario.
func TestDefaultPathsSmoke(t *testing.T) {
	p, err := DefaultPaths()
	if err != nil {
		t.Fatalf("DefaultPaths() error = %v", err)
	}
	if p.ConfigPath == "" || p.DBPath == "" || p.DataDir == "" || p.LogDir == "" {
		t.Fatalf("expected non-empty paths, got %#v", p)
	}
}
