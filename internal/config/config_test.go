package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// unsetForTest clears key for the test and restores it afterwards, so
// layers that call os.Setenv directly do not leak between tests.
func unsetForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ListenAddr != ":2000" || cfg.MOTD != DefaultMOTD {
		t.Fatalf("unexpected listen/motd: %q %q", cfg.ListenAddr, cfg.MOTD)
	}
	if cfg.FrameLimits().MaxFrameBytes != 64*1024 {
		t.Fatalf("unexpected frame limit: %d", cfg.MaxFrameBytes)
	}
}

func TestLoadFileOverlaysDefinedKeysOnly(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "relaychat.toml", `
[server]
listen_addr = "127.0.0.1:4000"
write_timeout = "250ms"
debug = true

[general]
motd = "hello there"
banned_names = [" admin ", "", "root"]
`)
	cfg, err := Load(LoadOptions{Path: path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:4000" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.WriteTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected write timeout: %v", cfg.WriteTimeout)
	}
	if !cfg.Debug {
		t.Fatalf("expected debug enabled")
	}
	if cfg.MOTD != "hello there" {
		t.Fatalf("unexpected motd: %q", cfg.MOTD)
	}
	if !reflect.DeepEqual(cfg.BannedNames, []string{"admin", "root"}) {
		t.Fatalf("unexpected banned names: %+v", cfg.BannedNames)
	}
	if cfg.MaxUsernameLen != DefaultMaxUsernameLen {
		t.Fatalf("undefined key overwrote default: %d", cfg.MaxUsernameLen)
	}
}

func TestLoadFileErrors(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration": "[server]\nwrite_timeout = \"soon\"\n",
		"bad frame":    "[server]\nmax_frame_bytes = -1\n",
		"bad toml":     "[server\n",
	}
	for name, body := range cases {
		path := writeFile(t, "c.toml", body)
		if _, err := Load(LoadOptions{Path: path}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "missing.toml")}); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestLoadValidation(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"empty listen":   "[server]\nlisten_addr = \"  \"\n",
		"unknown level":  "[server]\nlog_level = \"loud\"\n",
		"shared address": "[server]\nlisten_addr = \":2000\"\nws_listen_addr = \":2000\"\n",
		"tiny frames":    "[server]\nmax_frame_bytes = 8\n",
	}
	for name, body := range cases {
		path := writeFile(t, "c.toml", body)
		_, err := Load(LoadOptions{Path: path})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "relaychat.toml", "[server]\nlisten_addr = \":3000\"\n")
	t.Setenv("RELAYCHAT_LISTEN_ADDR", ":3100")
	t.Setenv("RELAYCHAT_WS_LISTEN_ADDR", ":3101")
	t.Setenv("RELAYCHAT_DEBUG", "true")
	t.Setenv("RELAYCHAT_WRITE_TIMEOUT", "2s")
	t.Setenv("RELAYCHAT_MAX_USERNAME_LEN", "12")
	t.Setenv("RELAYCHAT_BANNED_NAMES", "admin,root")
	t.Setenv("RELAYCHAT_LOG_LEVEL", "DEBUG")

	cfg, err := Load(LoadOptions{Path: path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":3100" || cfg.WSListenAddr != ":3101" {
		t.Fatalf("unexpected addrs: %q %q", cfg.ListenAddr, cfg.WSListenAddr)
	}
	if !cfg.Debug || cfg.WriteTimeout != 2*time.Second || cfg.MaxUsernameLen != 12 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.BannedNames, []string{"admin", "root"}) {
		t.Fatalf("unexpected banned names: %+v", cfg.BannedNames)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
}

func TestEnvironmentParseError(t *testing.T) {
	testlog.Start(t)
	t.Setenv("RELAYCHAT_WRITE_TIMEOUT", "forever")
	if _, err := Load(LoadOptions{}); err == nil {
		t.Fatalf("expected env parse error")
	}
}

func TestDotenvLayer(t *testing.T) {
	testlog.Start(t)
	unsetForTest(t, "RELAYCHAT_MOTD")
	unsetForTest(t, "RELAYCHAT_MAX_FRAME_BYTES")
	envFile := writeFile(t, ".env", "RELAYCHAT_MOTD=from dotenv\nRELAYCHAT_MAX_FRAME_BYTES=4096\n")

	cfg, err := Load(LoadOptions{EnvFile: envFile})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MOTD != "from dotenv" || cfg.MaxFrameBytes != 4096 {
		t.Fatalf("dotenv values not applied: %+v", cfg)
	}

	if _, err := Load(LoadOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")}); err == nil {
		t.Fatalf("expected explicit env file to be required")
	}
}
