package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := ParseServerFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenHTTP != ":8080" {
		t.Fatalf("listen default: %s", cfg.ListenHTTP)
	}
	if cfg.TLSMode != TLSModeOff {
		t.Fatalf("tls mode default: %s", cfg.TLSMode)
	}
	if cfg.NodeCommandTimeout != 10*time.Second {
		t.Fatalf("node command timeout default: %s", cfg.NodeCommandTimeout)
	}
}

func TestFlagsOverride(t *testing.T) {
	cfg, err := ParseServerFlags([]string{
		"-listen", ":9090",
		"-db", "/tmp/x.db",
		"-log-level", "debug",
		"-node-command-timeout", "5s",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenHTTP != ":9090" || cfg.DBPath != "/tmp/x.db" || cfg.LogLevel != "debug" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.NodeCommandTimeout != 5*time.Second {
		t.Fatalf("duration flag not applied: %s", cfg.NodeCommandTimeout)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("RELAYMETER_LISTEN_HTTP", ":7070")
	t.Setenv("RELAYMETER_LOG_LEVEL", "warn")

	cfg, err := ParseServerFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenHTTP != ":7070" || cfg.LogLevel != "warn" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaymeter.yaml")
	data := []byte("listen_http: \":6060\"\ndb_path: /data/meter.db\nlog_level: debug\nheartbeat_timeout: 1m\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseServerFlags([]string{"-config", path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenHTTP != ":6060" || cfg.DBPath != "/data/meter.db" {
		t.Fatalf("file not applied: %+v", cfg)
	}
	if cfg.HeartbeatTimeout != time.Minute {
		t.Fatalf("file duration not applied: %s", cfg.HeartbeatTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.NodeCommandTimeout != 10*time.Second {
		t.Fatalf("default lost: %s", cfg.NodeCommandTimeout)
	}
}

func TestConfigFileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaymeter.yaml")
	if err := os.WriteFile(path, []byte("heartbeat_timeout: sometimes\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseServerFlags([]string{"-config", path}); err == nil {
		t.Fatalf("expected error for unparsable duration")
	}
}

func TestFlagBeatsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaymeter.yaml")
	if err := os.WriteFile(path, []byte("listen_http: \":6060\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseServerFlags([]string{"-config", path, "-listen", ":5050"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenHTTP != ":5050" {
		t.Fatalf("flag should beat file: %s", cfg.ListenHTTP)
	}
}

func TestTLSModeValidation(t *testing.T) {
	if _, err := ParseServerFlags([]string{"-tls-mode", "bogus"}); err == nil {
		t.Fatalf("expected error for unknown tls mode")
	}
	if _, err := ParseServerFlags([]string{"-tls-mode", "auto"}); err == nil {
		t.Fatalf("tls-mode auto without domain must fail")
	}
	if _, err := ParseServerFlags([]string{"-tls-mode", "auto", "-domain", "panel.example.com"}); err != nil {
		t.Fatalf("tls-mode auto with domain should pass: %v", err)
	}
	if _, err := ParseServerFlags([]string{"-tls-mode", "static"}); err == nil {
		t.Fatalf("tls-mode static without cert files must fail")
	}
}
