package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/linkctl/internal/tables"
)

func TestLoadNodeConfigExample(t *testing.T) {
	cfg, err := loadNodeConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "bench-a" || cfg.Nickname != "bench" {
		t.Fatalf("identity=%q/%q", cfg.Name, cfg.Nickname)
	}
	if cfg.TablesPath != "ex.tables.toml" {
		t.Fatalf("tables path=%q", cfg.TablesPath)
	}
	if cfg.Discovery.Period != 4500*time.Millisecond || !cfg.DiscoveryEnabled {
		t.Fatalf("discovery=%+v enabled=%v", cfg.Discovery, cfg.DiscoveryEnabled)
	}
	if cfg.Transport.ConnectTimeout != 3*time.Second || cfg.Transport.MaxDialAttempts != 0 || cfg.Transport.DefaultBaud != 115200 {
		t.Fatalf("transport=%+v", cfg.Transport)
	}
	if cfg.Transport.HandshakeTimeout != 5*time.Second {
		t.Fatalf("unset handshake timeout should keep default, got %v", cfg.Transport.HandshakeTimeout)
	}
	if cfg.Transport.Backoff.InitialDelay != 500*time.Millisecond || cfg.Transport.Backoff.Multiplier != 2.0 {
		t.Fatalf("backoff=%+v", cfg.Transport.Backoff)
	}
	if !cfg.Transport.TLS.Mutual || cfg.Transport.TLS.CAFile != "certs/ca.crt" {
		t.Fatalf("tls=%+v", cfg.Transport.TLS)
	}

	doc, err := tables.LoadFile(cfg.TablesPath)
	if err != nil {
		t.Fatalf("load example tables: %v", err)
	}
	if len(doc.EndPoints) != 2 || len(doc.ConnectTo) != 2 || !doc.ConnectTo[0].Wildcard() {
		t.Fatalf("example tables=%+v", doc)
	}
}

func TestLoadNodeConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	if err := os.WriteFile(path, []byte("tables = \"tables.yaml\"\n[discovery]\nipv6 = true\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := loadNodeConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TablesPath != filepath.Join(dir, "tables.yaml") {
		t.Fatalf("tables path not resolved against config dir: %q", cfg.TablesPath)
	}
	if !cfg.HTTPEnabled || cfg.HTTP.ListenAddr != "127.0.0.1:7380" {
		t.Fatalf("http defaults lost: %+v", cfg.HTTP)
	}
	resolved := cfg.WithDefaults()
	if resolved.Discovery.Group != tables.DiscoveryGroup6 {
		t.Fatalf("ipv6 should select the v6 group, got %q", resolved.Discovery.Group)
	}
}

func TestLoadNodeConfigRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"duration": "[reconcile]\ntick = \"soon\"\n",
		"unknown":  "[reconcile]\ntock = \"1s\"\n",
		"syntax":   "name = \n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".toml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, err := loadNodeConfig(path)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
