package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/linkctl/internal/node"
	"github.com/danmuck/linkctl/internal/transport"
)

type fileConfig struct {
	Name        string `toml:"name"`
	Nickname    string `toml:"nickname"`
	Tables      string `toml:"tables"`
	WatchTables bool   `toml:"watch_tables"`

	Discovery struct {
		Enabled   bool   `toml:"enabled"`
		Broadcast bool   `toml:"broadcast"`
		Period    string `toml:"period"`
		Wake      string `toml:"wake_interval"`
		Backoff   string `toml:"error_backoff"`
		Group     string `toml:"group"`
		Port      int    `toml:"port"`
		Interface string `toml:"interface"`
		IPv6      bool   `toml:"ipv6"`
	} `toml:"discovery"`

	HTTP struct {
		Enabled     bool     `toml:"enabled"`
		ListenAddr  string   `toml:"listen_addr"`
		CORSOrigins []string `toml:"cors_origins"`
	} `toml:"http"`

	Transport struct {
		ConnectTimeout   string              `toml:"connect_timeout"`
		HandshakeTimeout string              `toml:"handshake_timeout"`
		MaxDialAttempts  int                 `toml:"max_dial_attempts"`
		DefaultBaud      int                 `toml:"default_baud"`
		TLS              transport.TLSConfig `toml:"tls"`
		Backoff          struct {
			InitialDelay string  `toml:"initial_delay"`
			Multiplier   float64 `toml:"multiplier"`
			MaxDelay     string  `toml:"max_delay"`
			Jitter       bool    `toml:"jitter"`
		} `toml:"backoff"`
	} `toml:"transport"`

	Reconcile struct {
		Tick string `toml:"tick"`
	} `toml:"reconcile"`

	State struct {
		PeerTTL   string `toml:"peer_ttl"`
		SkewGuard string `toml:"skew_guard"`
	} `toml:"state"`
}

// loadNodeConfig overlays the keys present in path onto node.DefaultConfig.
// A relative tables path is resolved against the config file's directory.
func loadNodeConfig(path string) (node.Config, error) {
	cfg := node.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return node.Config{}, fmt.Errorf("load linkctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return node.Config{}, fmt.Errorf("load linkctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("nickname") {
		cfg.Nickname = strings.TrimSpace(raw.Nickname)
	}
	if meta.IsDefined("tables") {
		tables := strings.TrimSpace(raw.Tables)
		if tables != "" && !filepath.IsAbs(tables) {
			tables = filepath.Join(filepath.Dir(path), tables)
		}
		cfg.TablesPath = tables
	}
	if meta.IsDefined("watch_tables") {
		cfg.WatchTables = raw.WatchTables
	}

	if meta.IsDefined("discovery", "enabled") {
		cfg.DiscoveryEnabled = raw.Discovery.Enabled
	}
	if meta.IsDefined("discovery", "broadcast") {
		cfg.Discovery.Broadcast = raw.Discovery.Broadcast
	}
	if meta.IsDefined("discovery", "period") {
		d, err := parseDuration("discovery.period", raw.Discovery.Period)
		if err != nil {
			return node.Config{}, err
		}
		cfg.Discovery.Period = d
	}
	if meta.IsDefined("discovery", "wake_interval") {
		d, err := parseDuration("discovery.wake_interval", raw.Discovery.Wake)
		if err != nil {
			return node.Config{}, err
		}
		cfg.Discovery.WakeInterval = d
	}
	if meta.IsDefined("discovery", "error_backoff") {
		d, err := parseDuration("discovery.error_backoff", raw.Discovery.Backoff)
		if err != nil {
			return node.Config{}, err
		}
		cfg.Discovery.ErrorBackoff = d
	}
	if meta.IsDefined("discovery", "group") {
		cfg.Discovery.Group = strings.TrimSpace(raw.Discovery.Group)
	}
	if meta.IsDefined("discovery", "port") {
		cfg.Discovery.Port = raw.Discovery.Port
	}
	if meta.IsDefined("discovery", "interface") {
		cfg.Discovery.Interface = strings.TrimSpace(raw.Discovery.Interface)
	}
	if meta.IsDefined("discovery", "ipv6") {
		cfg.Discovery.IPv6 = raw.Discovery.IPv6
		if !meta.IsDefined("discovery", "group") {
			cfg.Discovery.Group = ""
		}
	}

	if meta.IsDefined("http", "enabled") {
		cfg.HTTPEnabled = raw.HTTP.Enabled
	}
	if meta.IsDefined("http", "listen_addr") {
		cfg.HTTP.ListenAddr = strings.TrimSpace(raw.HTTP.ListenAddr)
	}
	if meta.IsDefined("http", "cors_origins") {
		cfg.HTTP.CORSOrigins = raw.HTTP.CORSOrigins
	}

	if meta.IsDefined("transport", "connect_timeout") {
		d, err := parseDuration("transport.connect_timeout", raw.Transport.ConnectTimeout)
		if err != nil {
			return node.Config{}, err
		}
		cfg.Transport.ConnectTimeout = d
	}
	if meta.IsDefined("transport", "handshake_timeout") {
		d, err := parseDuration("transport.handshake_timeout", raw.Transport.HandshakeTimeout)
		if err != nil {
			return node.Config{}, err
		}
		cfg.Transport.HandshakeTimeout = d
	}
	if meta.IsDefined("transport", "max_dial_attempts") {
		cfg.Transport.MaxDialAttempts = raw.Transport.MaxDialAttempts
	}
	if meta.IsDefined("transport", "default_baud") {
		cfg.Transport.DefaultBaud = raw.Transport.DefaultBaud
	}
	if meta.IsDefined("transport", "tls") {
		cfg.Transport.TLS = raw.Transport.TLS
	}
	if meta.IsDefined("transport", "backoff", "initial_delay") {
		d, err := parseDuration("transport.backoff.initial_delay", raw.Transport.Backoff.InitialDelay)
		if err != nil {
			return node.Config{}, err
		}
		cfg.Transport.Backoff.InitialDelay = d
	}
	if meta.IsDefined("transport", "backoff", "multiplier") {
		cfg.Transport.Backoff.Multiplier = raw.Transport.Backoff.Multiplier
	}
	if meta.IsDefined("transport", "backoff", "max_delay") {
		d, err := parseDuration("transport.backoff.max_delay", raw.Transport.Backoff.MaxDelay)
		if err != nil {
			return node.Config{}, err
		}
		cfg.Transport.Backoff.MaxDelay = d
	}
	if meta.IsDefined("transport", "backoff", "jitter") {
		cfg.Transport.Backoff.Jitter = raw.Transport.Backoff.Jitter
	}

	if meta.IsDefined("reconcile", "tick") {
		d, err := parseDuration("reconcile.tick", raw.Reconcile.Tick)
		if err != nil {
			return node.Config{}, err
		}
		cfg.Reconcile.Tick = d
	}
	if meta.IsDefined("state", "peer_ttl") {
		d, err := parseDuration("state.peer_ttl", raw.State.PeerTTL)
		if err != nil {
			return node.Config{}, err
		}
		cfg.State.PeerTTL = d
	}
	if meta.IsDefined("state", "skew_guard") {
		d, err := parseDuration("state.skew_guard", raw.State.SkewGuard)
		if err != nil {
			return node.Config{}, err
		}
		cfg.State.SkewGuard = d
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
