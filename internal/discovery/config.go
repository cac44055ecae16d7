package discovery

import (
	"strings"
	"time"

	"github.com/danmuck/linkctl/internal/tables"
)

// Config controls one discovery service.
type Config struct {
	Name     string
	Nickname string
	// Broadcast enables sending. Listening is always on.
	Broadcast    bool
	Period       time.Duration
	WakeInterval time.Duration
	ErrorBackoff time.Duration
	Group        string
	Port         int
	Interface    string
	IPv6         bool
	// SeqCacheSize bounds the recently seen (source, sequence) set.
	SeqCacheSize int
	SeqCacheTTL  time.Duration
	// Network replaces the multicast socket, mainly for tests.
	Network Network
}

func DefaultConfig() Config {
	return Config{
		Broadcast:    true,
		Period:       4500 * time.Millisecond,
		WakeInterval: 100 * time.Millisecond,
		ErrorBackoff: 500 * time.Millisecond,
		Group:        tables.DiscoveryGroup,
		Port:         tables.DiscoveryPort,
		SeqCacheSize: 1024,
		SeqCacheTTL:  time.Minute,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Name = strings.TrimSpace(c.Name)
	if c.Period <= 0 {
		c.Period = def.Period
	}
	if c.WakeInterval <= 0 {
		c.WakeInterval = def.WakeInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = def.ErrorBackoff
	}
	if strings.TrimSpace(c.Group) == "" {
		c.Group = def.Group
		if c.IPv6 {
			c.Group = tables.DiscoveryGroup6
		}
	}
	if c.Port <= 0 {
		c.Port = def.Port
	}
	if c.SeqCacheSize <= 0 {
		c.SeqCacheSize = def.SeqCacheSize
	}
	if c.SeqCacheTTL <= 0 {
		c.SeqCacheTTL = def.SeqCacheTTL
	}
	return c
}
