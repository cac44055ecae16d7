package node

import (
	"errors"
	"strings"

	"github.com/danmuck/linkctl/internal/discovery"
	"github.com/danmuck/linkctl/internal/reconcile"
	"github.com/danmuck/linkctl/internal/server"
	"github.com/danmuck/linkctl/internal/state"
	"github.com/danmuck/linkctl/internal/transport"
	"github.com/google/uuid"
)

var ErrInvalidConfig = errors.New("node: invalid config")

// Config is the full runtime configuration of one node.
type Config struct {
	Name     string
	Nickname string
	// TablesPath is the desired-state file. Empty starts with empty tables.
	TablesPath  string
	WatchTables bool

	DiscoveryEnabled bool
	HTTPEnabled      bool

	State     state.Config
	Transport transport.Config
	Reconcile reconcile.Config
	Discovery discovery.Config
	HTTP      server.Config
}

func DefaultConfig() Config {
	return Config{
		WatchTables:      true,
		DiscoveryEnabled: true,
		HTTPEnabled:      true,
		State:            state.DefaultConfig(),
		Transport:        transport.DefaultConfig(),
		Reconcile:        reconcile.DefaultConfig(),
		Discovery:        discovery.DefaultConfig(),
		HTTP:             server.DefaultConfig(),
	}
}

// WithDefaults fills unset fields and pushes the node identity down into the
// discovery and HTTP sections.
func (c Config) WithDefaults() Config {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = "linkctl-" + uuid.NewString()[:8]
	}
	c.State = c.State.WithDefaults()
	c.Transport = c.Transport.WithDefaults()
	c.Reconcile = c.Reconcile.WithDefaults()

	c.Discovery.Name = c.Name
	if strings.TrimSpace(c.Discovery.Nickname) == "" {
		c.Discovery.Nickname = c.Nickname
	}
	c.Discovery = c.Discovery.WithDefaults()

	c.HTTP.Name = c.Name
	if c.HTTP.TablesPath == "" {
		c.HTTP.TablesPath = c.TablesPath
	}
	c.HTTP = c.HTTP.WithDefaults()
	return c
}
