package state

import (
	"errors"
	"time"

	"github.com/danmuck/linkctl/internal/tables"
)

var (
	ErrClosed   = errors.New("state: store closed")
	ErrRowIndex = errors.New("state: row index out of range")
)

// Kind separates end point and connection instances.
type Kind string

const (
	KindEndPoint   Kind = "endpoint"
	KindConnection Kind = "connection"
)

// InstanceRecord mirrors one live instance for display and discovery.
type InstanceRecord struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Protocol  string    `json:"protocol"`
	Transport string    `json:"transport"`
	Address   string    `json:"address"`
	Port      int       `json:"port,omitempty"`
	Active    bool      `json:"active"`
	Open      bool      `json:"open"`
	Running   bool      `json:"running"`
	CreatedAt time.Time `json:"created_at"`
}

// Generations are per-table change counters. A counter only moves when the
// table content actually changed.
type Generations struct {
	EndPoints      uint64 `json:"endpoints"`
	ConnectTo      uint64 `json:"connect_to"`
	Peers          uint64 `json:"peers"`
	Instances      uint64 `json:"instances"`
	EndPointStatus uint64 `json:"endpoint_status"`
	// Exits counts worker exits.
	Exits uint64 `json:"exits"`
}

// Snapshot is a copy of the desired-state tables and discovered peers.
type Snapshot struct {
	EndPoints   []tables.EndPointSpec
	ConnectTo   []tables.ConnectSpec
	Peers       []tables.DiscoveredPeer
	Generations Generations
}
