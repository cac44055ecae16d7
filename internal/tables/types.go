package tables

import (
	"fmt"
	"strings"
	"time"
)

// Wildcard matches any peer name or any discovered address.
const Wildcard = "*"

// EndPointSpec is one row of the End Point table.
type EndPointSpec struct {
	Enabled   bool   `toml:"enable" yaml:"enable" json:"enable"`
	Protocol  string `toml:"protocol" yaml:"protocol" json:"protocol"`
	Transport string `toml:"transport" yaml:"transport" json:"transport"`
	Port      string `toml:"port" yaml:"port" json:"port"`
}

// ConnectSpec is one row of the Connect-To table.
type ConnectSpec struct {
	Enabled   bool   `toml:"enable" yaml:"enable" json:"enable"`
	Name      string `toml:"name" yaml:"name" json:"name"`
	Protocol  string `toml:"protocol" yaml:"protocol" json:"protocol"`
	Address   string `toml:"address" yaml:"address" json:"address"`
	Transport string `toml:"transport" yaml:"transport" json:"transport"`
}

// Wildcard reports whether the row resolves its address through discovery.
func (c ConnectSpec) Wildcard() bool {
	return strings.TrimSpace(c.Address) == Wildcard
}

// DiscoveredPeer is one LAN Services row, keyed by (Name, Protocol).
type DiscoveredPeer struct {
	Name     string    `json:"name"`
	Nickname string    `json:"nickname"`
	Protocol string    `json:"protocol"`
	IP       string    `json:"ip"`
	TLSPort  int       `json:"tlsport"`
	TCPPort  int       `json:"tcpport"`
	LastSeen time.Time `json:"timestamp"`
	Seq      uint64    `json:"-"`
}

// PeerKey identifies one DiscoveredPeer row.
type PeerKey struct {
	Name     string
	Protocol string
}

func (p DiscoveredPeer) Key() PeerKey {
	return PeerKey{Name: p.Name, Protocol: p.Protocol}
}

func (k PeerKey) String() string {
	return fmt.Sprintf("%s/%s", k.Protocol, k.Name)
}

// PortFor returns the advertised port matching a transport, zero when absent.
func (p DiscoveredPeer) PortFor(t Transport) int {
	switch t {
	case TransportTLS:
		return p.TLSPort
	case TransportSocket:
		return p.TCPPort
	default:
		return 0
	}
}

// MatchesPattern reports whether a Connect-To name pattern selects this peer.
// Patterns are "*", a literal name, or a comma/space separated list; both the
// peer name and nickname are compared.
func (p DiscoveredPeer) MatchesPattern(pattern string) bool {
	for _, item := range SplitPattern(pattern) {
		if item == Wildcard {
			return true
		}
		if item == p.Name || (p.Nickname != "" && item == p.Nickname) {
			return true
		}
	}
	return false
}

// SplitPattern breaks a name pattern into its comma/space separated items.
func SplitPattern(pattern string) []string {
	return strings.FieldsFunc(pattern, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}
