package reconcile

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/state"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/danmuck/linkctl/internal/transport"
)

// SocketListEntry is one desired connection after wildcard resolution.
type SocketListEntry struct {
	Name      string
	Protocol  string
	Transport tables.Transport
	Address   string
	// Row is the Connect-To row that produced the entry.
	Row int
}

// Spec is the connect spec handed to the plugin.
func (e SocketListEntry) Spec() tables.ConnectSpec {
	return tables.ConnectSpec{
		Enabled:   true,
		Name:      e.Name,
		Protocol:  e.Protocol,
		Address:   e.Address,
		Transport: e.Transport.String(),
	}
}

func (e SocketListEntry) StableName() string {
	return ConnectionName(e.Protocol, e.Transport, e.Address)
}

// RowError is a per-row failure. It never stops a pass.
type RowError struct {
	Table string
	Row   int
	Err   error
}

func (e RowError) Error() string {
	return fmt.Sprintf("reconcile: %s row %d: %v", e.Table, e.Row, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// Reason is a short metrics label for the failure.
func (e RowError) Reason() string {
	switch {
	case errors.Is(e.Err, tables.ErrUnknownTransport):
		return "unknown_transport"
	case errors.Is(e.Err, protocol.ErrProtocolUnknown):
		return "unknown_protocol"
	case errors.Is(e.Err, protocol.ErrTransportUnsupported):
		return "unsupported_transport"
	case errors.Is(e.Err, tables.ErrInvalidAddress):
		return "invalid_address"
	default:
		return "invalid_row"
	}
}

// Merge builds the socket list from the enabled Connect-To rows and the
// discovered peers of one snapshot. The claimed-address and claimed-name sets
// span the whole pass, so neither one wildcard nor two separate rows can
// produce two entries for the same address or the same peer.
func Merge(snap state.Snapshot) ([]SocketListEntry, []RowError) {
	var (
		out      []SocketListEntry
		problems []RowError
	)
	claimedAddr := make(map[string]struct{})
	claimedName := make(map[tables.PeerKey]struct{})

	for i, row := range snap.ConnectTo {
		if !row.Enabled {
			continue
		}
		kind, err := tables.ParseTransport(row.Transport)
		if err != nil {
			problems = append(problems, RowError{Table: "connect", Row: i, Err: err})
			continue
		}
		if kind == tables.TransportNone {
			continue
		}
		proto := strings.TrimSpace(row.Protocol)
		if proto == "" {
			problems = append(problems, RowError{Table: "connect", Row: i, Err: fmt.Errorf("%w: empty protocol", tables.ErrConfig)})
			continue
		}

		if !row.Wildcard() {
			addr := strings.TrimSpace(row.Address)
			if addr == "" {
				problems = append(problems, RowError{Table: "connect", Row: i, Err: fmt.Errorf("%w: %w: empty address", tables.ErrConfig, tables.ErrInvalidAddress)})
				continue
			}
			addr, key, err := literalTarget(addr, proto, kind)
			if err != nil {
				problems = append(problems, RowError{Table: "connect", Row: i, Err: fmt.Errorf("%w: %w: %w", tables.ErrConfig, tables.ErrInvalidAddress, err)})
				continue
			}
			if _, taken := claimedAddr[key]; taken {
				continue
			}
			var keys []tables.PeerKey
			taken := false
			for _, name := range tables.SplitPattern(row.Name) {
				if name == tables.Wildcard {
					continue
				}
				k := tables.PeerKey{Name: name, Protocol: proto}
				if _, ok := claimedName[k]; ok {
					taken = true
				}
				keys = append(keys, k)
			}
			if taken {
				continue
			}
			out = append(out, SocketListEntry{Name: strings.TrimSpace(row.Name), Protocol: proto, Transport: kind, Address: addr, Row: i})
			claimedAddr[key] = struct{}{}
			for _, k := range keys {
				claimedName[k] = struct{}{}
			}
			continue
		}

		if kind == tables.TransportSerial {
			problems = append(problems, RowError{Table: "connect", Row: i, Err: fmt.Errorf("%w: serial rows need a literal device", tables.ErrConfig)})
			continue
		}
		for _, peer := range snap.Peers {
			if peer.Protocol != proto || !peer.MatchesPattern(row.Name) {
				continue
			}
			port := peer.PortFor(kind)
			if port == 0 || peer.IP == "" {
				continue
			}
			addr := net.JoinHostPort(peer.IP, strconv.Itoa(port))
			if _, taken := claimedAddr[addr]; taken {
				continue
			}
			key := tables.PeerKey{Name: peer.Name, Protocol: proto}
			if _, taken := claimedName[key]; taken {
				continue
			}
			out = append(out, SocketListEntry{Name: peer.Name, Protocol: proto, Transport: kind, Address: addr, Row: i})
			claimedAddr[addr] = struct{}{}
			claimedName[key] = struct{}{}
		}
	}
	return out, problems
}

// literalTarget normalises a literal address so "host" and "host:default"
// yield one address, and returns the key it claims. A serial line is claimed
// by device whatever its baud.
func literalTarget(addr, proto string, kind tables.Transport) (string, string, error) {
	if kind == tables.TransportSerial {
		sa, err := transport.ParseSerialAddress(addr, 1)
		if err != nil {
			return "", "", err
		}
		return addr, "serial:" + sa.Device, nil
	}
	full, err := transport.DialAddress(addr, proto, kind)
	if err != nil {
		return "", "", err
	}
	return full, full, nil
}
