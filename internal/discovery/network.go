package discovery

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Network opens the discovery socket and names where announcements go.
type Network interface {
	Open() (net.PacketConn, error)
	Destination() net.Addr
}

// multicastNetwork joins the discovery group on one interface, or on the
// system default when none is named.
type multicastNetwork struct {
	cfg   Config
	group *net.UDPAddr
}

func newMulticastNetwork(cfg Config) (*multicastNetwork, error) {
	ip := net.ParseIP(strings.TrimSpace(cfg.Group))
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("discovery: %q is not a multicast group", cfg.Group)
	}
	if cfg.IPv6 != (ip.To4() == nil) {
		return nil, fmt.Errorf("discovery: group %s does not match ipv6=%t", ip, cfg.IPv6)
	}
	return &multicastNetwork{cfg: cfg, group: &net.UDPAddr{IP: ip, Port: cfg.Port}}, nil
}

func (m *multicastNetwork) Destination() net.Addr {
	return m.group
}

func (m *multicastNetwork) Open() (net.PacketConn, error) {
	var ifi *net.Interface
	if name := strings.TrimSpace(m.cfg.Interface); name != "" {
		var err error
		if ifi, err = net.InterfaceByName(name); err != nil {
			return nil, fmt.Errorf("discovery: interface %q: %w", name, err)
		}
	}
	network := "udp4"
	if m.cfg.IPv6 {
		network = "udp6"
	}
	conn, err := net.ListenMulticastUDP(network, ifi, m.group)
	if err != nil {
		return nil, err
	}
	if err := m.tune(conn, ifi); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// tune keeps announcements on the local link and lets nodes on the same host
// hear each other.
func (m *multicastNetwork) tune(conn *net.UDPConn, ifi *net.Interface) error {
	if m.cfg.IPv6 {
		pc := ipv6.NewPacketConn(conn)
		if err := pc.SetMulticastHopLimit(1); err != nil {
			return err
		}
		if err := pc.SetMulticastLoopback(true); err != nil {
			return err
		}
		if ifi != nil {
			return pc.SetMulticastInterface(ifi)
		}
		return nil
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(1); err != nil {
		return err
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		return err
	}
	if ifi != nil {
		return pc.SetMulticastInterface(ifi)
	}
	return nil
}

// hostOf renders the sender address of a datagram, keeping the zone of a
// link-local IPv6 source so it stays dialable.
func hostOf(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.UDPAddr:
		if a.Zone != "" {
			return a.IP.String() + "%" + a.Zone
		}
		return a.IP.String()
	case nil:
		return ""
	default:
		host, _, err := net.SplitHostPort(a.String())
		if err != nil {
			return a.String()
		}
		return host
	}
}
