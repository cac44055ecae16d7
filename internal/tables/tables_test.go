package tables

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/linkctl/internal/testutil/testlog"
)

func TestParseTransportTokens(t *testing.T) {
	testlog.Start(t)
	cases := map[string]Transport{
		"":       TransportNone,
		"none":   TransportNone,
		"SOCKET": TransportSocket,
		"tcp":    TransportSocket,
		" TLS ":  TransportTLS,
		"serial": TransportSerial,
	}
	for raw, want := range cases {
		got, err := ParseTransport(raw)
		if err != nil || got != want {
			t.Fatalf("ParseTransport(%q)=%v,%v want %v", raw, got, err, want)
		}
	}
}

func TestParseTransportUnknownIsConfigError(t *testing.T) {
	testlog.Start(t)
	_, err := ParseTransport("carrier-pigeon")
	if !errors.Is(err, ErrConfig) || !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("expected ErrConfig+ErrUnknownTransport, got %v", err)
	}
}

func TestPeerMatchesPattern(t *testing.T) {
	testlog.Start(t)
	peer := DiscoveredPeer{Name: "node7", Nickname: "press", Protocol: ProtocolDevice}
	matches := []string{"*", "node7", "press", "a, node7", "x press y", "a,b,*"}
	for _, p := range matches {
		if !peer.MatchesPattern(p) {
			t.Fatalf("expected pattern %q to match", p)
		}
	}
	misses := []string{"", "node", "node70", "a,b"}
	for _, p := range misses {
		if peer.MatchesPattern(p) {
			t.Fatalf("expected pattern %q not to match", p)
		}
	}
}

func TestShortCodesRoundTripAndPorts(t *testing.T) {
	testlog.Start(t)
	for _, name := range []string{ProtocolObject, ProtocolDevice} {
		code, ok := ShortCode(name)
		if !ok {
			t.Fatalf("missing short code for %s", name)
		}
		back, ok := ProtocolForCode(code)
		if !ok || back != name {
			t.Fatalf("code %q maps back to %q", code, back)
		}
	}
	if DefaultPort(ProtocolDevice, TransportTLS) == DefaultPort(ProtocolDevice, TransportSocket) {
		t.Fatalf("tls and plain ports must differ")
	}
	if DefaultPort("relay", TransportSocket) != 0 {
		t.Fatalf("unknown protocol should have no default port")
	}
}

func TestLoadFileTOMLKeepsRawTokens(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "tables.toml")
	data := `
[[endpoint]]
enable = true
protocol = "object-protocol"
transport = "socket"
port = "5999"

[[endpoint]]
enable = true
protocol = "device-protocol"
transport = "warp"
port = "1"

[[connect]]
enable = true
name = "*"
protocol = "device-protocol"
address = "*"
transport = "tls"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.EndPoints) != 2 || len(doc.ConnectTo) != 1 {
		t.Fatalf("unexpected rows: %+v", doc)
	}
	if doc.EndPoints[1].Transport != "warp" {
		t.Fatalf("bad tokens must survive load, got %q", doc.EndPoints[1].Transport)
	}
	if !doc.ConnectTo[0].Wildcard() {
		t.Fatalf("expected wildcard connect row")
	}
}

func TestLoadFileYAML(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "tables.yaml")
	data := `
endpoints:
  - enable: true
    protocol: device-protocol
    transport: serial
    port: "COM3:115200"
connect:
  - enable: false
    name: plc1, plc2
    protocol: device-protocol
    address: 10.0.0.9:6368
    transport: socket
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.EndPoints[0].Port != "COM3:115200" {
		t.Fatalf("unexpected port: %q", doc.EndPoints[0].Port)
	}
	if doc.ConnectTo[0].Enabled || doc.ConnectTo[0].Name != "plc1, plc2" {
		t.Fatalf("unexpected connect row: %+v", doc.ConnectTo[0])
	}
}

func TestWriteFileThenLoad(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "tables.toml")
	in := Document{
		EndPoints: []EndPointSpec{{Enabled: true, Protocol: ProtocolObject, Transport: "tls", Port: "6374"}},
		ConnectTo: []ConnectSpec{{Enabled: true, Name: "*", Protocol: ProtocolObject, Address: "*", Transport: "tls"}},
	}
	if err := WriteFile(path, in); err != nil {
		t.Fatalf("write file: %v", err)
	}
	out, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if out.EndPoints[0] != in.EndPoints[0] || out.ConnectTo[0] != in.ConnectTo[0] {
		t.Fatalf("document mismatch: in=%+v out=%+v", in, out)
	}
}

func TestLoadFileUnknownExtension(t *testing.T) {
	testlog.Start(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "tables.ini"))
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}
