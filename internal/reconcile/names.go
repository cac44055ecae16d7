package reconcile

import (
	"strings"

	"github.com/danmuck/linkctl/internal/tables"
)

// sanitize keeps letters, digits and dots, rewrites the IPv6 bracket to "v6"
// and maps everything else to "_".
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '[':
			b.WriteString("v6")
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ConnectionName is the stable instance name of a connection.
func ConnectionName(protocol string, kind tables.Transport, address string) string {
	return sanitize(strings.TrimSpace(protocol)) + "_c" + kind.String() + sanitize(strings.TrimSpace(address))
}

// EndPointName is the stable instance name of an end point.
func EndPointName(protocol string, kind tables.Transport, port string) string {
	return sanitize(strings.TrimSpace(protocol)) + "_e" + kind.String() + sanitize(strings.TrimSpace(port))
}
