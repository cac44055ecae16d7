package discovery

import (
	"errors"
	"fmt"

	"github.com/danmuck/linkctl/internal/state"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/danmuck/linkctl/internal/wire/frame"
	"github.com/danmuck/linkctl/internal/wire/tlv"
)

// TLV field ids of an announcement payload. Code, TLS port and TCP port
// repeat once per advertised protocol, in that order.
const (
	fieldSource   uint16 = 1
	fieldNickname uint16 = 2
	fieldCode     uint16 = 3
	fieldTLSPort  uint16 = 4
	fieldTCPPort  uint16 = 5
)

var (
	ErrNotAnnounce    = errors.New("discovery: not an announce datagram")
	ErrMissingSource  = errors.New("discovery: announcement without source name")
	ErrDanglingAdvert = errors.New("discovery: port field outside an advert group")
)

// Advert is one protocol offered by the announcing node.
type Advert struct {
	Protocol string
	TLSPort  int
	TCPPort  int
}

// Announcement is the decoded content of one discovery datagram.
type Announcement struct {
	Source   string
	Nickname string
	Seq      uint64
	IPv6     bool
	Adverts  []Advert
}

func EncodeAnnouncement(a Announcement) ([]byte, error) {
	fields := []tlv.Field{tlv.String(fieldSource, a.Source)}
	if a.Nickname != "" {
		fields = append(fields, tlv.String(fieldNickname, a.Nickname))
	}
	for _, ad := range a.Adverts {
		code, ok := tables.ShortCode(ad.Protocol)
		if !ok {
			return nil, fmt.Errorf("discovery: no short code for protocol %q", ad.Protocol)
		}
		fields = append(fields,
			tlv.String(fieldCode, code),
			tlv.U16(fieldTLSPort, uint16(ad.TLSPort)),
			tlv.U16(fieldTCPPort, uint16(ad.TCPPort)),
		)
	}
	payload, err := tlv.EncodeFields(fields)
	if err != nil {
		return nil, err
	}
	var flags uint16
	if a.IPv6 {
		flags |= frame.FlagIPv6
	}
	return frame.Marshal(frame.Frame{
		Header:  frame.Header{Sequence: a.Seq, MessageType: frame.TypeAnnounce, Flags: flags},
		Payload: payload,
	})
}

// DecodeAnnouncement parses a datagram. Adverts for protocol codes this node
// does not know are skipped.
func DecodeAnnouncement(b []byte) (Announcement, error) {
	fr, err := frame.Unmarshal(b)
	if err != nil {
		return Announcement{}, err
	}
	if fr.Header.MessageType != frame.TypeAnnounce {
		return Announcement{}, fmt.Errorf("%w: type=%d", ErrNotAnnounce, fr.Header.MessageType)
	}
	fields, err := tlv.DecodeFields(fr.Payload)
	if err != nil {
		return Announcement{}, err
	}

	a := Announcement{Seq: fr.Header.Sequence, IPv6: fr.Header.Flags&frame.FlagIPv6 != 0}
	var cur *Advert
	known := false
	flush := func() {
		if cur != nil && known {
			a.Adverts = append(a.Adverts, *cur)
		}
		cur, known = nil, false
	}
	for _, f := range fields {
		switch f.ID {
		case fieldSource:
			if a.Source, err = f.AsString(); err != nil {
				return Announcement{}, err
			}
		case fieldNickname:
			if a.Nickname, err = f.AsString(); err != nil {
				return Announcement{}, err
			}
		case fieldCode:
			flush()
			code, err := f.AsString()
			if err != nil {
				return Announcement{}, err
			}
			cur = &Advert{}
			cur.Protocol, known = tables.ProtocolForCode(code)
		case fieldTLSPort, fieldTCPPort:
			if cur == nil {
				return Announcement{}, ErrDanglingAdvert
			}
			port, err := f.AsU16()
			if err != nil {
				return Announcement{}, err
			}
			if f.ID == fieldTLSPort {
				cur.TLSPort = int(port)
			} else {
				cur.TCPPort = int(port)
			}
		}
	}
	flush()
	if a.Source == "" {
		return Announcement{}, ErrMissingSource
	}
	return a, nil
}

// AdvertsFor groups open end points by protocol. Serial end points are not
// reachable over the network and are left out.
func AdvertsFor(records []state.InstanceRecord) []Advert {
	var out []Advert
	index := map[string]int{}
	for _, rec := range records {
		if rec.Kind != state.KindEndPoint || !rec.Open || rec.Port <= 0 {
			continue
		}
		kind, err := tables.ParseTransport(rec.Transport)
		if err != nil || (kind != tables.TransportSocket && kind != tables.TransportTLS) {
			continue
		}
		if _, ok := tables.ShortCode(rec.Protocol); !ok {
			continue
		}
		i, ok := index[rec.Protocol]
		if !ok {
			i = len(out)
			index[rec.Protocol] = i
			out = append(out, Advert{Protocol: rec.Protocol})
		}
		if kind == tables.TransportTLS {
			if out[i].TLSPort == 0 {
				out[i].TLSPort = rec.Port
			}
		} else if out[i].TCPPort == 0 {
			out[i].TCPPort = rec.Port
		}
	}
	return out
}
