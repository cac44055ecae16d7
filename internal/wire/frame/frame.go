package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the fixed datagram header size.
const HeaderLen = 24

// Magic marks a linkctl discovery datagram ("LKD1").
const Magic uint32 = 0x4C4B4431

const Version uint16 = 1

const (
	TypeAnnounce uint16 = 1
)

const (
	// FlagIPv6 marks adverts reachable over IPv6.
	FlagIPv6 uint16 = 0x08
)

// MaxDatagram keeps one frame inside a single unfragmented UDP payload.
const MaxDatagram = 1400

var (
	ErrShortHeader       = errors.New("frame: short header")
	ErrBadMagic          = errors.New("frame: bad magic")
	ErrUnsupportedVer    = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall = errors.New("frame: header_len smaller than fixed header")
	ErrPayloadMismatch   = errors.New("frame: payload length mismatch")
	ErrTooLarge          = errors.New("frame: datagram too large")
)

// Header is the fixed datagram header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	Sequence    uint64
	MessageType uint16
	Flags       uint16
	PayloadLen  uint32
}

// Frame is one complete datagram.
type Frame struct {
	Header  Header
	Payload []byte
}

// Marshal fills in magic, version and lengths and returns the datagram bytes.
func Marshal(f Frame) ([]byte, error) {
	total := HeaderLen + len(f.Payload)
	if total > MaxDatagram {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, total)
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = HeaderLen
	h.PayloadLen = uint32(len(f.Payload))

	buf := make([]byte, total)
	putHeader(buf[:HeaderLen], h)
	copy(buf[HeaderLen:], f.Payload)
	return buf, nil
}

// Unmarshal parses one datagram. Header extensions beyond HeaderLen are skipped.
func Unmarshal(b []byte) (Frame, error) {
	if len(b) < HeaderLen {
		return Frame{}, ErrShortHeader
	}
	h := parseHeader(b[:HeaderLen])
	if h.Magic != Magic {
		return Frame{}, fmt.Errorf("%w: %#x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVer, h.Version)
	}
	if h.HeaderLen < HeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}
	if int(h.HeaderLen) > len(b) || uint64(len(b)-int(h.HeaderLen)) != uint64(h.PayloadLen) {
		return Frame{}, ErrPayloadMismatch
	}
	payload := make([]byte, h.PayloadLen)
	copy(payload, b[h.HeaderLen:])
	return Frame{Header: h, Payload: payload}, nil
}

func putHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.Sequence)
	binary.BigEndian.PutUint16(buf[16:18], h.MessageType)
	binary.BigEndian.PutUint16(buf[18:20], h.Flags)
	binary.BigEndian.PutUint32(buf[20:24], h.PayloadLen)
}

func parseHeader(b []byte) Header {
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		Sequence:    binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint16(b[16:18]),
		Flags:       binary.BigEndian.Uint16(b[18:20]),
		PayloadLen:  binary.BigEndian.Uint32(b[20:24]),
	}
}
