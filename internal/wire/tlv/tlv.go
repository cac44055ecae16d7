package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is id(2) + type(1) + length(2).
const HeaderLen = 5

// MaxValueLen bounds one field so a datagram can never claim more than it carries.
const MaxValueLen = 0xFFFF

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrValueTooLarge    = errors.New("tlv: value too large")
	ErrTypeMismatch     = errors.New("tlv: field type mismatch")
)

const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeString uint8 = 6
)

// Field is one decoded TLV field. Field order is significant: repeated ids
// form groups in the order they were written.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func String(id uint16, s string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(s)}
}

func U16(id uint16, v uint16) Field {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return Field{ID: id, Type: TypeU16, Value: b}
}

func U64(id uint16, v uint64) Field {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return Field{ID: id, Type: TypeU64, Value: b}
}

// AppendField writes f onto dst.
func AppendField(dst []byte, f Field) ([]byte, error) {
	if len(f.Value) > MaxValueLen {
		return dst, fmt.Errorf("%w: field %d has %d bytes", ErrValueTooLarge, f.ID, len(f.Value))
	}
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], f.ID)
	hdr[2] = f.Type
	binary.BigEndian.PutUint16(hdr[3:5], uint16(len(f.Value)))
	dst = append(dst, hdr[:]...)
	return append(dst, f.Value...), nil
}

func EncodeFields(fields []Field) ([]byte, error) {
	out := make([]byte, 0, 64)
	var err error
	for _, f := range fields {
		if out, err = AppendField(out, f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0, 8)
	for i := 0; i < len(payload); {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := int(binary.BigEndian.Uint16(payload[i+3 : i+5]))
		i += HeaderLen
		if len(payload)-i < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+l])
		i += l
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func (f Field) AsString() (string, error) {
	if f.Type != TypeString {
		return "", fmt.Errorf("%w: field %d got %d want %d", ErrTypeMismatch, f.ID, f.Type, TypeString)
	}
	return string(f.Value), nil
}

func (f Field) AsU16() (uint16, error) {
	if f.Type != TypeU16 || len(f.Value) != 2 {
		return 0, fmt.Errorf("%w: field %d got type %d len %d", ErrTypeMismatch, f.ID, f.Type, len(f.Value))
	}
	return binary.BigEndian.Uint16(f.Value), nil
}

func (f Field) AsU64() (uint64, error) {
	if f.Type != TypeU64 || len(f.Value) != 8 {
		return 0, fmt.Errorf("%w: field %d got type %d len %d", ErrTypeMismatch, f.ID, f.Type, len(f.Value))
	}
	return binary.BigEndian.Uint64(f.Value), nil
}
