package ndn

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// TLV type numbers used by this package.
const (
	TypeData                 uint64 = 0x06
	TypeName                 uint64 = 0x07
	TypeGenericNameComponent uint64 = 0x08
	TypeMetaInfo             uint64 = 0x14
	TypeContent              uint64 = 0x15
	TypeSignatureInfo        uint64 = 0x16
	TypeSignatureValue       uint64 = 0x17
	TypeContentType          uint64 = 0x18
	TypeFreshnessPeriod      uint64 = 0x19
	TypeSignatureType        uint64 = 0x1b
	TypeKeyLocator           uint64 = 0x1c

	TypeEncryptedContent uint64 = 0x82
	TypeEncryptedPayload uint64 = 0x84
)

// ErrMalformedTLV is returned when a TLV element cannot be parsed.
var ErrMalformedTLV = errors.New("ndn: malformed TLV")

// appendVarNumber writes v using the 1, 3, 5 or 9 byte VAR-NUMBER form.
func appendVarNumber(b *cryptobyte.Builder, v uint64) {
	switch {
	case v < 253:
		b.AddUint8(uint8(v))
	case v <= 0xFFFF:
		b.AddUint8(253)
		b.AddUint16(uint16(v))
	case v <= 0xFFFFFFFF:
		b.AddUint8(254)
		b.AddUint32(uint32(v))
	default:
		b.AddUint8(255)
		b.AddUint64(v)
	}
}

// readVarNumber reads a VAR-NUMBER from s.
func readVarNumber(s *cryptobyte.String, out *uint64) bool {
	var first uint8
	if !s.ReadUint8(&first) {
		return false
	}
	switch first {
	case 253:
		var v uint16
		if !s.ReadUint16(&v) {
			return false
		}
		*out = uint64(v)
	case 254:
		var v uint32
		if !s.ReadUint32(&v) {
			return false
		}
		*out = uint64(v)
	case 255:
		var v uint64
		if !s.ReadUint64(&v) {
			return false
		}
		*out = v
	default:
		*out = uint64(first)
	}
	return true
}

// appendTLV writes a single TLV element with the given value.
func appendTLV(b *cryptobyte.Builder, typ uint64, value []byte) {
	appendVarNumber(b, typ)
	appendVarNumber(b, uint64(len(value)))
	b.AddBytes(value)
}

// appendNested writes a TLV element whose value is produced by fn.
func appendNested(b *cryptobyte.Builder, typ uint64, fn func(*cryptobyte.Builder)) error {
	inner := cryptobyte.NewBuilder(nil)
	fn(inner)
	value, err := inner.Bytes()
	if err != nil {
		return err
	}
	appendTLV(b, typ, value)
	return nil
}

// appendNonNegativeInteger writes v as a NonNegativeInteger TLV (1, 2, 4 or 8 bytes).
func appendNonNegativeInteger(b *cryptobyte.Builder, typ uint64, v uint64) {
	appendVarNumber(b, typ)
	switch {
	case v <= 0xFF:
		appendVarNumber(b, 1)
		b.AddUint8(uint8(v))
	case v <= 0xFFFF:
		appendVarNumber(b, 2)
		b.AddUint16(uint16(v))
	case v <= 0xFFFFFFFF:
		appendVarNumber(b, 4)
		b.AddUint32(uint32(v))
	default:
		appendVarNumber(b, 8)
		b.AddUint64(v)
	}
}

// readTLV reads one TLV element from s, returning its type and value.
func readTLV(s *cryptobyte.String) (uint64, []byte, error) {
	var typ, length uint64
	if !readVarNumber(s, &typ) {
		return 0, nil, fmt.Errorf("%w: truncated type", ErrMalformedTLV)
	}
	if !readVarNumber(s, &length) {
		return 0, nil, fmt.Errorf("%w: truncated length", ErrMalformedTLV)
	}
	if length > uint64(len(*s)) {
		return 0, nil, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrMalformedTLV, length, len(*s))
	}
	var value []byte
	if !s.ReadBytes(&value, int(length)) {
		return 0, nil, fmt.Errorf("%w: truncated value", ErrMalformedTLV)
	}
	return typ, value, nil
}

// readExpectedTLV reads one TLV element and checks that it has type typ.
func readExpectedTLV(s *cryptobyte.String, typ uint64) ([]byte, error) {
	got, value, err := readTLV(s)
	if err != nil {
		return nil, err
	}
	if got != typ {
		return nil, fmt.Errorf("%w: expected type %d, got %d", ErrMalformedTLV, typ, got)
	}
	return value, nil
}

// decodeNonNegativeInteger parses a 1, 2, 4 or 8 byte big-endian value.
func decodeNonNegativeInteger(value []byte) (uint64, error) {
	s := cryptobyte.String(value)
	switch len(value) {
	case 1:
		var v uint8
		s.ReadUint8(&v)
		return uint64(v), nil
	case 2:
		var v uint16
		s.ReadUint16(&v)
		return uint64(v), nil
	case 4:
		var v uint32
		s.ReadUint32(&v)
		return uint64(v), nil
	case 8:
		var v uint64
		s.ReadUint64(&v)
		return v, nil
	default:
		return 0, fmt.Errorf("%w: invalid NonNegativeInteger length %d", ErrMalformedTLV, len(value))
	}
}

// isCritical reports whether an unrecognized TLV type must cause a decode failure.
func isCritical(typ uint64) bool {
	return typ <= 31 || typ&1 == 1
}
