// Package ndn implements the named-data primitives the producer builds on:
// hierarchical names, the reserved access-control role markers, and a
// minimal Data packet with its TLV wire encoding.
package ndn

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/cryptobyte"
)

// ErrInvalidName is returned for names that cannot be parsed or that break
// the naming convention.
var ErrInvalidName = errors.New("ndn: invalid name")

// Component is a single generic name component.
type Component string

// Name is an ordered list of components. A Name is treated as immutable:
// every method that extends or slices it returns a fresh copy.
type Name []Component

// ParseName parses a name in URI form, e.g. "/alice/photo1". The optional
// "ndn:" scheme is accepted. Empty segments are skipped.
func ParseName(uri string) (Name, error) {
	uri = strings.TrimPrefix(uri, "ndn:")
	if uri != "" && !strings.HasPrefix(uri, "/") {
		return nil, fmt.Errorf("%w: %q does not start with /", ErrInvalidName, uri)
	}

	var name Name
	for _, segment := range strings.Split(uri, "/") {
		if segment == "" {
			continue
		}
		comp, err := parseComponent(segment)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidName, uri, err)
		}
		name = append(name, comp)
	}
	return name, nil
}

// MustParseName is like ParseName but panics on error. Intended for
// constants and tests.
func MustParseName(uri string) Name {
	name, err := ParseName(uri)
	if err != nil {
		panic(err)
	}
	return name
}

func parseComponent(segment string) (Component, error) {
	var buf []byte
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if c != '%' {
			buf = append(buf, c)
			continue
		}
		if i+2 >= len(segment) {
			return "", fmt.Errorf("truncated escape in %q", segment)
		}
		hi, ok1 := unhex(segment[i+1])
		lo, ok2 := unhex(segment[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("bad escape in %q", segment)
		}
		buf = append(buf, hi<<4|lo)
		i += 2
	}

	if onlyPeriods(buf) {
		if len(buf) < 3 {
			return "", fmt.Errorf("component %q is not allowed", segment)
		}
		buf = buf[3:]
	}
	return Component(buf), nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func onlyPeriods(b []byte) bool {
	for _, c := range b {
		if c != '.' {
			return false
		}
	}
	return true
}

func isUnreserved(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// String returns the URI form of the component.
func (c Component) String() string {
	if onlyPeriods([]byte(c)) {
		return "..." + string(c)
	}
	const hexDigits = "0123456789ABCDEF"
	var sb strings.Builder
	for i := 0; i < len(c); i++ {
		b := c[i]
		if isUnreserved(b) {
			sb.WriteByte(b)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hexDigits[b>>4])
		sb.WriteByte(hexDigits[b&0x0F])
	}
	return sb.String()
}

// String returns the URI form of the name. The empty name is "/".
func (n Name) String() string {
	if len(n) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, c := range n {
		sb.WriteByte('/')
		sb.WriteString(c.String())
	}
	return sb.String()
}

// Append returns a copy of n with comps appended.
func (n Name) Append(comps ...Component) Name {
	out := make(Name, 0, len(n)+len(comps))
	out = append(out, n...)
	return append(out, comps...)
}

// AppendName returns a copy of n with all components of other appended.
func (n Name) AppendName(other Name) Name {
	return n.Append(other...)
}

// Prefix returns a copy of the first i components of n.
func (n Name) Prefix(i int) Name {
	if i > len(n) {
		i = len(n)
	}
	return append(Name(nil), n[:i]...)
}

// Sub returns a copy of the components of n starting at index i.
func (n Name) Sub(i int) Name {
	if i > len(n) {
		i = len(n)
	}
	return append(Name(nil), n[i:]...)
}

// Equal reports whether n and other have identical components.
func (n Name) Equal(other Name) bool {
	if len(n) != len(other) {
		return false
	}
	for i := range n {
		if n[i] != other[i] {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether n is a prefix of other.
func (n Name) IsPrefixOf(other Name) bool {
	if len(n) > len(other) {
		return false
	}
	return n.Equal(other[:len(n)])
}

// HasSuffix reports whether n ends with suffix.
func (n Name) HasSuffix(suffix Name) bool {
	if len(suffix) > len(n) {
		return false
	}
	return Name(n[len(n)-len(suffix):]).Equal(suffix)
}

// Count returns how many components of n equal c.
func (n Name) Count(c Component) int {
	count := 0
	for _, comp := range n {
		if comp == c {
			count++
		}
	}
	return count
}

// Index returns the index of the first component equal to c, or -1.
func (n Name) Index(c Component) int {
	for i, comp := range n {
		if comp == c {
			return i
		}
	}
	return -1
}

func appendName(b *cryptobyte.Builder, n Name) error {
	return appendNested(b, TypeName, func(inner *cryptobyte.Builder) {
		for _, c := range n {
			appendTLV(inner, TypeGenericNameComponent, []byte(c))
		}
	})
}

// EncodeName returns the TLV wire form of n.
func EncodeName(n Name) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	if err := appendName(b, n); err != nil {
		return nil, err
	}
	return b.Bytes()
}

// decodeNameValue parses the value of a Name TLV.
func decodeNameValue(value []byte) (Name, error) {
	s := cryptobyte.String(value)
	name := Name{}
	for !s.Empty() {
		typ, comp, err := readTLV(&s)
		if err != nil {
			return nil, err
		}
		if typ != TypeGenericNameComponent {
			return nil, fmt.Errorf("%w: unsupported name component type %d", ErrMalformedTLV, typ)
		}
		name = append(name, Component(comp))
	}
	return name, nil
}

// DecodeName parses the TLV wire form of a name.
func DecodeName(wire []byte) (Name, error) {
	s := cryptobyte.String(wire)
	value, err := readExpectedTLV(&s, TypeName)
	if err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, fmt.Errorf("%w: %d trailing bytes after name", ErrMalformedTLV, len(s))
	}
	return decodeNameValue(value)
}
