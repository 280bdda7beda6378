package ndn

import (
	"fmt"
	"time"

	"golang.org/x/crypto/cryptobyte"
)

// ContentType describes the payload of a Data packet.
type ContentType uint64

const (
	// ContentTypeBlob is an opaque payload.
	ContentTypeBlob ContentType = 0
	// ContentTypeKey is a payload carrying key material (public or wrapped).
	ContentTypeKey ContentType = 2
)

func (t ContentType) String() string {
	switch t {
	case ContentTypeBlob:
		return "blob"
	case ContentTypeKey:
		return "key"
	default:
		return fmt.Sprintf("content-type(%d)", uint64(t))
	}
}

// SignatureType identifies the signature algorithm of a Data packet.
type SignatureType uint64

const (
	SignatureDigestSha256    SignatureType = 0
	SignatureSha256WithRsa   SignatureType = 1
	SignatureSha256WithEcdsa SignatureType = 3
	SignatureEd25519         SignatureType = 5
)

func (t SignatureType) String() string {
	switch t {
	case SignatureDigestSha256:
		return "DigestSha256"
	case SignatureSha256WithRsa:
		return "SignatureSha256WithRsa"
	case SignatureSha256WithEcdsa:
		return "SignatureSha256WithEcdsa"
	case SignatureEd25519:
		return "SignatureEd25519"
	default:
		return fmt.Sprintf("signature-type(%d)", uint64(t))
	}
}

// MetaInfo carries per-packet metadata.
type MetaInfo struct {
	ContentType     ContentType
	FreshnessPeriod time.Duration
}

// SignatureInfo describes how a packet was signed.
type SignatureInfo struct {
	Type       SignatureType
	KeyLocator Name
}

// Data is a named, signed object.
type Data struct {
	Name           Name
	MetaInfo       MetaInfo
	Content        []byte
	SignatureInfo  SignatureInfo
	SignatureValue []byte
}

// IsSigned reports whether a signature value has been attached.
func (d *Data) IsSigned() bool {
	return len(d.SignatureValue) > 0
}

func (d *Data) appendSignedPortion(b *cryptobyte.Builder) error {
	if err := appendName(b, d.Name); err != nil {
		return err
	}
	if d.MetaInfo.ContentType != ContentTypeBlob || d.MetaInfo.FreshnessPeriod > 0 {
		err := appendNested(b, TypeMetaInfo, func(inner *cryptobyte.Builder) {
			if d.MetaInfo.ContentType != ContentTypeBlob {
				appendNonNegativeInteger(inner, TypeContentType, uint64(d.MetaInfo.ContentType))
			}
			if d.MetaInfo.FreshnessPeriod > 0 {
				appendNonNegativeInteger(inner, TypeFreshnessPeriod, uint64(d.MetaInfo.FreshnessPeriod.Milliseconds()))
			}
		})
		if err != nil {
			return err
		}
	}
	appendTLV(b, TypeContent, d.Content)

	locator, err := d.encodeKeyLocator()
	if err != nil {
		return err
	}
	return appendNested(b, TypeSignatureInfo, func(inner *cryptobyte.Builder) {
		appendNonNegativeInteger(inner, TypeSignatureType, uint64(d.SignatureInfo.Type))
		if locator != nil {
			appendTLV(inner, TypeKeyLocator, locator)
		}
	})
}

func (d *Data) encodeKeyLocator() ([]byte, error) {
	if len(d.SignatureInfo.KeyLocator) == 0 {
		return nil, nil
	}
	return EncodeName(d.SignatureInfo.KeyLocator)
}

// SignedPortion returns the bytes covered by the signature: the Name,
// MetaInfo, Content and SignatureInfo elements.
func (d *Data) SignedPortion() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	if err := d.appendSignedPortion(b); err != nil {
		return nil, fmt.Errorf("failed to encode signed portion: %w", err)
	}
	return b.Bytes()
}

// Encode returns the TLV wire form of the packet.
func (d *Data) Encode() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	var innerErr error
	err := appendNested(b, TypeData, func(inner *cryptobyte.Builder) {
		if innerErr = d.appendSignedPortion(inner); innerErr != nil {
			return
		}
		appendTLV(inner, TypeSignatureValue, d.SignatureValue)
	})
	if innerErr != nil {
		return nil, fmt.Errorf("failed to encode data %s: %w", d.Name, innerErr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode data %s: %w", d.Name, err)
	}
	return b.Bytes()
}

// DecodeData parses the TLV wire form of a Data packet.
func DecodeData(wire []byte) (*Data, error) {
	s := cryptobyte.String(wire)
	value, err := readExpectedTLV(&s, TypeData)
	if err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, fmt.Errorf("%w: %d trailing bytes after data", ErrMalformedTLV, len(s))
	}

	d := &Data{}
	inner := cryptobyte.String(value)
	var haveName, haveSigInfo, haveSigValue bool
	for !inner.Empty() {
		typ, v, err := readTLV(&inner)
		if err != nil {
			return nil, err
		}
		switch typ {
		case TypeName:
			if haveName {
				return nil, fmt.Errorf("%w: duplicate name", ErrMalformedTLV)
			}
			if d.Name, err = decodeNameValue(v); err != nil {
				return nil, err
			}
			haveName = true
		case TypeMetaInfo:
			if d.MetaInfo, err = decodeMetaInfo(v); err != nil {
				return nil, err
			}
		case TypeContent:
			d.Content = append([]byte{}, v...)
		case TypeSignatureInfo:
			if d.SignatureInfo, err = decodeSignatureInfo(v); err != nil {
				return nil, err
			}
			haveSigInfo = true
		case TypeSignatureValue:
			d.SignatureValue = append([]byte(nil), v...)
			haveSigValue = true
		default:
			if isCritical(typ) {
				return nil, fmt.Errorf("%w: unrecognized critical element %d", ErrMalformedTLV, typ)
			}
		}
	}
	if !haveName || !haveSigInfo || !haveSigValue {
		return nil, fmt.Errorf("%w: data is missing a required element", ErrMalformedTLV)
	}
	if d.Content == nil {
		d.Content = []byte{}
	}
	return d, nil
}

func decodeMetaInfo(value []byte) (MetaInfo, error) {
	var mi MetaInfo
	s := cryptobyte.String(value)
	for !s.Empty() {
		typ, v, err := readTLV(&s)
		if err != nil {
			return mi, err
		}
		switch typ {
		case TypeContentType:
			n, err := decodeNonNegativeInteger(v)
			if err != nil {
				return mi, err
			}
			mi.ContentType = ContentType(n)
		case TypeFreshnessPeriod:
			n, err := decodeNonNegativeInteger(v)
			if err != nil {
				return mi, err
			}
			mi.FreshnessPeriod = time.Duration(n) * time.Millisecond
		}
	}
	return mi, nil
}

func decodeSignatureInfo(value []byte) (SignatureInfo, error) {
	var si SignatureInfo
	s := cryptobyte.String(value)
	typValue, err := readExpectedTLV(&s, TypeSignatureType)
	if err != nil {
		return si, err
	}
	n, err := decodeNonNegativeInteger(typValue)
	if err != nil {
		return si, err
	}
	si.Type = SignatureType(n)
	for !s.Empty() {
		typ, v, err := readTLV(&s)
		if err != nil {
			return si, err
		}
		if typ == TypeKeyLocator {
			if si.KeyLocator, err = DecodeName(v); err != nil {
				return si, err
			}
		}
	}
	return si, nil
}

// EncryptedContent is the payload of a key object: an encrypted blob and
// the name of the key needed to decrypt it.
type EncryptedContent struct {
	Payload []byte
	KeyName Name
}

// Encode returns the EncryptedContent TLV.
func (ec EncryptedContent) Encode() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	var nameErr error
	err := appendNested(b, TypeEncryptedContent, func(inner *cryptobyte.Builder) {
		appendTLV(inner, TypeEncryptedPayload, ec.Payload)
		nameErr = appendName(inner, ec.KeyName)
	})
	if nameErr != nil {
		return nil, nameErr
	}
	if err != nil {
		return nil, err
	}
	return b.Bytes()
}

// DecodeEncryptedContent parses an EncryptedContent TLV. Both the
// EncryptedPayload and Name elements are required, each exactly once, and
// no trailing bytes are allowed.
func DecodeEncryptedContent(wire []byte) (EncryptedContent, error) {
	var ec EncryptedContent
	s := cryptobyte.String(wire)
	value, err := readExpectedTLV(&s, TypeEncryptedContent)
	if err != nil {
		return ec, err
	}
	if !s.Empty() {
		return ec, fmt.Errorf("%w: %d trailing bytes after encrypted content", ErrMalformedTLV, len(s))
	}

	inner := cryptobyte.String(value)
	var havePayload, haveName bool
	for !inner.Empty() {
		typ, v, err := readTLV(&inner)
		if err != nil {
			return ec, err
		}
		switch typ {
		case TypeEncryptedPayload:
			if havePayload {
				return ec, fmt.Errorf("%w: duplicate encrypted payload", ErrMalformedTLV)
			}
			ec.Payload = append([]byte(nil), v...)
			havePayload = true
		case TypeName:
			if haveName {
				return ec, fmt.Errorf("%w: duplicate key name", ErrMalformedTLV)
			}
			if ec.KeyName, err = decodeNameValue(v); err != nil {
				return ec, err
			}
			haveName = true
		default:
			return ec, fmt.Errorf("%w: unexpected element %d in encrypted content", ErrMalformedTLV, typ)
		}
	}
	if !havePayload {
		return ec, fmt.Errorf("%w: encrypted content has no payload", ErrMalformedTLV)
	}
	if !haveName {
		return ec, fmt.Errorf("%w: encrypted content has no key name", ErrMalformedTLV)
	}
	return ec, nil
}
