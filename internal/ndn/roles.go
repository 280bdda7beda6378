package ndn

import "fmt"

// Reserved role markers. Application names must never use these tokens as
// ordinary components.
const (
	ContentKeyMarker    Component = "C-KEY"
	EncryptionKeyMarker Component = "ENC-KEY"
	DecryptionKeyMarker Component = "DEC-KEY"
	ByMarker            Component = "BY"
)

// IsReserved reports whether c is one of the reserved role markers.
func (c Component) IsReserved() bool {
	switch c {
	case ContentKeyMarker, EncryptionKeyMarker, DecryptionKeyMarker, ByMarker:
		return true
	}
	return false
}

// HasReserved reports whether any component of n is a reserved marker.
func (n Name) HasReserved() bool {
	for _, c := range n {
		if c.IsReserved() {
			return true
		}
	}
	return false
}

// ValidateContentName checks that n may be used as a content object name.
func ValidateContentName(n Name) error {
	if len(n) == 0 {
		return fmt.Errorf("%w: content name is empty", ErrInvalidName)
	}
	if n.HasReserved() {
		return fmt.Errorf("%w: content name %s contains a reserved component", ErrInvalidName, n)
	}
	return nil
}

// EncryptionKeyIndex validates an asymmetric key name of the form
// /<authority...>/ENC-KEY/<key-id...> and returns the index of its
// ENC-KEY component.
func EncryptionKeyIndex(n Name) (int, error) {
	if n.Count(EncryptionKeyMarker) != 1 {
		return -1, fmt.Errorf("%w: key name %s must contain exactly one %s component", ErrInvalidName, n, EncryptionKeyMarker)
	}
	idx := n.Index(EncryptionKeyMarker)
	if idx == 0 {
		return -1, fmt.Errorf("%w: key name %s has no issuing authority prefix", ErrInvalidName, n)
	}
	if idx == len(n)-1 {
		return -1, fmt.Errorf("%w: key name %s has no key id after %s", ErrInvalidName, n, EncryptionKeyMarker)
	}
	for i, c := range n {
		if i != idx && c.IsReserved() {
			return -1, fmt.Errorf("%w: key name %s contains reserved component %s", ErrInvalidName, n, c)
		}
	}
	return idx, nil
}

// KeyObjectName derives the name of the object that carries the wrapped
// content key:
//
//	<contentName>/C-KEY/ENC-KEY/<key-id...>
//
// The suffix is the part of asymmetricKeyName starting at its ENC-KEY
// component. The result depends only on its two inputs.
func KeyObjectName(contentName, asymmetricKeyName Name) (Name, error) {
	if err := ValidateContentName(contentName); err != nil {
		return nil, err
	}
	idx, err := EncryptionKeyIndex(asymmetricKeyName)
	if err != nil {
		return nil, err
	}
	return contentName.Append(ContentKeyMarker).AppendName(asymmetricKeyName.Sub(idx)), nil
}

// SplitKeyObjectName splits a key object name at its C-KEY component,
// returning the content name and the key suffix (starting at ENC-KEY).
func SplitKeyObjectName(keyObjectName Name) (Name, Name, error) {
	if keyObjectName.Count(ContentKeyMarker) != 1 {
		return nil, nil, fmt.Errorf("%w: %s must contain exactly one %s component", ErrInvalidName, keyObjectName, ContentKeyMarker)
	}
	idx := keyObjectName.Index(ContentKeyMarker)
	content := keyObjectName.Prefix(idx)
	suffix := keyObjectName.Sub(idx + 1)
	if err := ValidateContentName(content); err != nil {
		return nil, nil, err
	}
	if len(suffix) < 2 || suffix[0] != EncryptionKeyMarker || Name(suffix[1:]).HasReserved() {
		return nil, nil, fmt.Errorf("%w: %s has a malformed key suffix", ErrInvalidName, keyObjectName)
	}
	return content, suffix, nil
}

// DecryptionKeyName returns the name of the private half of the key pair
// named by an encryption key name, with ENC-KEY replaced by DEC-KEY.
func DecryptionKeyName(encryptionKeyName Name) (Name, error) {
	idx, err := EncryptionKeyIndex(encryptionKeyName)
	if err != nil {
		return nil, err
	}
	out := encryptionKeyName.Prefix(len(encryptionKeyName))
	out[idx] = DecryptionKeyMarker
	return out, nil
}
