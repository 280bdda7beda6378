package producer

import (
	"errors"
	"fmt"
)

// Kind classifies producer failures.
type Kind int

const (
	// KindUnknown is reported by KindOf for errors not raised by this package.
	KindUnknown Kind = iota
	// ContractViolation means the caller passed an invalid name, key or
	// missing argument. Not retryable.
	ContractViolation
	// CryptoFailure means an encryption primitive failed. Not retryable
	// with the same inputs.
	CryptoFailure
	// SigningFailure means the signer could not sign. May succeed after
	// operator intervention.
	SigningFailure
	// EncodingFailure means a packet or envelope could not be encoded or
	// parsed. Not retryable.
	EncodingFailure
)

func (k Kind) String() string {
	switch k {
	case ContractViolation:
		return "contract_violation"
	case CryptoFailure:
		return "crypto_failure"
	case SigningFailure:
		return "signing_failure"
	case EncodingFailure:
		return "encoding_failure"
	default:
		return "unknown"
	}
}

// Error is returned by every producer operation. Messages carry names and
// lengths only, never key bytes.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("producer: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// ErrNilPayload is the cause of the contract violation for an absent payload.
var ErrNilPayload = errors.New("payload is required")
