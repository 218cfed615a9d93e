// Package ccneterr defines the error taxonomy used across the ccnet
// driver stack. Unlike a free-form application error code, the kinds
// here are closed: every failure a bill validator link can produce
// falls into exactly one of them.
package ccneterr

import "fmt"

// Kind classifies a driver error by where in the protocol stack it
// originated. Callers branch on Kind rather than on error strings.
type Kind int

const (
	// KindTransport covers failures below framing: the serial link
	// itself did not behave (short read, write failure, closed port).
	KindTransport Kind = iota
	// KindFraming covers malformed frames: bad sync byte, CRC
	// mismatch, truncated header or payload.
	KindFraming
	// KindProtocol covers well-framed exchanges that violate the
	// command/response contract: illegal command, unexpected payload
	// size, a response that is neither ACK nor NAK when one of those
	// was required.
	KindProtocol
	// KindSemantic covers requests that are well-formed but invalid
	// given the device's current bill table, e.g. enabling a cash
	// type the device never reported.
	KindSemantic
	// KindLiveness covers requests that timed out waiting on the
	// device or were abandoned because the controller stopped.
	KindLiveness
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindFraming:
		return "framing"
	case KindProtocol:
		return "protocol"
	case KindSemantic:
		return "semantic"
	case KindLiveness:
		return "liveness"
	default:
		return "unknown"
	}
}

// Error is the concrete error type produced by the ccnet packages.
// It carries a Kind so callers (including the HTTP operator) can
// translate failures without string matching, plus an optional
// wrapped cause for diagnostics.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "poll", "set_enabled_cash_types"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Op != "" {
		if e.Cause != nil {
			return fmt.Sprintf("ccnet: %s: %s: %s", e.Op, e.Message, e.Cause)
		}
		return fmt.Sprintf("ccnet: %s: %s", e.Op, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("ccnet: %s: %s", e.Message, e.Cause)
	}
	return fmt.Sprintf("ccnet: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error with no wrapped cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an Error around an existing error, tagging it with a
// Kind and the operation that was in flight when it occurred.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: cause.Error(), Cause: cause}
}

// Is reports whether err is a *Error of the given Kind. It follows
// Unwrap chains, so a wrapped *Error is still matched.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and
// false otherwise.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}
