package dweb

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind rather than matching error strings.
// Use errors.As to extract *Error for structured handling.
type Kind string

const (
	// KindCoding marks caller misuse, e.g. appending an empty target. Not retried.
	KindCoding Kind = "Coding"
	// KindForbidden marks a privileged operation attempted without the private key.
	KindForbidden Kind = "Forbidden"
	// KindResolution marks a path that matched a prefix but could not be resolved further.
	KindResolution Kind = "Resolution"
	// KindUnknownType marks a fetched record whose type tag is not registered.
	KindUnknownType Kind = "UnknownType"
	// KindForbiddenType marks a registered tag whose factory does not build a Record.
	KindForbiddenType Kind = "ForbiddenType"
	KindEncryption    Kind = "Encryption"
	KindDecryption    Kind = "Decryption"
	// KindTransport marks storage failures: timeouts, unreachable or missing replicas.
	KindTransport Kind = "Transport"
)

// Error is the package's structured error type.
//
// Op names the operation that failed (e.g. "commonlist.append").
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func wrapError(kind Kind, op, msg string, cause error) error {
	if cause == nil {
		return newError(kind, op, msg)
	}
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
