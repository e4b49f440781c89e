// Package apperr defines the error taxonomy shared by every service in the
// credential subsystem. Each failure surfaced to a caller is one of a small
// set of kinds that the HTTP layer maps onto status codes.
package apperr

import "errors"

// Kind classifies an error for transport-level mapping.
type Kind uint8

const (
	// Internal is the zero-adjacent default for unexpected failures.
	Internal Kind = iota
	// Validation marks malformed or rejected input (400).
	Validation
	// Unauthorized marks bad credentials, bad/expired/reused tokens, and
	// locked accounts (401).
	Unauthorized
	// Forbidden marks cross-account token misuse and fingerprint
	// mismatches (403).
	Forbidden
	// Conflict marks duplicate registration and concurrent refresh
	// collisions (409).
	Conflict
	// Decryption marks ciphertext integrity failures. Treated as fatal:
	// garbage plaintext must never flow onward (500).
	Decryption
)

// Error is a kinded sentinel error. Values are created once at package level
// and compared with errors.Is.
type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Kind reports the taxonomy class of the error.
func (e *Error) Kind() Kind { return e.kind }

// New builds a kinded error. Intended for package-level sentinel definitions.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// KindOf extracts the Kind from err or any error it wraps. Unclassified
// errors report Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Internal
}
