package crypto

import "errors"

// Typed verification failures per spec §4.2. Each is a distinct sentinel
// that callers can match with errors.Is to select a problem+json code
// without string-matching error text.
var (
	ErrSignatureInvalid = errors.New("crypto: E_SIGNATURE_INVALID")
	ErrKeyNotFound      = errors.New("crypto: E_KEY_NOT_FOUND")
	ErrTimeInvalid      = errors.New("crypto: E_TIME_INVALID")
	ErrAlgMismatch      = errors.New("crypto: E_SIGNATURE_INVALID: algorithm mismatch")
	ErrBadKeyID         = errors.New("crypto: invalid kid format")
)
