// Package fault holds the error instances shared across packages so callers
// can compare with errors.Is instead of matching strings.
package fault

import "errors"

// GenericError is the base for every error class below
type GenericError string

func (e GenericError) Error() string { return string(e) }

// error classes
type InvalidError GenericError
type NotFoundError GenericError
type ProcessError GenericError
type RetryableError GenericError

func (e InvalidError) Error() string   { return string(e) }
func (e NotFoundError) Error() string  { return string(e) }
func (e ProcessError) Error() string   { return string(e) }
func (e RetryableError) Error() string { return string(e) }

// keep in alphabetic order
var (
	ErrDecryption         = ProcessError("could not decrypt scene data")
	ErrInvalidKey         = InvalidError("room key is invalid")
	ErrInvalidElements    = InvalidError("elements payload is invalid")
	ErrInvalidPrefix      = InvalidError("object prefix is empty")
	ErrMissingUserID      = InvalidError("user id is required")
	ErrNotFound           = NotFoundError("document not found")
	ErrStoreConflict      = RetryableError("scene document changed during transaction")
	ErrTransactionAborted = RetryableError("scene transaction aborted")
)

// IsRetryable reports whether err belongs to the retryable class
func IsRetryable(err error) bool {
	var r RetryableError
	return errors.As(err, &r)
}
