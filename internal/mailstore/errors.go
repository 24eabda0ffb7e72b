package mailstore

import (
	"errors"
	"fmt"
)

var (
	ErrBadCredentials   = errors.New("mailstore: bad credentials")
	ErrMailboxNotFound  = errors.New("mailstore: mailbox not found")
	ErrMailboxExists    = errors.New("mailstore: mailbox already exists")
	ErrMessageNotFound  = errors.New("mailstore: message not found")
	ErrStorage          = errors.New("mailstore: storage error")
	ErrNotSupported     = errors.New("mailstore: operation not supported")
	ErrUnsupportedSearch = errors.New("mailstore: unsupported search criterion")
	ErrQuotaExceeded    = errors.New("mailstore: quota exceeded")
)

// StorageErrorf wraps a backend-specific cause as ErrStorage so callers can
// errors.Is(err, ErrStorage) regardless of which backend raised it.
func StorageErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStorage, fmt.Sprintf(format, args...))
}

// WrapStorage wraps an arbitrary backend error as ErrStorage, preserving
// the original error for errors.Unwrap/errors.Is chains.
func WrapStorage(cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorage, cause)
}
