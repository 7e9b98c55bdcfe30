package drive

import "github.com/pkg/errors"

// ErrNotFound is returned when a remote file doesn't exist. Callers treat it
// as an ordinary condition, not a failure.
var ErrNotFound = errors.New("remote file not found")

// TransientError wraps failures that are worth retrying on the next sync
// pass: network errors, 5xx responses, and rate limiting.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient remote failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// QuotaError is returned when Drive rejects an upload because the account is
// out of storage. It is never retried.
type QuotaError struct {
	Message string
}

func (e *QuotaError) Error() string {
	return e.Message
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsQuota(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}
