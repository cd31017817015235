package economy

import (
	"errors"
	"fmt"
)

// ErrInsufficientFunds is returned by spend paths when the balance cannot
// cover the amount. The balance is left unchanged.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ValidationError rejects malformed input at the boundary. Nothing is
// mutated and no journal entry is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// AuthError covers signature mismatches and remote account states that make
// a request unauthorized: unlinked or frozen accounts. Never retried
// automatically.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

// RemoteError wraps a failed exchange with the remote economy service.
// Retryable errors may be resent on the next triggered sync; non-retryable
// ones need operator action (re-linking, unfreezing).
type RemoteError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote economy error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote economy error (status %d)", e.StatusCode)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient remote failure worth
// resending on the next trigger.
func IsRetryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return false
	}
	return false
}
