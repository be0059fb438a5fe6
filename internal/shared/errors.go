package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPostingFailed is the generic failure surfaced when a financial
	// transaction cannot be committed.
	ErrPostingFailed = errors.New("posting failed")
	// ErrInvalidToken indicates API authentication failure.
	ErrInvalidToken = errors.New("invalid api token")
)

// UserSafeMessage maps engine errors onto messages that can be returned to
// callers without leaking storage details.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "The requested record was not found."
	case errors.Is(err, ErrPostingFailed):
		return "The transaction could not be processed. No changes were saved."
	default:
		return "The transaction could not be processed. No changes were saved."
	}
}
