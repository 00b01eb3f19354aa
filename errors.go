package forumauth

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailed is returned by Authenticate for any credential
	// failure. Unknown username and wrong password collapse into this
	// single error so callers cannot probe which usernames exist.
	ErrAuthFailed = errors.New("invalid username or password")

	// ErrUnauthenticated is returned by Validate when the presented
	// access token is malformed, expired, revoked, or carries the
	// wrong token type.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidRefresh is returned by Refresh when the presented
	// refresh token is malformed, expired, or no longer the recorded
	// session for its user.
	ErrInvalidRefresh = errors.New("invalid refresh token")

	// ErrUserNotFound is returned by CredentialStore implementations
	// when no account matches the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrAccountExists is returned by Register when the username or
	// email is already taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrPasswordMismatch is returned by ChangePassword when the old
	// password does not verify against the stored hash.
	ErrPasswordMismatch = errors.New("old password does not match")

	// ErrStoreUnavailable wraps backing store outages: the credential
	// store and the key/value session store alike.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrGraphUnavailable wraps role graph outages on paths that must
	// not degrade, such as role mutations.
	ErrGraphUnavailable = errors.New("role graph unavailable")

	// ErrRateLimited is the sentinel all rate limit rejections unwrap
	// to. Use errors.As with *RateLimitError for retry metadata.
	ErrRateLimited = errors.New("rate limited")
)

// RateLimitError carries the rejection message and retry hint for a rate
// limited request. It unwraps to ErrRateLimited.
type RateLimitError struct {
	// Message is the policy's client-facing rejection text.
	Message string
	// RetryAfter is the whole number of seconds until the current
	// window expires. At least 1 when set.
	RetryAfter int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s", e.Message)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
