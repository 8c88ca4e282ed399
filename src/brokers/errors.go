package brokers

import (
	"errors"
	"fmt"
)

// AuthError marks broker rejections that retrying the same request cannot
// fix: bad credentials, expired or revoked sessions. The trader fails over
// immediately instead of burning retries on these.
type AuthError struct {
	Broker string
	Status int
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed (status %d): %s", e.Broker, e.Status, e.Reason)
}

// IsAuthError reports whether err is, or wraps, an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// OAuthRequiredError means the connection cannot proceed without a human
// completing the broker's consent flow at AuthorizeURL.
type OAuthRequiredError struct {
	Broker       string
	AuthorizeURL string
}

func (e *OAuthRequiredError) Error() string {
	return fmt.Sprintf("%s requires interactive OAuth consent: %s", e.Broker, e.AuthorizeURL)
}
