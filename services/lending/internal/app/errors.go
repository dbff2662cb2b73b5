package app

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown username and for a wrong
	// password alike, so the response never reveals which one happened.
	ErrInvalidCredentials = errors.New("Incorrect username or password")

	// ErrTooManyAttempts is returned when login attempts for a username exceed
	// the configured window.
	ErrTooManyAttempts = errors.New("too many login attempts, try again later")

	ErrBookNotFound   = errors.New("book not found")
	ErrAuthorNotFound = errors.New("author not found")
)
