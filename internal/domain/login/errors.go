package login

import "errors"

var (
	// ErrInvalidInput is returned for missing fields or malformed tokens
	ErrInvalidInput = errors.New("invalid login input")
	// ErrChallengeNotFound is returned when a challenge does not exist or was already answered
	ErrChallengeNotFound = errors.New("confirmation challenge not found")
	// ErrChallengeExpired is returned when a challenge is answered after its expiry
	ErrChallengeExpired = errors.New("confirmation challenge expired")
	// ErrConfirmationPending is returned when a login is collected before the user answered
	ErrConfirmationPending = errors.New("confirmation pending")
	// ErrLoginDenied is returned when collecting a login the user denied
	ErrLoginDenied = errors.New("login denied by user")
)
