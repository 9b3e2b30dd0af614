package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/loginguard/internal/utils"
)

var (
	// ErrInvalidCredentials is returned when the username/password pair is rejected
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginBlocked is returned when the risk score crosses the block threshold
	ErrLoginBlocked = errors.New("login blocked")
	// ErrLoginDenied is returned when the user denies a confirmation challenge
	ErrLoginDenied = errors.New("login denied")
	// ErrSessionNotEstablished hides every session store failure from the client
	ErrSessionNotEstablished = errors.New("session could not be established")
)

var (
	apiErrInvalidCredentials = utils.NewAPIError("INVALID_CREDENTIALS", "Invalid username or password", fiber.StatusUnauthorized)
	apiErrLoginBlocked       = utils.NewAPIError("LOGIN_BLOCKED", "This login attempt was blocked", fiber.StatusForbidden)
	apiErrLoginDenied        = utils.NewAPIError("LOGIN_DENIED", "This login was denied", fiber.StatusForbidden)
	apiErrSessionFailed      = utils.NewAPIError("SESSION_NOT_ESTABLISHED", "Session could not be established", fiber.StatusServiceUnavailable)
	apiErrChallengeNotFound  = utils.NewAPIError("CHALLENGE_NOT_FOUND", "Confirmation link is invalid or was already used", fiber.StatusNotFound)
	apiErrChallengeExpired   = utils.NewAPIError("CHALLENGE_EXPIRED", "Confirmation link has expired", fiber.StatusGone)
	apiErrUserExists         = utils.NewAPIError("USER_EXISTS", "Username or email already registered", fiber.StatusConflict)
	apiErrInvalidSession     = utils.NewAPIError("INVALID_SESSION", "Session is invalid or expired", fiber.StatusUnauthorized)
)
