package auth

import (
	"errors"
	"html/template"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/loginguard/internal/domain/login"
	"github.com/Anvoria/loginguard/internal/domain/session"
	"github.com/Anvoria/loginguard/internal/domain/user"
	"github.com/Anvoria/loginguard/internal/utils"
)

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

// ConfirmRequest is the body of POST /auth/confirm. The email link carries
// the same fields as query parameters and the confirmation page posts them as a form.
type ConfirmRequest struct {
	Token  string `json:"token" query:"token" form:"token"`
	Action string `json:"action" query:"action" form:"action"`
}

// CompleteRequest is the body of POST /auth/login/complete
type CompleteRequest struct {
	ChallengeID string `json:"challenge_id"`
	ClaimToken  string `json:"claim_token"`
}

// confirmPage asks the user to submit the decision; opening the link alone changes nothing
var confirmPage = template.Must(template.New("confirm").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="robots" content="noindex"><title>Confirm sign-in</title></head>
<body>
<form method="post" action="{{.Action}}">
<input type="hidden" name="token" value="{{.Token}}">
<input type="hidden" name="action" value="{{.Decision}}">
<p>{{if eq .Decision "approve"}}Was this you? Approve the new sign-in.{{else}}Not you? Deny the new sign-in.{{end}}</p>
<button type="submit">{{if eq .Decision "approve"}}Approve{{else}}Deny{{end}}</button>
</form>
</body>
</html>
`))

// SessionView is one entry of the session list
type SessionView struct {
	session.Info
	Current bool `json:"current"`
}

// DeviceView is one entry of the known device list
type DeviceView struct {
	Fingerprint string     `json:"device_fingerprint"`
	DeviceName  string     `json:"device_name"`
	Network     string     `json:"network"`
	Location    string     `json:"location,omitempty"`
	Trusted     bool       `json:"trusted"`
	TrustedAt   *time.Time `json:"trusted_at,omitempty"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
}

type Handler struct {
	authService AuthService
	sessions    session.Service
}

func NewHandler(s AuthService, sessions session.Service) *Handler {
	return &Handler{authService: s, sessions: sessions}
}

func (h *Handler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}
	if req.Email == "" || req.Password == "" {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	u, err := h.authService.Register(c.UserContext(), user.RegisterRequest{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, user.ErrUserExists):
			return utils.ErrorResponse(c, apiErrUserExists)
		case errors.Is(err, user.ErrUsernameRequired):
			return utils.ErrorResponse(c, utils.ErrBadRequest)
		}
		slog.Error("Registration failed", "error", err)
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"user": u,
	}, "User registered successfully", fiber.StatusCreated)
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	res, err := h.authService.Login(c.UserContext(), req.Login, req.Password, c.Get(fiber.HeaderUserAgent), c.IP())
	if err != nil {
		return h.loginError(c, err)
	}

	if res.Status == StatusConfirmationRequired {
		return utils.SuccessResponse(c, res, "Confirm this login from the link sent to your email", fiber.StatusAccepted)
	}
	return utils.SuccessResponse(c, res, "Login successful")
}

// ConfirmPage renders the form behind the emailed link. It has no side
// effects so link scanners cannot answer the challenge.
func (h *Handler) ConfirmPage(c *fiber.Ctx) error {
	var req ConfirmRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}
	action := strings.ToLower(req.Action)
	if req.Token == "" || (action != "approve" && action != "deny") {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set("Referrer-Policy", "no-referrer")
	c.Type("html", "utf-8")
	return confirmPage.Execute(c.Response().BodyWriter(), map[string]string{
		"Action":   c.Path(),
		"Token":    req.Token,
		"Decision": action,
	})
}

// Confirm records the user's answer. The session is collected by the
// client that started the login, never by whoever submits this.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	var req ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	var approve bool
	switch strings.ToLower(req.Action) {
	case "approve":
		approve = true
	case "deny":
		approve = false
	default:
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	if err := h.authService.ConfirmLogin(c.UserContext(), req.Token, approve); err != nil {
		return h.loginError(c, err)
	}
	if !approve {
		return utils.SuccessResponse(c, fiber.Map{"decision": login.DecisionDenied}, "Login denied, we sent you a security alert")
	}
	return utils.SuccessResponse(c, fiber.Map{"decision": login.DecisionApproved}, "Login approved, return to the device you are signing in on")
}

// CompleteLogin hands the session of an approved challenge to the client
// holding its claim token. Until the user answers it reports 202.
func (h *Handler) CompleteLogin(c *fiber.Ctx) error {
	var req CompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	res, err := h.authService.CompleteLogin(c.UserContext(), req.ChallengeID, req.ClaimToken)
	if errors.Is(err, login.ErrConfirmationPending) {
		return utils.SuccessResponse(c, LoginResult{
			Status:      StatusConfirmationRequired,
			ChallengeID: req.ChallengeID,
		}, "Waiting for confirmation", fiber.StatusAccepted)
	}
	if err != nil {
		return h.loginError(c, err)
	}
	return utils.SuccessResponse(c, res, "Login successful")
}

func (h *Handler) loginError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return utils.ErrorResponse(c, apiErrInvalidCredentials)
	case errors.Is(err, ErrLoginBlocked):
		return utils.ErrorResponse(c, apiErrLoginBlocked)
	case errors.Is(err, ErrLoginDenied):
		return utils.ErrorResponse(c, apiErrLoginDenied)
	case errors.Is(err, ErrSessionNotEstablished):
		return utils.ErrorResponse(c, apiErrSessionFailed)
	case errors.Is(err, login.ErrChallengeNotFound):
		return utils.ErrorResponse(c, apiErrChallengeNotFound)
	case errors.Is(err, login.ErrChallengeExpired):
		return utils.ErrorResponse(c, apiErrChallengeExpired)
	case errors.Is(err, login.ErrInvalidInput):
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}
	slog.Error("Login failed", "error", err)
	return utils.ErrorResponse(c, utils.ErrInternalServer)
}

// Logout revokes the calling session
func (h *Handler) Logout(c *fiber.Ctx) error {
	id := GetIdentity(c)
	if id == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}
	if err := h.sessions.RevokeSession(c.UserContext(), id.SessionID, session.ReasonLogout); err != nil {
		slog.Error("Logout failed", "user_id", id.UserID, "error", err)
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}
	return utils.SuccessResponse(c, nil, "Logged out")
}

// ListSessions returns the caller's live sessions, oldest first
func (h *Handler) ListSessions(c *fiber.Ctx) error {
	id := GetIdentity(c)
	if id == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}

	infos, err := h.sessions.GetActiveSessions(c.UserContext(), id.UserID)
	if err != nil {
		slog.Error("Failed to list sessions", "user_id", id.UserID, "error", err)
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}

	views := make([]SessionView, len(infos))
	for i, info := range infos {
		views[i] = SessionView{Info: info, Current: info.SessionID == id.SessionID}
	}
	return utils.SuccessResponse(c, fiber.Map{"sessions": views}, "Active sessions")
}

// SessionHistory returns the caller's audit trail
func (h *Handler) SessionHistory(c *fiber.Ctx) error {
	id := GetIdentity(c)
	if id == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}

	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	history, err := h.sessions.GetSessionHistory(c.UserContext(), id.UserID, limit)
	if err != nil {
		slog.Error("Failed to load session history", "user_id", id.UserID, "error", err)
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}
	return utils.SuccessResponse(c, fiber.Map{"sessions": history}, "Session history")
}

// RevokeSession revokes one of the caller's own sessions
func (h *Handler) RevokeSession(c *fiber.Ctx) error {
	id := GetIdentity(c)
	if id == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}
	target := c.Params("id")

	infos, err := h.sessions.GetActiveSessions(c.UserContext(), id.UserID)
	if err != nil {
		slog.Error("Failed to list sessions", "user_id", id.UserID, "error", err)
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}
	owned := false
	for _, info := range infos {
		if info.SessionID == target {
			owned = true
			break
		}
	}
	if !owned {
		return utils.ErrorResponse(c, utils.ErrNotFound)
	}

	if err := h.sessions.RevokeSession(c.UserContext(), target, session.ReasonRevoked); err != nil {
		slog.Error("Failed to revoke session", "user_id", id.UserID, "session_id", target, "error", err)
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}
	return utils.SuccessResponse(c, nil, "Session revoked")
}

// RevokeOtherSessions logs the caller out everywhere else
func (h *Handler) RevokeOtherSessions(c *fiber.Ctx) error {
	id := GetIdentity(c)
	if id == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}

	n, err := h.sessions.RevokeAllSessions(c.UserContext(), id.UserID, id.SessionID, session.ReasonLogoutAll)
	if err != nil {
		slog.Error("Failed to revoke sessions", "user_id", id.UserID, "error", err)
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}
	return utils.SuccessResponse(c, fiber.Map{"revoked": n}, "Other sessions revoked")
}

// ListDevices returns the devices the caller has logged in from
func (h *Handler) ListDevices(c *fiber.Ctx) error {
	id := GetIdentity(c)
	if id == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}

	devices, err := h.authService.KnownDevices(c.UserContext(), id.UserID)
	if err != nil {
		slog.Error("Failed to list devices", "user_id", id.UserID, "error", err)
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}
	views := make([]DeviceView, len(devices))
	for i, d := range devices {
		views[i] = DeviceView{
			Fingerprint: d.Fingerprint,
			DeviceName:  d.DeviceName,
			Network:     d.Network,
			Location:    d.Location,
			Trusted:     d.Trusted,
			TrustedAt:   d.TrustedAt,
			LastSeenAt:  d.LastSeenAt,
		}
	}
	return utils.SuccessResponse(c, fiber.Map{"devices": views}, "Known devices")
}
