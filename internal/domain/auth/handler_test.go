package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Anvoria/loginguard/internal/domain/login"
	"github.com/Anvoria/loginguard/internal/domain/risk"
	"github.com/Anvoria/loginguard/internal/domain/session"
	"github.com/Anvoria/loginguard/internal/domain/user"
)

// MockAuthService is a mock implementation of AuthService
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Register(ctx context.Context, req user.RegisterRequest) (*user.User, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockAuthService) Login(ctx context.Context, username, password, userAgent, ip string) (*LoginResult, error) {
	args := m.Called(username, password, userAgent, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*LoginResult), args.Error(1)
}

func (m *MockAuthService) ConfirmLogin(ctx context.Context, token string, approve bool) error {
	return m.Called(token, approve).Error(0)
}

func (m *MockAuthService) CompleteLogin(ctx context.Context, challengeID, claimToken string) (*LoginResult, error) {
	args := m.Called(challengeID, claimToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*LoginResult), args.Error(1)
}

func (m *MockAuthService) KnownDevices(ctx context.Context, userID string) ([]risk.KnownDevice, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]risk.KnownDevice), args.Error(1)
}

// MockSessionService is a mock implementation of session.Service
type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) CreateSession(ctx context.Context, req session.CreateRequest) (*session.CreateResult, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.CreateResult), args.Error(1)
}

func (m *MockSessionService) ValidateSession(ctx context.Context, token string) (*session.ValidationResult, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.ValidationResult), args.Error(1)
}

func (m *MockSessionService) RevokeSession(ctx context.Context, sessionID, reason string) error {
	return m.Called(sessionID, reason).Error(0)
}

func (m *MockSessionService) RevokeAllSessions(ctx context.Context, userID, exceptSessionID, reason string) (int, error) {
	args := m.Called(userID, exceptSessionID, reason)
	return args.Int(0), args.Error(1)
}

func (m *MockSessionService) GetActiveSessions(ctx context.Context, userID string) ([]session.Info, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]session.Info), args.Error(1)
}

func (m *MockSessionService) GetSessionHistory(ctx context.Context, userID string, limit int) ([]session.Session, error) {
	args := m.Called(userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]session.Session), args.Error(1)
}

func (m *MockSessionService) CleanupExpiredSessions(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockSessionService) Wait() {}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, body io.Reader) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(body).Decode(&env))
	return env
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decode(t, resp.Body)
}

func newAuthApp(authService AuthService, sessions session.Service) *fiber.App {
	app := fiber.New()
	h := NewHandler(authService, sessions)
	app.Post("/auth/register", h.Register)
	app.Post("/auth/login", h.Login)
	app.Post("/auth/login/complete", h.CompleteLogin)
	app.Get("/auth/confirm", h.ConfirmPage)
	app.Post("/auth/confirm", h.Confirm)

	protected := app.Group("", SessionMiddleware(sessions))
	protected.Post("/auth/logout", h.Logout)
	protected.Get("/sessions", h.ListSessions)
	protected.Get("/sessions/history", h.SessionHistory)
	protected.Delete("/sessions", h.RevokeOtherSessions)
	protected.Delete("/sessions/:id", h.RevokeSession)
	protected.Get("/devices", h.ListDevices)
	return app
}

func TestHandler_Login(t *testing.T) {
	tests := []struct {
		name       string
		result     *LoginResult
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "authenticated",
			result:     &LoginResult{Status: StatusAuthenticated, Token: "tok"},
			wantStatus: fiber.StatusOK,
		},
		{
			name:       "confirmation required",
			result:     &LoginResult{Status: StatusConfirmationRequired, ChallengeID: "c1"},
			wantStatus: fiber.StatusAccepted,
		},
		{
			name:       "invalid credentials",
			err:        ErrInvalidCredentials,
			wantStatus: fiber.StatusUnauthorized,
			wantCode:   "INVALID_CREDENTIALS",
		},
		{
			name:       "blocked",
			err:        ErrLoginBlocked,
			wantStatus: fiber.StatusForbidden,
			wantCode:   "LOGIN_BLOCKED",
		},
		{
			name:       "session store down",
			err:        ErrSessionNotEstablished,
			wantStatus: fiber.StatusServiceUnavailable,
			wantCode:   "SESSION_NOT_ESTABLISHED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockAuthService)
			mockService.On("Login", "jan", "secret", "test-agent", mock.Anything).Return(tt.result, tt.err)

			app := newAuthApp(mockService, new(MockSessionService))
			status, env := doJSON(t, app, fiber.MethodPost, "/auth/login",
				LoginRequest{Login: "jan", Password: "secret"},
				map[string]string{fiber.HeaderUserAgent: "test-agent"})

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.err == nil, env.Success)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, env.Error.Code)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandler_Login_BadBody(t *testing.T) {
	app := newAuthApp(new(MockAuthService), new(MockSessionService))

	req := httptest.NewRequest(fiber.MethodPost, "/auth/login", bytes.NewBufferString("{not json"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandler_ConfirmPage_HasNoSideEffects(t *testing.T) {
	mockService := new(MockAuthService)
	app := newAuthApp(mockService, new(MockSessionService))

	req := httptest.NewRequest(fiber.MethodGet, "/auth/confirm?token=tok%22%3E&action=approve", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/html")
	assert.Equal(t, "no-store", resp.Header.Get(fiber.HeaderCacheControl))
	assert.Contains(t, string(body), `action="/auth/confirm"`)
	assert.Contains(t, string(body), `value="approve"`)
	assert.Contains(t, string(body), "tok&#34;&gt;", "token is escaped")
	assert.NotContains(t, string(body), `tok">`)
	mockService.AssertNotCalled(t, "ConfirmLogin", mock.Anything, mock.Anything)

	status, _ := doJSON(t, app, fiber.MethodGet, "/auth/confirm?token=tok&action=maybe", nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandler_Confirm(t *testing.T) {
	t.Run("approve returns no session", func(t *testing.T) {
		mockService := new(MockAuthService)
		mockService.On("ConfirmLogin", "tok", true).Return(nil)

		app := newAuthApp(mockService, new(MockSessionService))
		status, env := doJSON(t, app, fiber.MethodPost, "/auth/confirm", ConfirmRequest{Token: "tok", Action: "approve"}, nil)

		assert.Equal(t, fiber.StatusOK, status)
		assert.True(t, env.Success)
		assert.JSONEq(t, `{"decision":"approved"}`, string(env.Data))
		mockService.AssertExpectations(t)
	})

	t.Run("form post from confirmation page", func(t *testing.T) {
		mockService := new(MockAuthService)
		mockService.On("ConfirmLogin", "tok", false).Return(nil)

		app := newAuthApp(mockService, new(MockSessionService))
		req := httptest.NewRequest(fiber.MethodPost, "/auth/confirm", strings.NewReader("token=tok&action=deny"))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		env := decode(t, resp.Body)
		assert.JSONEq(t, `{"decision":"denied"}`, string(env.Data))
		mockService.AssertExpectations(t)
	})

	t.Run("expired challenge", func(t *testing.T) {
		mockService := new(MockAuthService)
		mockService.On("ConfirmLogin", "tok", true).Return(login.ErrChallengeExpired)

		app := newAuthApp(mockService, new(MockSessionService))
		status, _ := doJSON(t, app, fiber.MethodPost, "/auth/confirm", ConfirmRequest{Token: "tok", Action: "approve"}, nil)

		assert.Equal(t, fiber.StatusGone, status)
	})

	t.Run("unknown action", func(t *testing.T) {
		mockService := new(MockAuthService)
		app := newAuthApp(mockService, new(MockSessionService))
		status, _ := doJSON(t, app, fiber.MethodPost, "/auth/confirm", ConfirmRequest{Token: "tok", Action: "maybe"}, nil)

		assert.Equal(t, fiber.StatusBadRequest, status)
		mockService.AssertNotCalled(t, "ConfirmLogin", mock.Anything, mock.Anything)
	})
}

func TestHandler_CompleteLogin(t *testing.T) {
	tests := []struct {
		name       string
		result     *LoginResult
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "approved",
			result:     &LoginResult{Status: StatusAuthenticated, Token: "session-token"},
			wantStatus: fiber.StatusOK,
		},
		{
			name:       "still pending",
			err:        login.ErrConfirmationPending,
			wantStatus: fiber.StatusAccepted,
		},
		{
			name:       "denied",
			err:        ErrLoginDenied,
			wantStatus: fiber.StatusForbidden,
			wantCode:   "LOGIN_DENIED",
		},
		{
			name:       "wrong claim",
			err:        login.ErrChallengeNotFound,
			wantStatus: fiber.StatusNotFound,
			wantCode:   "CHALLENGE_NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockAuthService)
			mockService.On("CompleteLogin", "c1", "claim").Return(tt.result, tt.err)

			app := newAuthApp(mockService, new(MockSessionService))
			status, env := doJSON(t, app, fiber.MethodPost, "/auth/login/complete",
				CompleteRequest{ChallengeID: "c1", ClaimToken: "claim"}, nil)

			assert.Equal(t, tt.wantStatus, status)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, env.Error.Code)
			}
			if tt.result != nil {
				assert.Contains(t, string(env.Data), "session-token")
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandler_ListDevices(t *testing.T) {
	userID := uuid.NewString()
	mockService := new(MockAuthService)
	mockService.On("KnownDevices", userID).Return([]risk.KnownDevice{
		{UserID: userID, Fingerprint: "fp1", DeviceName: "Linux – Firefox 121", Trusted: true},
	}, nil)

	app := newAuthApp(mockService, validSessions(userID, uuid.NewString()))
	status, env := doJSON(t, app, fiber.MethodGet, "/devices", nil, bearer)
	require.Equal(t, fiber.StatusOK, status)

	var data struct {
		Devices []DeviceView `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Devices, 1)
	assert.Equal(t, "fp1", data.Devices[0].Fingerprint)
	assert.True(t, data.Devices[0].Trusted)
	assert.NotContains(t, string(env.Data), userID)
}

func TestHandler_Register(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		mockService := new(MockAuthService)
		req := user.RegisterRequest{Username: "jan", Email: "jan@example.com", Password: "pw"}
		mockService.On("Register", req).Return(&user.User{Username: "jan", Email: "jan@example.com"}, nil)

		app := newAuthApp(mockService, new(MockSessionService))
		status, env := doJSON(t, app, fiber.MethodPost, "/auth/register",
			RegisterRequest{Username: "jan", Email: "jan@example.com", Password: "pw"}, nil)

		assert.Equal(t, fiber.StatusCreated, status)
		assert.True(t, env.Success)
		assert.NotContains(t, string(env.Data), "password")
	})

	t.Run("duplicate", func(t *testing.T) {
		mockService := new(MockAuthService)
		mockService.On("Register", mock.Anything).Return(nil, user.ErrUserExists)

		app := newAuthApp(mockService, new(MockSessionService))
		status, _ := doJSON(t, app, fiber.MethodPost, "/auth/register",
			RegisterRequest{Username: "jan", Email: "jan@example.com", Password: "pw"}, nil)

		assert.Equal(t, fiber.StatusConflict, status)
	})

	t.Run("missing fields", func(t *testing.T) {
		app := newAuthApp(new(MockAuthService), new(MockSessionService))
		status, _ := doJSON(t, app, fiber.MethodPost, "/auth/register", RegisterRequest{Username: "jan"}, nil)
		assert.Equal(t, fiber.StatusBadRequest, status)
	})
}

func TestSessionMiddleware(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		app := newAuthApp(new(MockAuthService), new(MockSessionService))
		status, _ := doJSON(t, app, fiber.MethodGet, "/sessions", nil, nil)
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		app := newAuthApp(new(MockAuthService), new(MockSessionService))
		status, _ := doJSON(t, app, fiber.MethodGet, "/sessions", nil,
			map[string]string{fiber.HeaderAuthorization: "Basic abc"})
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("invalid session", func(t *testing.T) {
		sessions := new(MockSessionService)
		sessions.On("ValidateSession", "dead").Return(&session.ValidationResult{Valid: false}, nil)

		app := newAuthApp(new(MockAuthService), sessions)
		status, env := doJSON(t, app, fiber.MethodGet, "/sessions", nil,
			map[string]string{fiber.HeaderAuthorization: "Bearer dead"})
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "INVALID_SESSION", env.Error.Code)
	})
}

func validSessions(userID, sessionID string) *MockSessionService {
	sessions := new(MockSessionService)
	sessions.On("ValidateSession", "good").Return(&session.ValidationResult{
		Valid:   true,
		UserID:  userID,
		Session: &session.Info{SessionID: sessionID, UserID: userID},
	}, nil)
	return sessions
}

var bearer = map[string]string{fiber.HeaderAuthorization: "Bearer good"}

func TestHandler_ListSessions_MarksCurrent(t *testing.T) {
	userID, current, other := uuid.NewString(), uuid.NewString(), uuid.NewString()
	sessions := validSessions(userID, current)
	sessions.On("GetActiveSessions", userID).Return([]session.Info{
		{SessionID: other, UserID: userID},
		{SessionID: current, UserID: userID},
	}, nil)

	app := newAuthApp(new(MockAuthService), sessions)
	status, env := doJSON(t, app, fiber.MethodGet, "/sessions", nil, bearer)
	require.Equal(t, fiber.StatusOK, status)

	var data struct {
		Sessions []SessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Sessions, 2)
	assert.False(t, data.Sessions[0].Current)
	assert.True(t, data.Sessions[1].Current)
}

func TestHandler_RevokeSession(t *testing.T) {
	userID, current, other := uuid.NewString(), uuid.NewString(), uuid.NewString()

	t.Run("own session", func(t *testing.T) {
		sessions := validSessions(userID, current)
		sessions.On("GetActiveSessions", userID).Return([]session.Info{{SessionID: other}, {SessionID: current}}, nil)
		sessions.On("RevokeSession", other, session.ReasonRevoked).Return(nil)

		app := newAuthApp(new(MockAuthService), sessions)
		status, _ := doJSON(t, app, fiber.MethodDelete, "/sessions/"+other, nil, bearer)
		assert.Equal(t, fiber.StatusOK, status)
		sessions.AssertExpectations(t)
	})

	t.Run("foreign session", func(t *testing.T) {
		sessions := validSessions(userID, current)
		sessions.On("GetActiveSessions", userID).Return([]session.Info{{SessionID: current}}, nil)

		app := newAuthApp(new(MockAuthService), sessions)
		status, _ := doJSON(t, app, fiber.MethodDelete, "/sessions/"+uuid.NewString(), nil, bearer)
		assert.Equal(t, fiber.StatusNotFound, status)
		sessions.AssertNotCalled(t, "RevokeSession", mock.Anything, mock.Anything)
	})
}

func TestHandler_RevokeOtherSessionsAndLogout(t *testing.T) {
	userID, current := uuid.NewString(), uuid.NewString()
	sessions := validSessions(userID, current)
	sessions.On("RevokeAllSessions", userID, current, session.ReasonLogoutAll).Return(3, nil)
	sessions.On("RevokeSession", current, session.ReasonLogout).Return(nil)

	app := newAuthApp(new(MockAuthService), sessions)

	status, env := doJSON(t, app, fiber.MethodDelete, "/sessions", nil, bearer)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"revoked":3}`, string(env.Data))

	status, _ = doJSON(t, app, fiber.MethodPost, "/auth/logout", nil, bearer)
	assert.Equal(t, fiber.StatusOK, status)
	sessions.AssertExpectations(t)
}

func TestHandler_SessionHistory_Limit(t *testing.T) {
	userID := uuid.NewString()
	sessions := validSessions(userID, uuid.NewString())
	sessions.On("GetSessionHistory", userID, 10).Return([]session.Session{}, nil)

	app := newAuthApp(new(MockAuthService), sessions)

	status, _ := doJSON(t, app, fiber.MethodGet, "/sessions/history?limit=10", nil, bearer)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = doJSON(t, app, fiber.MethodGet, "/sessions/history?limit=0", nil, bearer)
	assert.Equal(t, fiber.StatusBadRequest, status)
}
