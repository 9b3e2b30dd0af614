package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"
)

var (
	// ErrInvalidCredentials is returned for unknown users, wrong passwords and inactive accounts alike
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when the email or username is already taken
	ErrUserExists = errors.New("user already exists")
	// ErrUsernameRequired is returned when registering without a username
	ErrUsernameRequired = errors.New("username is required")
	// ErrUserNotFound is returned when a user id does not resolve
	ErrUserNotFound = errors.New("user not found")
)

// RegisterRequest represents the input for user registration
type RegisterRequest struct {
	Username    string
	DisplayName string
	Email       string
	Password    string
}

// Service interface for user directory operations
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	Authenticate(ctx context.Context, login, password string) (*User, error)
	EmailFor(ctx context.Context, userID string) (string, error)
}

type service struct {
	repo Repository
}

// NewService creates a new user service
func NewService(repo Repository) Service {
	return &service{repo}
}

// dummyHash is verified against when the user does not exist so that
// unknown logins take as long as wrong passwords
var dummyHash = sync.OnceValue(func() string {
	h, _ := HashPassword("loginguard-timing-equalizer")
	return h
})

func (s *service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" {
		return nil, ErrUsernameRequired
	}

	exists, err := s.repo.ExistsByEmailOrUsername(ctx, req.Email, req.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate verifies the password of the user identified by username or email
func (s *service) Authenticate(ctx context.Context, login, password string) (*User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.repo.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			VerifyPassword(password, dummyHash())
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !VerifyPassword(password, u.PasswordHash) || !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// EmailFor returns the notification address of a user
func (s *service) EmailFor(ctx context.Context, userID string) (string, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return u.Email, nil
}
