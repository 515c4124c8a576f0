// Package authpw provides username/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"

	"codeconnect/api/internal/store"
	"codeconnect/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken      = errors.New("username already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidInput       = errors.New("invalid input")
)

// Service provides username/password authentication
type Service struct {
	store UserStore
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	TouchLastLogin(ctx context.Context, userID string) error
}

// NewService creates a new auth service
func NewService(userStore UserStore) *Service {
	return &Service{store: userStore}
}

// RegisterRequest contains registration parameters
type RegisterRequest struct {
	Username    string
	Password    string
	DisplayName string
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	if req.Username == "" || req.Password == "" {
		return store.User{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	if len(req.Username) < 2 || len(req.Username) > 50 {
		return store.User{}, fmt.Errorf("%w: username must be between 2 and 50 characters", ErrInvalidInput)
	}
	if len(req.Password) < 8 {
		return store.User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}

	if _, err := s.store.GetUserByUsername(ctx, req.Username); err == nil {
		return store.User{}, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Username:     req.Username,
		PasswordHash: string(hash),
		DisplayName:  displayName,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login authenticates a user and records the login time
func (s *Service) Login(ctx context.Context, username, password string) (store.User, error) {
	if username == "" || password == "" {
		return store.User{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	if err := s.store.TouchLastLogin(ctx, user.ID); err != nil {
		return store.User{}, fmt.Errorf("record login: %w", err)
	}
	return user, nil
}

// HashPassword hashes a password for seeding accounts outside the register flow.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
