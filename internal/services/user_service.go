package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"chat-backend/internal/models"
	"chat-backend/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

type UserService struct {
	users  repository.UserStore
	tokens *TokenService
	log    *zap.Logger
}

func NewUserService(users repository.UserStore, tokens *TokenService, log *zap.Logger) *UserService {
	return &UserService{users: users, tokens: tokens, log: log}
}

func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)
	if req.FullName == "" || req.Email == "" || req.Password == "" {
		return nil, validationf("all fields are required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, validationf("invalid email address")
	}
	if len(req.Password) < minPasswordLength {
		return nil, validationf("password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		FullName:     req.FullName,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, storeErr(err, "create user")
	}

	s.log.Info("user registered", zap.String("user_id", user.ID))
	return s.issue(user)
}

func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(err, "find user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *UserService) issue(user *models.User) (*models.AuthResponse, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &models.AuthResponse{User: user, Token: token}, nil
}

// Authenticate resolves a session token to an existing user. Any failure,
// including an unknown user, is reported as ErrUnauthorized.
func (s *UserService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user not found", ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, validationf("user id is required")
	}
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, storeErr(err, "user "+id)
	}
	return user, nil
}

// ListUsers returns every user except exclude, newest first.
func (s *UserService) ListUsers(ctx context.Context, exclude string) ([]models.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, storeErr(err, "list users")
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID != exclude {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *UserService) Search(ctx context.Context, query, exclude string) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.User{}, nil
	}
	users, err := s.users.SearchUsers(ctx, query)
	if err != nil {
		return nil, storeErr(err, "search users")
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID != exclude {
			out = append(out, u)
		}
	}
	return out, nil
}
