package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/helenavibes/ML-service/internal/config"
	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/repository"
)

// Service registers users and issues and verifies access tokens
type Service struct {
	store      repository.Store
	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
	logger     *zap.Logger
	now        func() time.Time
}

// Claims is the JWT payload
type Claims struct {
	UserID   string          `json:"user_id"`
	Username string          `json:"username"`
	Role     models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// RegisterRequest is the payload for creating an account
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email,max=100"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// Token is an issued access token
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewService creates an account service
func NewService(store repository.Store, cfg config.AuthConfig, logger *zap.Logger) *Service {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		store:      store,
		secret:     []byte(cfg.JWTSecret),
		tokenTTL:   cfg.TokenTTL,
		bcryptCost: cost,
		logger:     logger,
		now:        time.Now,
	}
}

// Register creates an active USER account with a zero balance
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	user, err := s.create(ctx, req.Username, req.Email, req.Password, models.RoleUser)
	if err != nil {
		return nil, err
	}
	s.logger.Info("User registered",
		zap.String("user_id", user.ID.String()),
		zap.String("username", user.Username))
	return user, nil
}

// EnsureUser returns the user with the given username, creating it when missing.
// The boolean reports whether the user was created.
func (s *Service) EnsureUser(ctx context.Context, username, email, password string, role models.UserRole) (*models.User, bool, error) {
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrUserNotFound) {
		return nil, false, err
	}

	user, err := s.create(ctx, username, email, password, role)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (s *Service) create(ctx context.Context, username, email, password string, role models.UserRole) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return nil, fmt.Errorf("username, email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}

	err = s.store.InTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		if _, err := repo.GetUserByUsername(ctx, username); err == nil {
			return fmt.Errorf("username %q already registered: %w", username, models.ErrConflict)
		} else if !errors.Is(err, models.ErrUserNotFound) {
			return err
		}
		if _, err := repo.GetUserByEmail(ctx, email); err == nil {
			return fmt.Errorf("email %q already registered: %w", email, models.ErrConflict)
		} else if !errors.Is(err, models.ErrUserNotFound) {
			return err
		}
		return repo.SaveUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues a token. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, *models.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, nil, fmt.Errorf("incorrect username or password: %w", models.ErrUnauthorized)
		}
		return nil, nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, fmt.Errorf("incorrect username or password: %w", models.ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, nil, fmt.Errorf("user %s: %w", user.ID, models.ErrUserInactive)
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, nil, err
	}
	return token, user, nil
}

// IssueToken signs an HS256 token for user
func (s *Service) IssueToken(user *models.User) (*Token, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := Claims{
		UserID:   user.ID.String(),
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.tokenTTL.Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// Authenticate verifies a token and returns the active user it names
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*models.User, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v: %w", err, models.ErrUnauthorized)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid token subject: %w", models.ErrUnauthorized)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, fmt.Errorf("token user no longer exists: %w", models.ErrUnauthorized)
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("user %s: %w", user.ID, models.ErrUserInactive)
	}
	return user, nil
}

// Get returns a user by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.store.GetUser(ctx, id)
}

// List returns every user
func (s *Service) List(ctx context.Context) ([]*models.User, error) {
	return s.store.ListUsers(ctx)
}
