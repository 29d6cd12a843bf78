package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nytax/internal/model"
	"nytax/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 24 * time.Hour

// DTOs for Request validation
type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required,oneof=admin analyst"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type AuthService interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginRequest) (*TokenResponse, error)
}

type authService struct {
	userRepo  repository.UserRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	secret    []byte
	now       func() time.Time
}

func NewAuthService(userRepo repository.UserRepository, auditRepo repository.AuditRepository, txManager repository.TransactionManager, secret []byte) AuthService {
	return &authService{userRepo: userRepo, auditRepo: auditRepo, txManager: txManager, secret: secret, now: time.Now}
}

func (s *authService) CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error) {
	if req.Role != model.RoleAdmin && req.Role != model.RoleAnalyst {
		return nil, invalid("role", "must be admin or analyst")
	}
	if len(req.Password) < 8 {
		return nil, invalid("password", "must be at least 8 characters")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username: req.Username,
		Email:    req.Email,
		Password: string(hashed),
		Role:     req.Role,
	}
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.userRepo.Create(txCtx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return invalid("username", "username or email already exists")
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, nil, model.ActionCreateUser, user.ID.String(), user.Username, map[string]string{
			"role": user.Role,
		})
	})
	if err != nil {
		return nil, err
	}

	return &UserResponse{
		ID:        user.ID.String(),
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (s *authService) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrUnauthorized
	}

	expires := s.now().Add(tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role,
		"exp":  expires.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &TokenResponse{Token: signed, ExpiresAt: expires.UTC().Format(time.RFC3339)}, nil
}

// ParseActor converts the "sub" claim stored by the auth middleware into a user id.
func ParseActor(sub interface{}) *uuid.UUID {
	s, ok := sub.(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
