package services

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// TokenSigner issues a bearer token for an authenticated admin.
type TokenSigner func(email string, ttl time.Duration) (string, error)

// AdminCredentials is the single configured reporting account. PasswordHash
// is a bcrypt hash (see `usabctl hash-password`). Empty credentials disable
// auth entirely and leave the reporting endpoints open.
type AdminCredentials struct {
	Email        string
	PasswordHash string
}

func (c AdminCredentials) Configured() bool {
	return c.Email != "" && c.PasswordHash != ""
}

type AuthService struct {
	creds     AdminCredentials
	signToken TokenSigner
	tokenTTL  time.Duration
}

type AuthResult struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

func NewAuthService(creds AdminCredentials, signer TokenSigner) *AuthService {
	return &AuthService{
		creds:     creds,
		signToken: signer,
		tokenTTL:  30 * 24 * time.Hour,
	}
}

func (s *AuthService) Login(email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	if !s.creds.Configured() {
		return nil, NewInvalidError("admin auth not configured")
	}
	if !strings.EqualFold(email, s.creds.Email) {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.creds.PasswordHash), []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(s.creds.Email, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Email: s.creds.Email}, nil
}
