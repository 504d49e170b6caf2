// Package auth guards the mutating API routes. The bot has a single
// operator account configured via environment, so there is no user store:
// login checks the configured bcrypt hash and issues a short-lived JWT.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"futures-hedge-bot/config"
)

const (
	tokenIssuer = "futures-hedge-bot"

	// DefaultAccessTokenDuration applies when config leaves the duration unset.
	DefaultAccessTokenDuration = 15 * time.Minute
)

// AuthError carries a stable machine-readable code alongside the message.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
)

// Claims is the JWT payload for the operator session.
type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// Token is returned to the operator after a successful login.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// Manager signs and validates operator tokens and checks the login password.
type Manager struct {
	secret        []byte
	operator      string
	passwordHash  string
	tokenDuration time.Duration
}

// NewManager builds a manager from the auth section of the config.
func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("auth: jwt secret is required")
	}

	duration := cfg.AccessTokenDuration
	if duration <= 0 {
		duration = DefaultAccessTokenDuration
	}

	return &Manager{
		secret:        []byte(cfg.JWTSecret),
		operator:      cfg.OperatorUser,
		passwordHash:  cfg.OperatorPasswordHash,
		tokenDuration: duration,
	}, nil
}

// Login verifies the operator credentials and issues an access token.
func (m *Manager) Login(username, password string) (*Token, error) {
	if username != m.operator || !VerifyPassword(password, m.passwordHash) {
		return nil, ErrInvalidCredentials
	}
	return m.GenerateToken()
}

// GenerateToken issues a signed access token for the operator.
func (m *Manager) GenerateToken() (*Token, error) {
	now := time.Now()
	expiresAt := now.Add(m.tokenDuration)

	claims := Claims{
		Operator: m.operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   m.operator,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(m.tokenDuration.Seconds()),
	}, nil
}

// ValidateToken parses and validates an access token, returning its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
