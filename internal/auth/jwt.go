package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rolojard/animatronic-kernel/internal/config"
)

// TokenType distinguishes operator session tokens. Only access tokens
// are issued; sessions are short enough (default 1h) that a refresh flow
// adds more surface than it's worth for an on-site operator console.
type TokenType string

const TokenTypeAccess TokenType = "access"

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

type operatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a new operator access token.
func IssueToken(cfg config.Config, sub, role string) (string, int, error) {
	now := time.Now()
	claims := operatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "animatronic-kernel",
			Audience:  []string{"animatronic-kernel-console"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.JWTAccessExpirySec) * time.Second)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	return signed, cfg.JWTAccessExpirySec, err
}

// VerifyToken parses and validates an operator access token.
func VerifyToken(cfg config.Config, token string) (Operator, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithAudience("animatronic-kernel-console"),
		jwt.WithIssuer("animatronic-kernel"),
	)

	claims := &operatorClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Operator{}, ErrTokenExpired
		}
		return Operator{}, ErrTokenInvalid
	}
	if parsed == nil || !parsed.Valid || claims.Subject == "" {
		return Operator{}, ErrTokenInvalid
	}

	return Operator{Sub: claims.Subject, Role: claims.Role, Type: TokenTypeAccess}, nil
}
