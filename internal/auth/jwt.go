// Package auth issues and validates the JWTs that protect the control
// API, with failed-attempt rate limiting by client IP.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenLifetime is how long an issued API token stays valid.
const TokenLifetime = 24 * time.Hour

// Sentinel errors for authentication failures.
var (
	ErrMissingSecret     = errors.New("JWT secret is required")
	ErrEmptyUsername     = errors.New("username cannot be empty")
	ErrMissingAuthHeader = errors.New("authorization header missing")
	ErrInvalidAuthFormat = errors.New("invalid authorization format")
)

// Claims are the JWT claims carried by API tokens.
type Claims struct {
	Username string `json:"username"`
	UserID   string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// contextKey is a private type for context values.
type contextKey struct{}

var claimsKey = contextKey{}

// SetClaimsInContext stores validated claims in the context.
func SetClaimsInContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaimsFromContext retrieves validated claims from the context.
func GetClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// JWTService signs and validates API tokens.
type JWTService struct {
	secret []byte
}

// NewJWTService creates a JWTService with the given signing secret.
func NewJWTService(secret []byte) (*JWTService, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	return &JWTService{secret: secret}, nil
}

// GenerateToken creates a signed token for a user.
func (s *JWTService) GenerateToken(username string) (string, error) {
	if username == "" {
		return "", ErrEmptyUsername
	}

	now := time.Now()
	claims := &Claims{
		Username: username,
		UserID:   username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    "streamvault",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and verifies a token string.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ExtractTokenFromRequest pulls the bearer token from the Authorization
// header.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrInvalidAuthFormat
	}

	return parts[1], nil
}

// Middleware returns an authentication middleware. Requests from
// rate-limited IPs are refused before token validation.
func (s *JWTService) Middleware(rl *RateLimiter) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			clientIP := GetClientIP(r)

			if rl != nil && rl.IsLimited(clientIP) {
				http.Error(w, "Too many failed attempts", http.StatusTooManyRequests)
				return
			}

			tokenString, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			claims, err := s.ValidateToken(tokenString)
			if err != nil {
				if rl != nil {
					rl.RecordFailure(clientIP)
				}
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := SetClaimsInContext(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	}
}
