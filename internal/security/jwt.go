package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT validation errors.
var (
	// ErrInvalidToken indicates a token is malformed or fails validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a token has expired.
	ErrExpiredToken = errors.New("token expired")
	// ErrMissingSubject indicates a valid token without a user id.
	ErrMissingSubject = errors.New("token has no user_id")
)

// SubjectClaims carries the identity quota limits are charged to.
type SubjectClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// AdminClaims marks a token allowed to read every quota row.
type AdminClaims struct {
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// GenerateSubjectToken signs a token whose user_id claim is userID.
func GenerateSubjectToken(secret, userID string, expiry time.Duration) (string, error) {
	claims := SubjectClaims{
		UserID:           userID,
		RegisteredClaims: registeredClaims(expiry),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseSubjectToken validates a token and returns its user id.
func ParseSubjectToken(secret, tokenString string) (string, error) {
	claims := &SubjectClaims{}
	if err := parseClaims(secret, tokenString, claims); err != nil {
		return "", err
	}
	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		return "", ErrMissingSubject
	}
	return userID, nil
}

// GenerateAdminToken signs an admin token.
func GenerateAdminToken(secret, username string, expiry time.Duration) (string, error) {
	claims := AdminClaims{
		Username:         username,
		Admin:            true,
		RegisteredClaims: registeredClaims(expiry),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAdminToken validates an admin token and returns its claims.
func ParseAdminToken(secret, tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	if err := parseClaims(secret, tokenString, claims); err != nil {
		return nil, err
	}
	if !claims.Admin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func registeredClaims(expiry time.Duration) jwt.RegisteredClaims {
	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
}

func parseClaims(secret, tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
