// Package auth issues and verifies the admin tokens guarding the ops API.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"
)

const claimSubject = "sub"

// JWTMiddleware returns a JWT auth middleware configured for HS256 tokens.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ",
		Skipper:       skipper,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// SubjectFromContext extracts the authenticated subject from JWT claims.
func SubjectFromContext(c echo.Context) (string, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	if sub, _ := claims[claimSubject].(string); strings.TrimSpace(sub) != "" {
		return strings.TrimSpace(sub), nil
	}
	return "", echo.NewHTTPError(http.StatusUnauthorized, "subject missing")
}

// GenerateToken creates a signed admin JWT.
func GenerateToken(subject, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := jwt.MapClaims{
		claimSubject: subject,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Credentials verifies a username/password pair against the configured
// admin identity. The password hash is computed once at construction so
// the plaintext from config is not kept around.
type Credentials struct {
	username     string
	passwordHash []byte
}

// NewCredentials hashes the configured admin password for later comparison.
func NewCredentials(username, password string) (*Credentials, error) {
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("admin username is required")
	}
	if password == "" {
		return nil, fmt.Errorf("admin password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &Credentials{username: username, passwordHash: hash}, nil
}

// Verify reports whether the given pair matches the stored identity.
func (c *Credentials) Verify(username, password string) bool {
	if c == nil || username != c.username {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.passwordHash, []byte(password)) == nil
}
