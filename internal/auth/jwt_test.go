package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenAndSubjectFromContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	secret := "test-secret"
	signed, expiresAt, err := GenerateToken("admin", secret, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, signed)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	c.Set("user", token)

	sub, err := SubjectFromContext(c)
	require.NoError(t, err)
	assert.Equal(t, "admin", sub)
}

func TestGenerateTokenValidation(t *testing.T) {
	_, _, err := GenerateToken("", "secret", time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("admin", "", time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("admin", "secret", 0)
	assert.Error(t, err)
}

func TestSubjectFromContextWithoutToken(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, err := SubjectFromContext(c)
	assert.Error(t, err)
}

func TestCredentialsVerify(t *testing.T) {
	creds, err := NewCredentials("admin", "s3cret")
	require.NoError(t, err)

	assert.True(t, creds.Verify("admin", "s3cret"))
	assert.False(t, creds.Verify("admin", "wrong"))
	assert.False(t, creds.Verify("root", "s3cret"))
}

func TestNewCredentialsValidation(t *testing.T) {
	_, err := NewCredentials("", "pw")
	assert.Error(t, err)
	_, err = NewCredentials("admin", "")
	assert.Error(t, err)
}
