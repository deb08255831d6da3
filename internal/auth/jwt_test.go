package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/pulsefit/internal/auth"
)

func testConfig() auth.Config {
	return auth.Config{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "https://id.pulsefit.app",
		Audience:   "pulsefit-api",
	}
}

func TestService_GenerateAndValidateAccessToken(t *testing.T) {
	svc := auth.NewService(testConfig())

	token, expiresAt, err := svc.GenerateAccessToken("usr_test123", false)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "usr_test123", claims.UserID)
	assert.Equal(t, "usr_test123", claims.Subject)
	assert.Equal(t, "https://id.pulsefit.app", claims.Issuer)
	assert.False(t, claims.Admin)
}

func TestService_OperatorClaim(t *testing.T) {
	svc := auth.NewService(testConfig())

	token, _, err := svc.GenerateAccessToken("usr_operator", true)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.True(t, claims.Admin)
}

func TestService_InvalidToken(t *testing.T) {
	svc := auth.NewService(testConfig())

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestService_WrongSigningKey(t *testing.T) {
	cfg := testConfig()
	svc1 := auth.NewService(cfg)

	token, _, err := svc1.GenerateAccessToken("usr_test123", false)
	require.NoError(t, err)

	cfg.SigningKey = "a-different-key"
	svc2 := auth.NewService(cfg)

	_, err = svc2.ValidateAccessToken(token)
	assert.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestService_WrongIssuer(t *testing.T) {
	cfg := testConfig()
	svc1 := auth.NewService(cfg)

	token, _, err := svc1.GenerateAccessToken("usr_test123", false)
	require.NoError(t, err)

	cfg.Issuer = "https://elsewhere.example"
	svc2 := auth.NewService(cfg)

	_, err = svc2.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestService_WrongAudience(t *testing.T) {
	cfg := testConfig()
	svc1 := auth.NewService(cfg)

	token, _, err := svc1.GenerateAccessToken("usr_test123", false)
	require.NoError(t, err)

	cfg.Audience = "another-api"
	svc2 := auth.NewService(cfg)

	_, err = svc2.ValidateAccessToken(token)
	assert.Error(t, err)
}
