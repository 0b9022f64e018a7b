package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyToken(t *testing.T) {
	svc := NewJWTService("test-secret")
	userID := uuid.New()
	deviceID := uuid.New()

	token, err := svc.SignToken(userID, deviceID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, deviceID, claims.DeviceID)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	svc := NewJWTService("test-secret")
	token, err := svc.SignToken(uuid.New(), uuid.New())
	require.NoError(t, err)

	other := NewJWTService("different-secret")
	_, err = other.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyTokenExpired(t *testing.T) {
	svc := NewJWTService("test-secret")
	now := time.Now()
	claims := &JWTClaims{
		UserID:   uuid.New(),
		DeviceID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyTokenUnexpectedAlgorithm(t *testing.T) {
	svc := NewJWTService("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &JWTClaims{UserID: uuid.New()})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifyToken(signed)
	assert.Error(t, err)
}

func TestVerifyTokenGarbage(t *testing.T) {
	svc := NewJWTService("test-secret")
	_, err := svc.VerifyToken("not-a-token")
	assert.Error(t, err)
}
