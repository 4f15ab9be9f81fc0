package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/medflow/medflow-stock/pkg/actor"
	apperrors "github.com/medflow/medflow-stock/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("test-secret", "medflow")
	token, err := v.Sign(&actor.Actor{ID: "user-1", Email: "pharm@clinic.local", Role: "pharmacist"}, time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	a := claims.Actor()
	assert.Equal(t, "user-1", a.ID)
	assert.Equal(t, "pharm@clinic.local", a.Email)
	assert.Equal(t, "pharmacist", a.Role)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("test-secret", "medflow")
	subject := &actor.Actor{ID: "user-1"}

	t.Run("expired", func(t *testing.T) {
		token, err := v.Sign(subject, -time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(token)
		assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewVerifier("other-secret", "medflow").Sign(subject, time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(token)
		assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewVerifier("test-secret", "someone-else").Sign(subject, time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(token)
		assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("unsigned", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "x"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = v.Verify(token)
		assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Verify("not-a-token")
		assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})
}
