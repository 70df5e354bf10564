package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifierRoundTrip(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	token, err := v.IssueToken("user-1", "user", time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "user", p.Role)
}

func TestJWTVerifierRejectsExpired(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	token, err := v.IssueToken("user-1", "user", -time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestJWTVerifierRejectsWrongSecret(t *testing.T) {
	v1 := NewJWTVerifier("secret-a")
	v2 := NewJWTVerifier("secret-b")

	token, err := v1.IssueToken("user-1", "user", time.Hour)
	require.NoError(t, err)

	_, err = v2.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestJWTVerifierRejectsGarbage(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	_, err := v.Verify("not.a.jwt")
	assert.Error(t, err)
}

func TestPrincipalCanAccess(t *testing.T) {
	owner := Principal{UserID: "owner", Role: "user"}
	assert.True(t, owner.CanAccess("owner"))

	other := Principal{UserID: "other", Role: "user"}
	assert.False(t, other.CanAccess("owner"))

	admin := Principal{UserID: "admin-1", Role: "admin"}
	assert.True(t, admin.CanAccess("owner"))

	moderator := Principal{UserID: "mod-1", Role: "moderator"}
	assert.True(t, moderator.CanAccess("owner"))
}
