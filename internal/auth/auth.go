// Package auth models the external authentication/user service as a Go
// interface, with a lightweight default implementation that validates
// self-issued HS256 JWTs so the rest of the stack has something concrete to
// run against in tests and single-binary deployments.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Principal is the authenticated identity attached to a connection.
type Principal struct {
	UserID string
	Role   string
}

// CanAccess reports whether this principal may attach to a session owned by
// ownerID: either it owns the session, or its role is privileged enough to
// impersonate any owner.
func (p Principal) CanAccess(ownerID string) bool {
	if p.UserID == ownerID {
		return true
	}
	switch p.Role {
	case "admin", "moderator":
		return true
	default:
		return false
	}
}

// Verifier validates a bearer token and resolves it to a Principal. A real
// deployment backs this with a call to the external auth/user service; the
// default implementation below is self-contained.
type Verifier interface {
	Verify(token string) (Principal, error)
}

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// JWTVerifier verifies HS256 tokens signed with a shared secret. Claims
// carry "sub" (user id), "role", and the standard "exp".
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(tokenStr string) (Principal, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrTokenExpired
		}
		return Principal{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, ErrTokenInvalid
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Principal{}, ErrTokenInvalid
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = "user"
	}

	return Principal{UserID: sub, Role: role}, nil
}

// IssueToken mints a token this Verifier will accept. Exists for tests and
// the standalone deployment path; a real deployment issues tokens from the
// external auth service instead.
func (v *JWTVerifier) IssueToken(userID, role string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"role": role,
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
