package security

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/7D-Solutions/gaugecore/auth"
)

// JWTService signs and validates the bearer tokens carried by API clients.
// Tokens are HS256 with the user id as subject and the role as a private
// claim; capabilities are rebuilt from the role on validation rather than
// trusted from the token.
type JWTService struct {
	secret []byte
}

// NewJWTService creates a token service with the given signing secret.
func NewJWTService(secret string) *JWTService {
	return &JWTService{secret: []byte(secret)}
}

const roleClaim = "role"

// GenerateToken issues a signed token for the user.
func (j *JWTService) GenerateToken(userID, role string, expiration time.Duration) (string, error) {
	now := time.Now()

	token, err := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(expiration)).
		Claim(roleClaim, role).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// ValidateToken parses and verifies a token, rejecting bad signatures and
// expired tokens.
func (j *JWTService) ValidateToken(tokenString string) (jwt.Token, error) {
	token, err := jwt.Parse([]byte(tokenString), jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return token, nil
}

// CallerFromToken validates a token and rebuilds the Caller record from
// its subject and role claims.
func (j *JWTService) CallerFromToken(tokenString string) (*auth.Caller, error) {
	token, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	role := ""
	if v, ok := token.Get(roleClaim); ok {
		role, _ = v.(string)
	}
	if !auth.ValidRole(role) {
		return nil, fmt.Errorf("token carries unknown role %q", role)
	}
	return auth.CallerFor(token.Subject(), role), nil
}
