package auth

import (
	"errors"
	"fmt"
	"time"

	"restoran-fulfillment/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type JWTCustomClaims struct {
	SubjectID string          `json:"sub_id"`
	Role      models.UserRole `json:"role"`
	Station   string          `json:"station,omitempty"` // kitchen only
	jwt.RegisteredClaims
}

// Identity is what a validated bearer credential tells us about the caller.
type Identity struct {
	SubjectID string
	Role      models.UserRole
	Station   string
}

// Validator checks bearer credentials. Issuing them belongs to the external
// auth provider; this service only validates.
type Validator interface {
	Validate(token string) (Identity, error)
}

type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) Validate(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &JWTCustomClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JWTCustomClaims)
	if !ok || claims.SubjectID == "" || !claims.Role.Valid() {
		return Identity{}, ErrInvalidToken
	}
	return Identity{SubjectID: claims.SubjectID, Role: claims.Role, Station: claims.Station}, nil
}

// GenerateToken mints a token the validator accepts. Used by tests and the
// listener's --mint flag for local development.
func GenerateToken(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTCustomClaims{
		SubjectID: id.SubjectID,
		Role:      id.Role,
		Station:   id.Station,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
