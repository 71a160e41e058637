package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	PurposeSession    = "session"
	PurposeActivation = "activation"
)

// ErrTokenPurpose is returned when a token is presented for the wrong use.
var ErrTokenPurpose = errors.New("token issued for another purpose")

type jwtCustomClaims struct {
	UserID  string `json:"user_id"`
	Purpose string `json:"purpose"`
	Email   string `json:"email,omitempty"`
	Stamp   string `json:"stamp,omitempty"`
	jwt.RegisteredClaims
}

// ActivationClaims are the identity bindings carried by an activation token.
type ActivationClaims struct {
	UserID    uuid.UUID
	Email     string
	Stamp     string
	ExpiresAt time.Time
}

// GenerateToken creates a signed session JWT for the provided user ID.
func GenerateToken(secret string, userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &jwtCustomClaims{
		UserID:  userID.String(),
		Purpose: PurposeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a session token and returns the embedded user ID.
func ParseToken(secret, tokenString string) (uuid.UUID, error) {
	claims, err := parse(secret, tokenString, time.Now)
	if err != nil {
		return uuid.Nil, err
	}
	if claims.Purpose != PurposeSession {
		return uuid.Nil, ErrTokenPurpose
	}
	return uuid.Parse(claims.UserID)
}

// GenerateActivationToken signs a time-limited activation reference bound to
// the account id, its email and a stamp derived from its credentials.
func GenerateActivationToken(secret string, userID uuid.UUID, email, stamp string, now time.Time, ttl time.Duration) (string, error) {
	claims := &jwtCustomClaims{
		UserID:  userID.String(),
		Purpose: PurposeActivation,
		Email:   email,
		Stamp:   stamp,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseActivationToken verifies signature, expiry (against now) and purpose.
func ParseActivationToken(secret, tokenString string, now func() time.Time) (*ActivationClaims, error) {
	claims, err := parse(secret, tokenString, now)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeActivation {
		return nil, ErrTokenPurpose
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, err
	}

	out := &ActivationClaims{UserID: userID, Email: claims.Email, Stamp: claims.Stamp}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func parse(secret, tokenString string, now func() time.Time) (*jwtCustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwtCustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*jwtCustomClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrTokenInvalidClaims
}
