package utils

import (
	"fmt"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	Scope  string    `json:"scope"`
	jwt.RegisteredClaims
}

func GenerateToken(userID uuid.UUID, scope, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		UserID: userID,
		Scope:  scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ValidateAndParseToken(token, secret string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, hmacKey(secret), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.NewAppError(errors.ErrTokenExpired, "token expired", err)
		}
		return nil, errors.NewAppError(errors.ErrInvalidTokenFormat, "invalid token", err)
	}
	if !parsed.Valid || claims.Scope != constants.ScopeTokenAccess {
		return nil, errors.NewAppError(errors.ErrUnauthorized, "invalid token scope", nil)
	}
	return claims, nil
}

// OAuthState is carried through the provider consent round trip.
type OAuthState struct {
	UserID       uuid.UUID `json:"uid"`
	ConnectionID uuid.UUID `json:"cid"`
	Provider     string    `json:"prv"`
	jwt.RegisteredClaims
}

func SignOAuthState(state OAuthState, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	state.IssuedAt = jwt.NewNumericDate(now)
	state.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	state.ID = uuid.NewString()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, state).SignedString([]byte(secret))
}

func ParseOAuthState(raw, secret string) (*OAuthState, error) {
	state := &OAuthState{}
	if _, err := jwt.ParseWithClaims(raw, state, hmacKey(secret), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})); err != nil {
		return nil, errors.NewAppError(errors.ErrUnauthorized, "invalid or expired state", err)
	}
	if state.ConnectionID == uuid.Nil || state.UserID == uuid.Nil {
		return nil, errors.NewAppError(errors.ErrUnauthorized, "incomplete state", nil)
	}
	return state, nil
}

func hmacKey(secret string) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}
}
