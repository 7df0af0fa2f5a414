package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the identity the triage handlers scope every operation by.
type Claims struct {
	Username       string `json:"username"`
	OrganizationID string `json:"organizationId"`
	jwt.RegisteredClaims
}

// generateJWT issues a signed token for the given identity. Each token gets
// a random JTI so it can be individually revoked.
func (a *API) generateJWT(username, organizationID string) (string, error) {
	jtiBytes := make([]byte, 32)
	if _, err := rand.Read(jtiBytes); err != nil {
		return "", fmt.Errorf("failed to generate token ID: %w", err)
	}

	now := time.Now()
	claims := Claims{
		Username:       username,
		OrganizationID: organizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(jtiBytes),
			Issuer:    "aegis",
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.Auth.JWTExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.config.Auth.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// validateJWT parses and verifies a token, returning its claims.
func (a *API) validateJWT(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.config.Auth.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Username == "" || claims.OrganizationID == "" {
		return nil, fmt.Errorf("token missing identity claims")
	}
	if a.isTokenRevoked(claims.ID) {
		return nil, fmt.Errorf("token has been revoked")
	}
	return claims, nil
}

// revokeToken blacklists a token by JTI until its natural expiry.
func (a *API) revokeToken(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	a.revokedTokens.Store(jti, expiresAt)
}

func (a *API) isTokenRevoked(jti string) bool {
	_, revoked := a.revokedTokens.Load(jti)
	return revoked
}

// cleanupRevokedTokens drops blacklist entries whose tokens have expired
// anyway. Called from the API maintenance loop.
func (a *API) cleanupRevokedTokens() {
	now := time.Now()
	a.revokedTokens.Range(func(key, value interface{}) bool {
		if expiresAt, ok := value.(time.Time); ok && now.After(expiresAt) {
			a.revokedTokens.Delete(key)
		}
		return true
	})
}
