// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth validates bearer tokens issued by the identity provider and
// extracts the acting identity and pushing client from them.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a JWT authenticator with an HS256 shared secret.
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret)}
}

// JWTClaims carries the actor identity plus the pushing client id.
type JWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	ClientID string `json:"cid"` // Pushing client installation id
	jwt.RegisteredClaims
}

// GenerateToken issues a token for one actor on one client installation.
func (j *JWTAuth) GenerateToken(actor Actor, clientID string, expiration time.Duration) (string, error) {
	claims := &JWTClaims{
		Username: actor.Username,
		Role:     actor.Role,
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "matsync",
			Subject:   actor.ID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken parses and validates a token string.
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (user id) in token")
		}
		if claims.ClientID == "" {
			return nil, fmt.Errorf("missing cid (client id) in token")
		}
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

func (j *JWTAuth) bearerClaims(r *http.Request) (*JWTClaims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("authorization header required")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return nil, fmt.Errorf("bearer token required")
	}
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// GetActor extracts the acting identity from the request (implements
// ClientAuthenticator).
func (j *JWTAuth) GetActor(r *http.Request) (Actor, error) {
	claims, err := j.bearerClaims(r)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: claims.Subject, Username: claims.Username, Role: claims.Role}, nil
}

// GetClientID extracts the pushing client id from the request (implements
// ClientAuthenticator).
func (j *JWTAuth) GetClientID(r *http.Request) (string, error) {
	claims, err := j.bearerClaims(r)
	if err != nil {
		return "", err
	}
	return claims.ClientID, nil
}
