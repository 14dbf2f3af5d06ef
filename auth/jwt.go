package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims the memory service cares about. The subject
// identifies the caller; owner scoping in requests is checked against it
// by the handlers when auth is enabled.
type Claims struct {
	Sub   string `json:"sub"`
	Iss   string `json:"iss"`
	Exp   int64  `json:"exp"`
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// JWTValidator validates HMAC-signed bearer tokens.
type JWTValidator struct {
	secret         []byte
	allowedIssuers []string
}

// NewJWTValidator creates a new JWT validator.
func NewJWTValidator(secret string, allowedIssuers []string) *JWTValidator {
	return &JWTValidator{
		secret:         []byte(secret),
		allowedIssuers: allowedIssuers,
	}
}

// ValidateToken validates a token string and returns its claims.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	if claims.Exp > 0 && time.Now().Unix() > claims.Exp {
		return nil, errors.New("token has expired")
	}

	if len(v.allowedIssuers) > 0 {
		valid := false
		for _, iss := range v.allowedIssuers {
			if claims.Iss == iss {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("invalid issuer: %s", claims.Iss)
		}
	}

	return claims, nil
}
