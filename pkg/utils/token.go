package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity carried by an access token.
type Claims struct {
	UserID uint64
	Email  string
}

// GenerateToken signs an HS256 token holding the user id and email.
func GenerateToken(secret string, ttl time.Duration, userID uint64, email string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"email":   email,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken verifies signature and expiry and extracts the identity.
func ValidateToken(secret, encodedToken string) (*Claims, error) {
	token, err := jwt.Parse(encodedToken, func(token *jwt.Token) (interface{}, error) {
		// only HMAC is accepted, otherwise "alg: none" style tokens would pass
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}

	// JSON numbers come back as float64
	id, ok := mc["user_id"].(float64)
	if !ok || id <= 0 {
		return nil, errors.New("token has no user_id")
	}
	email, _ := mc["email"].(string)

	return &Claims{UserID: uint64(id), Email: email}, nil
}
