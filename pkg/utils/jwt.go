package utils

import (
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/craftline/postpilot/internal/transfer"
)

// GenerateStateToken signs the OAuth state for a connect redirect.
func GenerateStateToken(secretKey string, tenantID int64, platform string, ttl time.Duration) (string, error) {
	claims := transfer.StateClaims{
		TenantID: tenantID,
		Platform: platform,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "postpilot",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(secretKey))
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	return signedToken, nil
}

// ValidateStateToken verifies a state token returned by a provider callback.
func ValidateStateToken(secretKey, tokenString string) (*transfer.StateClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &transfer.StateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid token signing method")
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	if claims, ok := token.Claims.(*transfer.StateClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid state token")
}
