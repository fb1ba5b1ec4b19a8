// Package auth выпускает и проверяет JWT-токены устройств.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired срок действия токена истёк; клиент обновляет токен и повторяет запрос
var ErrTokenExpired = errors.New("token expired")

// DeviceClaims представляет JWT claims устройства
type DeviceClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Config содержит конфигурацию для JWT
type Config struct {
	Secret   []byte
	TokenTTL time.Duration
}

// GenerateToken создает новый JWT token для устройства
func GenerateToken(cfg Config, clientID string) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(cfg.TokenTTL)

	claims := DeviceClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "fieldsync",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, int64(cfg.TokenTTL.Seconds()), nil
}

// ValidateToken валидирует и парсит JWT token устройства
func ValidateToken(cfg Config, tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*DeviceClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}
