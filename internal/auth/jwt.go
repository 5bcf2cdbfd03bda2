package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour

	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	secretMu sync.RWMutex
	secret   []byte
)

// Init sets the HMAC secret used to sign and verify tokens.
func Init(jwtSecret string) {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = []byte(jwtSecret)
}

func signingKey() []byte {
	secretMu.RLock()
	defer secretMu.RUnlock()
	return secret
}

func GenerateAccessToken(userID, tokenVersion uint64) (string, error) {
	return generate(userID, tokenVersion, typeAccess, AccessTokenTTL)
}

func GenerateRefreshToken(userID, tokenVersion uint64) (string, error) {
	return generate(userID, tokenVersion, typeRefresh, RefreshTokenTTL)
}

func generate(userID, tokenVersion uint64, tokenType string, ttl time.Duration) (string, error) {
	key := signingKey()
	if len(key) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	claims := jwt.MapClaims{
		"user_id":       userID,
		"token_version": tokenVersion,
		"type":          tokenType,
		"exp":           time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

func VerifyJWT(tokenString string) (*jwt.Token, error) {
	jwtToken, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return signingKey(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if !jwtToken.Valid {
		return nil, errors.New("token invalid")
	}

	return jwtToken, nil
}

// GetDataFromToken extracts the user id and token version of an access token.
func GetDataFromToken(token *jwt.Token) (uint64, uint64, error) {
	return claimsOf(token, typeAccess)
}

// GetDataFromRefreshToken is GetDataFromToken for refresh tokens.
func GetDataFromRefreshToken(token *jwt.Token) (uint64, uint64, error) {
	return claimsOf(token, typeRefresh)
}

func claimsOf(token *jwt.Token, wantType string) (uint64, uint64, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, 0, errors.New("unexpected claims type")
	}
	if t, _ := claims["type"].(string); t != wantType {
		return 0, 0, fmt.Errorf("expected %s token", wantType)
	}
	// MapClaims decodes numbers as float64.
	userID, ok := claims["user_id"].(float64)
	if !ok || userID <= 0 {
		return 0, 0, errors.New("user_id claim missing")
	}
	version, ok := claims["token_version"].(float64)
	if !ok {
		return 0, 0, errors.New("token_version claim missing")
	}
	return uint64(userID), uint64(version), nil
}
