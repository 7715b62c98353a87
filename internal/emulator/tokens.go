package emulator

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidSessionToken = errors.New("emulator.invalid_session_token")

// sessionClaims are embedded in X-Apple-Session-Token.
type sessionClaims struct {
	AccountName string `json:"account_name"`
	Verified    bool   `json:"verified"`
	Generation  int    `json:"generation"`
	jwt.RegisteredClaims
}

func (server *Server) mintSessionToken(accountName string, verified bool, generation int) (string, error) {
	issuedAt := server.configuration.Clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		AccountName: accountName,
		Verified:    verified,
		Generation:  generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    server.configuration.Issuer,
			Subject:   accountName,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(server.configuration.TokenTTL)),
		},
	})
	return token.SignedString(server.configuration.SigningKey)
}

func (server *Server) parseSessionToken(tokenString string) (*sessionClaims, error) {
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return server.configuration.SigningKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return server.configuration.Clock.Now()
	}))
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return nil, errInvalidSessionToken
	}
	claims, ok := parsedToken.Claims.(*sessionClaims)
	if !ok || claims.Issuer != server.configuration.Issuer {
		return nil, errInvalidSessionToken
	}
	return claims, nil
}

func randomToken(size int) (string, error) {
	buffer := make([]byte, size)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
