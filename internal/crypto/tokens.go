package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/and161185/livesync/internal/model"
)

const (
	accessTokenLen  = 32
	refreshTokenLen = 384
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewAccessToken returns a random URL-safe access token.
func NewAccessToken() (model.AccessToken, error) {
	b, err := RandBytes(accessTokenLen)
	if err != nil {
		return "", err
	}
	return model.AccessToken(base64.RawURLEncoding.EncodeToString(b)), nil
}

// NewAuthPair generates a fresh access/refresh token pair.
func NewAuthPair() (model.AuthPair, error) {
	access, err := NewAccessToken()
	if err != nil {
		return model.AuthPair{}, err
	}
	refresh, err := RandBytes(refreshTokenLen)
	if err != nil {
		return model.AuthPair{}, err
	}
	return model.AuthPair{Access: access, Refresh: refresh}, nil
}
