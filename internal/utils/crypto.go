// internal/utils/crypto.go
package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"math/big"
)

func GenerateRandomString(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)

	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}

	return string(b), nil
}

// GenerateTemporaryPassword satisfies the strong_password rule.
func GenerateTemporaryPassword() (string, error) {
	random, err := GenerateRandomString(12)
	if err != nil {
		return "", err
	}
	return random + "aA1!", nil
}

func HashString(input string) string {
	hasher := sha256.New()
	hasher.Write([]byte(input))
	return hex.EncodeToString(hasher.Sum(nil))
}

// SignHMACSHA512 returns the hex HMAC-SHA512 of body, the scheme Paystack signs webhooks with.
func SignHMACSHA512(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifyHMACSHA512(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignHMACSHA512(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
