// internal/helper/password.go
package helper

import (
	"golang.org/x/crypto/bcrypt"
)

// HashAPIKey generates the bcrypt hash stored in API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// VerifyAPIKey returns nil when key matches the bcrypt hash.
func VerifyAPIKey(hashedKey, key string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedKey), []byte(key))
}
