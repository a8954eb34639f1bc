package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, the form in
// which keys are stored.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
