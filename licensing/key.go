package licensing

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const KeyPrefix = "ZEN"

var keyPattern = regexp.MustCompile(`(?i)^ZEN-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// GenerateKey returns a fresh license key: the product prefix followed by a
// random (version 4) UUID.
func GenerateKey() string {
	return KeyPrefix + "-" + uuid.NewString()
}

func IsValidKeyFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// CanonicalKey rewrites a well-formed key into the casing GenerateKey
// produces so that lookups stay exact-match. Malformed input is returned
// trimmed but otherwise untouched.
func CanonicalKey(key string) string {
	key = strings.TrimSpace(key)
	if !IsValidKeyFormat(key) {
		return key
	}
	return KeyPrefix + strings.ToLower(key[len(KeyPrefix):])
}
