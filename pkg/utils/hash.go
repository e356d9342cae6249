package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashNormalized hashes input after trimming and lowercasing, so cache keys
// survive insignificant formatting differences in user text.
func HashNormalized(input string) string {
	return HashString(strings.ToLower(strings.TrimSpace(input)))
}
