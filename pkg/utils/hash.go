package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// EmbeddingKey identifies the embedding of text under a given model.
func EmbeddingKey(model, text string) string {
	return strings.ToLower(model) + ":" + HashString(text)
}
