package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint returns a stable hex key for the given parts, used for cache
// keys over free text.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// ChunkID names the n-th chunk of a document.
func ChunkID(docID string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, n)
}
