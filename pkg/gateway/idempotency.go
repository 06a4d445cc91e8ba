package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const idempotencyKeyLen = 32

// IdempotencyKey derives a stable key from the provider, operation and the
// identifying parts of the request. The same inputs always give the same key,
// so retries and replays collapse at the provider.
func IdempotencyKey(provider, operation string, parts ...string) string {
	segments := make([]string, 0, len(parts)+2)
	segments = append(segments, provider, operation)
	segments = append(segments, parts...)
	sum := sha256.Sum256([]byte(strings.Join(segments, ":")))
	return hex.EncodeToString(sum[:])[:idempotencyKeyLen]
}
