package invoices

import (
	"crypto/rand"
	"fmt"
	"time"
)

const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewNumber renders INV-YYYYmmddHHMMSS-XXXXXX.
func NewNumber(now time.Time) (string, error) {
	var raw [6]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generate invoice suffix: %w", err)
	}
	suffix := make([]byte, len(raw))
	for i, b := range raw {
		suffix[i] = numberAlphabet[int(b)%len(numberAlphabet)]
	}
	return fmt.Sprintf("INV-%s-%s", now.UTC().Format("20060102150405"), suffix), nil
}
