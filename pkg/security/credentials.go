// Package security seals provider credentials before they are persisted.
package security

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ErrUnsealFailed signals a ciphertext that does not authenticate under the key.
var ErrUnsealFailed = errors.New("credentials could not be unsealed")

// Sealer encrypts credential maps with NaCl secretbox. The nonce is prepended
// to the sealed box.
type Sealer struct {
	key [32]byte
}

// NewSealer builds a sealer from a 32 byte key.
func NewSealer(key [32]byte) *Sealer {
	return &Sealer{key: key}
}

// Seal marshals and encrypts the credential map.
func (s *Sealer) Seal(credentials map[string]string) ([]byte, error) {
	if credentials == nil {
		credentials = map[string]string{}
	}
	plain, err := json.Marshal(credentials)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

// Open decrypts a sealed credential map. Empty input yields an empty map.
func (s *Sealer) Open(sealed []byte) (map[string]string, error) {
	out := map[string]string{}
	if len(sealed) == 0 {
		return out, nil
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrUnsealFailed
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnsealFailed
	}
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return out, nil
}
