// Package keys manages symmetric encryption keys for video assets.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// KeySize is the AES-128 key and IV length in bytes.
const KeySize = 16

// Key-info file names written into the scratch workspace.
const (
	KeyFileName     = "enc.key"
	KeyInfoFileName = "enc.keyinfo"
)

// GenerateKey produces a cryptographically random AES-128 key and a
// matching random IV. The caller must persist both; no I/O happens
// here. Random-source exhaustion propagates as an error.
func GenerateKey() (key, iv []byte, err error) {
	key = make([]byte, KeySize)
	if _, err = rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("failed to read random key: %w", err)
	}

	iv = make([]byte, KeySize)
	if _, err = rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("failed to read random iv: %w", err)
	}

	return key, iv, nil
}

// NewKeyID returns a fresh key identifier.
func NewKeyID() string {
	return uuid.New().String()
}

// KeyInfo describes the material handed to the external encoder.
type KeyInfo struct {
	KeyPath     string
	KeyInfoPath string
}

// WriteKeyInfo materializes the raw key bytes and the key-info
// descriptor in dir. The descriptor is positional, consumed by the
// encoder line by line:
//
//	line 1: key URI baked into the output manifest
//	line 2: local key file path
//	line 3: hex-encoded IV
func WriteKeyInfo(dir, keyURI string, key, iv []byte) (*KeyInfo, error) {
	keyPath := filepath.Join(dir, KeyFileName)
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}

	keyInfoPath := filepath.Join(dir, KeyInfoFileName)
	descriptor := fmt.Sprintf("%s\n%s\n%s\n", keyURI, keyPath, hex.EncodeToString(iv))
	if err := os.WriteFile(keyInfoPath, []byte(descriptor), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key info file: %w", err)
	}

	return &KeyInfo{
		KeyPath:     keyPath,
		KeyInfoPath: keyInfoPath,
	}, nil
}
