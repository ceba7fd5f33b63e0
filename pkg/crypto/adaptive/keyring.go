package adaptive

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Key handling errors.
var (
	ErrKeyTooShort       = errors.New("adaptive: key too short (minimum 16 bytes)")
	ErrPassphraseTooWeak = errors.New("adaptive: passphrase too weak (minimum 8 characters)")
	ErrBadSalt           = errors.New("adaptive: salt file has wrong length")
)

const (
	// MinKeyLength is the minimum raw key length.
	MinKeyLength = 16

	// MinPassphraseLength is the minimum passphrase length.
	MinPassphraseLength = 8

	// SaltLength is the salt length used in passphrase stretching.
	SaltLength = 16

	// SubkeyLength is the length of per-service record keys.
	SubkeyLength = 32

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// KeyConfig describes where the master key comes from.
// Passphrase takes precedence over Key. An empty config disables encryption.
type KeyConfig struct {
	// Key is a hex encoded raw master key.
	Key string

	// Passphrase is stretched with Argon2id.
	Passphrase []byte
}

// Enabled reports whether a secret is configured.
func (c KeyConfig) Enabled() bool {
	return len(c.Passphrase) > 0 || c.Key != ""
}

// Validate checks the secret strength.
func (c KeyConfig) Validate() error {
	if len(c.Passphrase) > 0 {
		if len(c.Passphrase) < MinPassphraseLength {
			return ErrPassphraseTooWeak
		}
		return nil
	}
	if c.Key != "" {
		raw, err := hex.DecodeString(c.Key)
		if err != nil {
			return fmt.Errorf("adaptive: key is not hex: %w", err)
		}
		defer ZeroKey(raw)
		if len(raw) < MinKeyLength {
			return ErrKeyTooShort
		}
	}
	return nil
}

// MasterKey resolves the master key for cfg. Passphrase derivation reads the
// salt from saltPath, creating it on first use. It returns nil when no
// secret is configured.
func MasterKey(cfg KeyConfig, saltPath string) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Passphrase) > 0 {
		salt, err := LoadOrCreateSalt(saltPath)
		if err != nil {
			return nil, err
		}
		return DeriveKeyFromPassphrase(cfg.Passphrase, salt), nil
	}
	if cfg.Key != "" {
		return hex.DecodeString(cfg.Key)
	}
	return nil, nil
}

// LoadOrCreateSalt returns the salt stored at path, generating and
// persisting a new random salt if the file does not exist.
func LoadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != SaltLength {
			return nil, ErrBadSalt
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("adaptive: read salt: %w", err)
	}

	salt = make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("adaptive: generate salt: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("adaptive: create salt dir: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("adaptive: write salt: %w", err)
	}
	return salt, nil
}

// DeriveKeyFromPassphrase stretches passphrase with Argon2id.
func DeriveKeyFromPassphrase(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// DeriveSubkey derives a purpose-bound subkey from a master key using HKDF.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("adaptive: derive subkey: %w", err)
	}
	return key, nil
}

// ForService builds the record cipher of one storage service. A nil master
// key yields a nil cipher, meaning records are stored unencrypted.
// An empty algorithm selects by hardware.
func ForService(masterKey []byte, service string, algorithm CipherType) (Cipher, error) {
	if masterKey == nil {
		return nil, nil
	}
	sub, err := DeriveSubkey(masterKey, "psastore-"+service, SubkeyLength)
	if err != nil {
		return nil, err
	}
	defer ZeroKey(sub)

	if algorithm == "" {
		return New(sub)
	}
	return NewWithType(sub, algorithm)
}

// GenerateKey returns a random hex encoded master key.
func GenerateKey(length int) (string, error) {
	if length < MinKeyLength {
		return "", ErrKeyTooShort
	}
	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("adaptive: generate key: %w", err)
	}
	defer ZeroKey(key)
	return hex.EncodeToString(key), nil
}

// ZeroKey overwrites key material in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
