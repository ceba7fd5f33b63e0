// Package adaptive provides authenticated record encryption for psastore.
//
// This package implements a cipher abstraction that selects an AEAD
// algorithm based on hardware capabilities, plus the key handling that
// turns operator secrets into per-service record keys.
//
// Supported Algorithms:
//
//   - AES-256-GCM: preferred when hardware AES support is available
//   - ChaCha20-Poly1305: fallback for systems without AES acceleration
//
// Key Handling:
//
//   - Passphrase keys are stretched with Argon2id using a salt persisted
//     next to the data it protects
//   - Each storage service receives its own HKDF subkey
//
// Usage:
//
//	master, err := adaptive.MasterKey(adaptive.KeyConfig{Passphrase: p}, saltPath)
//	c, err := adaptive.ForService(master, "ps", "")
//	sealed, err := c.Encrypt(plaintext, aad)
package adaptive
