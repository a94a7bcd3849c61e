package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrKeyMismatch       = errors.New("ciphertext was sealed with a different key")
)

// Vault seals and opens small secrets (Bluesky app passwords) with
// AES-256-GCM. Ciphertexts are self-describing: "v1:{keyID}:{base64 blob}"
// where the blob is nonce || sealed data, so a key rotation is detectable.
type Vault struct {
	keyID string
	aead  cipher.AEAD
}

// New builds a vault from a hex-encoded 32-byte key.
func New(keyID, hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode vault key: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("vault key must be 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Vault{keyID: keyID, aead: aead}, nil
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return "v1:" + v.keyID + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) Decrypt(ciphertext string) (string, error) {
	parts := strings.SplitN(ciphertext, ":", 3)
	if len(parts) != 3 || parts[0] != "v1" {
		return "", ErrInvalidCiphertext
	}
	if parts[1] != v.keyID {
		return "", ErrKeyMismatch
	}

	sealed, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(sealed) < v.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce, data := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}

	return string(plaintext), nil
}
