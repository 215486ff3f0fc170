package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"maxrelay/internal/constants"
	"maxrelay/internal/models"
)

// EncryptionSecretEnv names the variable holding the at-rest passphrase.
const EncryptionSecretEnv = "MAXRELAY_ENCRYPTION_SECRET"

const envelopeVersion = 1

// EncryptedDocument seals another Document with AES-256-GCM. The stored
// form is a small JSON envelope so a plain-text document left over from
// before encryption was enabled is detected as corrupt rather than
// silently misread.
//
// The logical document name (constants.DocumentWatermarks, ...) is bound as
// additional data. It does not depend on the file path or backend, so a
// sealed document survives a moved data directory and can be copied
// between backends as is.
type EncryptedDocument struct {
	inner   Document
	logical string
	gcm     cipher.AEAD
}

// NewEncryptedDocument derives the key from MAXRELAY_ENCRYPTION_SECRET.
func NewEncryptedDocument(inner Document, logical string) (*EncryptedDocument, error) {
	secret := os.Getenv(EncryptionSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", EncryptionSecretEnv)
	}
	return NewEncryptedDocumentWithSecret(inner, logical, secret)
}

func NewEncryptedDocumentWithSecret(inner Document, logical, secret string) (*EncryptedDocument, error) {
	if logical == "" {
		return nil, fmt.Errorf("encrypted document needs a logical name")
	}
	if len(secret) < constants.MinEncryptionSecretLen {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", constants.MinEncryptionSecretLen)
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), models.Iterations, models.KeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &EncryptedDocument{inner: inner, logical: logical, gcm: gcm}, nil
}

func (e *EncryptedDocument) Name() string {
	return e.inner.Name() + " (encrypted)"
}

func (e *EncryptedDocument) Load() ([]byte, error) {
	raw, err := e.inner.Load()
	if err != nil {
		return nil, err
	}

	var env models.EncryptedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	data, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < models.NonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:models.NonceSize], data[models.NonceSize:]
	plain, err := e.gcm.Open(nil, nonce, sealed, []byte(e.logical))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plain, nil
}

func (e *EncryptedDocument) Save(data []byte) error {
	nonce := make([]byte, models.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nonce, nonce, data, []byte(e.logical))
	raw, err := json.Marshal(models.EncryptedEnvelope{
		Version:    envelopeVersion,
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return e.inner.Save(raw)
}
