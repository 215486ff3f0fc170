package models

// Parameters for encrypting persisted documents at rest
const (
	KeySize    = 32     // AES-256
	NonceSize  = 12     // GCM standard nonce size
	Iterations = 100000 // PBKDF2 iterations
)

// EncryptedEnvelope is the on-disk shape of an encrypted document
type EncryptedEnvelope struct {
	Version    int    `json:"v"`
	Ciphertext string `json:"ct"` // base64(nonce || sealed)
}
