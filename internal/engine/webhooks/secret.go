package webhooks

import (
	"crypto/rand"
	"math/big"
)

const (
	// SecretLength is the fixed length of generated subscription secrets.
	SecretLength = 32

	// MinSecretLength is enforced on caller-supplied secrets.
	MinSecretLength = 16

	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()-_=+"
)

// GenerateSecret returns a new high-entropy subscription secret drawn from a
// mixed upper/lower/digit/punctuation alphabet.
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretLength)
	max := big.NewInt(int64(len(secretAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = secretAlphabet[n.Int64()]
	}
	return string(buf), nil
}
