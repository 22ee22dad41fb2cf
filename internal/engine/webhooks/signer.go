package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Sign computes the hex HMAC-SHA256 of payload under secret. Receivers
// recompute this over the raw request body to authenticate a delivery.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SignEnvelope marshals v to JSON and signs the bytes. json.Marshal emits
// map keys in sorted order, so signing is deterministic for map payloads.
func SignEnvelope(secret string, v interface{}) ([]byte, string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return payload, Sign(secret, payload), nil
}

// Verify recomputes the expected signature and compares with hmac.Equal,
// which is constant-time and handles length mismatches without leaking
// timing information.
func Verify(secret string, payload []byte, signature string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
