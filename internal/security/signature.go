package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body
const SignatureHeader = "X-Signature"

// Sign returns the lowercase hex HMAC-SHA256 of payload under secret
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies a hex HMAC-SHA256 signature over the exact payload bytes.
// Hex case is ignored. Missing, malformed and mismatched signatures are all
// reported as invalid without further detail.
func VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}

	expectedMAC := Sign(payload, secret)
	receivedMAC := strings.ToLower(strings.TrimSpace(signature))

	// Constant-time comparison to prevent timing attacks
	return hmac.Equal([]byte(expectedMAC), []byte(receivedMAC))
}
