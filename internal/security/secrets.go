package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the recommended minimum length for the webhook secret
	MinSecretLength = 32

	// MinEntropy is the minimum Shannon entropy for a secret to be considered strong
	MinEntropy = 3.5

	// generatedSecretBytes encodes to 64 hex characters
	generatedSecretBytes = 32
)

var placeholderSecrets = map[string]bool{
	"replace-with-secret": true,
	"webhook-secret":      true,
	"testsecret":          true,
	"topsecret":           true,
	"secret":              true,
	"password":            true,
	"changeme":            true,
}

// ValidateSecret reports why a webhook secret is weak, or nil if it looks strong.
// Weak secrets still work; callers decide whether to warn or refuse.
func ValidateSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("secret is empty")
	}

	if len(secret) < MinSecretLength {
		return fmt.Errorf("secret too short (recommended minimum %d characters, got %d)", MinSecretLength, len(secret))
	}

	secretLower := strings.ToLower(secret)
	if placeholderSecrets[secretLower] ||
		strings.Contains(secretLower, "replace") ||
		strings.Contains(secretLower, "changeme") ||
		strings.Contains(secretLower, "password") {
		return fmt.Errorf("secret appears to be a placeholder value")
	}

	if entropy := calculateEntropy(secret); entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f)", entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret creates a random secret suitable for signing webhooks
func GenerateSecret() (string, error) {
	buf := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// calculateEntropy computes the Shannon entropy of a string in bits per character.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	total := 0
	for _, c := range s {
		freq[c]++
		total++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	for _, count := range freq {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}

	return entropy
}
