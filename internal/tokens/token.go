package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Token sizes in bytes before encoding.
const (
	// Size128 provides 128 bits of entropy (22 base64url characters).
	Size128 = 16
	// Size192 provides 192 bits of entropy (32 base64url characters).
	Size192 = 24
	// Size256 provides 256 bits of entropy (43 base64url characters).
	Size256 = 32
)

// Generate returns a cryptographically random token of size bytes encoded as
// unpadded base64url, which is safe to embed in URL paths.
func Generate(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
