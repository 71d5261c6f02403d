package tokens

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantLen int
	}{
		{"128-bit token", Size128, 22},
		{"192-bit token", Size192, 32},
		{"256-bit token", Size256, 43},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := Generate(tt.size)
			require.NoError(t, err)
			require.Len(t, token, tt.wantLen)
			require.False(t, strings.ContainsAny(token, "+/="), "token must be URL safe")

			decoded, err := base64.RawURLEncoding.DecodeString(token)
			require.NoError(t, err)
			require.Len(t, decoded, tt.size)

			other, err := Generate(tt.size)
			require.NoError(t, err)
			require.NotEqual(t, token, other, "tokens should be unique")
		})
	}
}

func TestGenerateRejectsInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		token, err := Generate(size)
		require.Error(t, err)
		require.Empty(t, token)
	}
}
