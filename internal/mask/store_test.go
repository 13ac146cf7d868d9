package mask

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretStoreWriter(t *testing.T) {
	tests := []struct {
		name     string
		secrets  []string
		input    string
		expected string
	}{
		{
			name:     "no secrets registered",
			input:    "plain output",
			expected: "plain output",
		},
		{
			name:     "single secret",
			secrets:  []string{"hunter2"},
			input:    "password is hunter2\n",
			expected: "password is ***\n",
		},
		{
			name:     "multiple occurrences and secrets",
			secrets:  []string{"tok-abc", "tok-def"},
			input:    "tok-abc tok-def tok-abc",
			expected: "*** *** ***",
		},
		{
			name:     "empty secret is ignored",
			secrets:  []string{""},
			input:    "nothing to hide",
			expected: "nothing to hide",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewSecretStore()
			store.AddSecrets(tt.secrets...)

			var buf bytes.Buffer
			n, err := store.Writer(&buf).Write([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, len(tt.input), n)
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}
