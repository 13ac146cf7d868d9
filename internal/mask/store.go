// Package mask redacts registered secret values from log streams
// before they leave the process.
package mask

import (
	"io"
	"sync"
)

const placeholder = "***"

func NewSecretStore() *SecretStore {
	return &SecretStore{}
}

type SecretStore struct {
	mu      sync.RWMutex
	secrets [][]byte
}

// AddSecrets registers values to redact. Empty values are ignored,
// replacing the empty string would corrupt the stream.
func (s *SecretStore) AddSecrets(secrets ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, secret := range secrets {
		if secret == "" {
			continue
		}

		s.secrets = append(s.secrets, []byte(secret))
	}
}

func (s *SecretStore) Writer(w io.Writer) io.Writer {
	return &maskedWriter{
		w:     w,
		store: s,
	}
}
