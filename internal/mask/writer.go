package mask

import (
	"bytes"
	"io"
)

type maskedWriter struct {
	w     io.Writer
	store *SecretStore
}

// Write replaces every registered secret with the placeholder. It is
// meant to sit behind a line buffer so secrets cannot straddle two
// writes.
func (w *maskedWriter) Write(b []byte) (int, error) {
	n := len(b)

	w.store.mu.RLock()
	for _, secret := range w.store.secrets {
		b = bytes.ReplaceAll(b, secret, []byte(placeholder))
	}
	w.store.mu.RUnlock()

	if _, err := w.w.Write(b); err != nil {
		return 0, err
	}

	return n, nil
}
