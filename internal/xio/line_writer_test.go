package xio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineWriter(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected []byte
	}{
		{
			name:     "single line with newline",
			data:     []byte("hello world\n"),
			expected: []byte("hello world\n"),
		},
		{
			name:     "single line without newline is buffered",
			data:     []byte("hello world"),
			expected: nil,
		},
		{
			name:     "multiple lines keep trailing fragment buffered",
			data:     []byte("line1\nline2\nline3"),
			expected: []byte("line1\nline2\n"),
		},
		{
			name:     "empty write",
			data:     []byte{},
			expected: nil,
		},
		{
			name:     "only newlines",
			data:     []byte("\n\n\n"),
			expected: []byte("\n\n\n"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			lineWriter := NewLineWriter(&buf)

			n, err := lineWriter.Write(tt.data)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), n)

			if tt.expected == nil {
				assert.Empty(t, buf.Bytes())
			} else {
				assert.Equal(t, tt.expected, buf.Bytes())
			}
		})
	}
}

func TestLineWriterFlush(t *testing.T) {
	var buf bytes.Buffer
	lineWriter := NewLineWriter(&buf)

	_, err := lineWriter.Write([]byte("buffered data"))
	require.NoError(t, err)
	assert.Empty(t, buf.Bytes())

	require.NoError(t, lineWriter.Flush())
	assert.Equal(t, []byte("buffered data"), buf.Bytes())

	// Flushing an empty buffer must not write anything.
	buf.Reset()
	require.NoError(t, lineWriter.Flush())
	assert.Empty(t, buf.Bytes())
}

func TestLineWriterOversizedLine(t *testing.T) {
	var buf bytes.Buffer
	lineWriter := &LineWriter{w: &buf, maxLine: 16}

	data := strings.Repeat("x", 32)
	n, err := lineWriter.Write([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, []byte(data), buf.Bytes())
}
