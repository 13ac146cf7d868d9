package xio

import (
	"bytes"
	"io"
)

const defaultMaxLineLength = 64 * 1024

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{
		w:       w,
		maxLine: defaultMaxLineLength,
	}
}

// LineWriter buffers writes and forwards complete lines to the
// underlying writer. Oversized lines are flushed early so a step
// emitting binary output cannot grow the buffer without bound.
type LineWriter struct {
	w       io.Writer
	buf     bytes.Buffer
	maxLine int
}

func (w *LineWriter) Write(p []byte) (int, error) {
	total := 0
	for {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buf.Write(p)
			total += len(p)

			if w.buf.Len() >= w.maxLine {
				if err := w.Flush(); err != nil {
					return total, err
				}
			}

			return total, nil
		}

		w.buf.Write(p[:i+1])
		_, err := w.w.Write(w.buf.Bytes())
		if err != nil {
			return total, err
		}

		total += i + 1
		w.buf.Reset()
		p = p[i+1:]
	}
}

// Flush forwards a trailing unterminated line.
func (w *LineWriter) Flush() error {
	if w.buf.Len() == 0 {
		return nil
	}

	_, err := w.w.Write(w.buf.Bytes())
	if err != nil {
		return err
	}

	w.buf.Reset()
	return nil
}
