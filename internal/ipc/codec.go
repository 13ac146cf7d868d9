package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Frames are length-prefixed: 4 bytes big-endian message type, 4 bytes
// big-endian body length, CBOR body. A read that ends mid-frame yields
// ErrPartialFrame instead of being misinterpreted as a shorter message.

const maxFrameSize = 16 << 20

var (
	ErrPartialFrame  = errors.New("ipc: connection closed mid-frame")
	ErrFrameTooLarge = errors.New("ipc: frame exceeds maximum size")
)

// encMode uses deterministic encoding so the same message always
// produces identical bytes regardless of map iteration order.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ipc: cbor encoder initialization failed: " + err.Error())
	}

	// Unknown fields are ignored so listener and worker binaries of
	// adjacent versions stay wire compatible.
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("ipc: cbor decoder initialization failed: " + err.Error())
	}
}

// Frame is one tagged message as read off the wire. The body stays
// encoded until the receiver knows the concrete type.
type Frame struct {
	Type MessageType
	Body []byte
}

func (f Frame) Decode(v any) error {
	if err := decMode.Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("decode %s frame: %w", f.Type, err)
	}

	return nil
}

func writeFrame(w io.Writer, t MessageType, v any) error {
	body, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", t, err)
	}

	if len(body) > maxFrameSize {
		return ErrFrameTooLarge
	}

	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(t))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	_, err = w.Write(body)
	return err
}

func readFrame(r io.Reader) (Frame, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrPartialFrame
		}

		return Frame{}, err
	}

	t := MessageType(binary.BigEndian.Uint32(header[0:4]))
	size := binary.BigEndian.Uint32(header[4:8])

	if size > maxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrPartialFrame
		}

		return Frame{}, err
	}

	return Frame{Type: t, Body: body}, nil
}
