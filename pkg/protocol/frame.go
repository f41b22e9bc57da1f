// Package protocol implements the binary sync wire format: fixed-header
// frames with checksummed payloads, exchanged over a byte stream.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	frameHeaderSize  = 14
	ProtocolVersion  = 1
	maxPayloadLength = 64 << 20 // hard cap per frame
)

var frameMagic = [4]byte{'H', 'X', 'S', 'P'}

// crcTable is the Castagnoli polynomial, hardware-accelerated on most
// platforms.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ErrMalformedFrame reports a frame that failed structural validation:
// bad magic, unknown type, oversized payload, or checksum mismatch.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrUnsupportedVersion reports a frame with a protocol version this
// implementation does not speak. Detected before payload decode so the
// peer can fail the session cleanly.
var ErrUnsupportedVersion = errors.New("unsupported protocol version")

// FrameType discriminates the frame payload.
type FrameType uint8

const (
	FrameObject    FrameType = 1 // one object: kind, id, compressed bytes
	FrameHave      FrameType = 2 // ids the sender already has
	FrameWant      FrameType = 3 // session opener: operation + ref name
	FrameRefUpdate FrameType = 4 // ref publish request: old, new, force
	FrameAck       FrameType = 5 // receiver progress acknowledgment
	FrameError     FrameType = 6 // abort with stage attribution
	FrameDone      FrameType = 7 // clean end of session
)

func (t FrameType) String() string {
	switch t {
	case FrameObject:
		return "OBJECT"
	case FrameHave:
		return "HAVE"
	case FrameWant:
		return "WANT"
	case FrameRefUpdate:
		return "REF_UPDATE"
	case FrameAck:
		return "ACK"
	case FrameError:
		return "ERROR"
	case FrameDone:
		return "DONE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

func validFrameType(t FrameType) bool {
	switch t {
	case FrameObject, FrameHave, FrameWant, FrameRefUpdate, FrameAck, FrameError, FrameDone:
		return true
	}
	return false
}

// Frame is one protocol message.
//
// Wire layout:
//   - 0..3:   "HXSP"
//   - 4:      protocol version
//   - 5:      frame type
//   - 6..9:   payload length (big-endian)
//   - 10..13: payload CRC-32C (big-endian)
//   - 14..:   payload
type Frame struct {
	Type    FrameType
	Payload []byte
}

// WriteFrame serializes a frame to w.
func WriteFrame(w io.Writer, f *Frame) error {
	if !validFrameType(f.Type) {
		return fmt.Errorf("write frame: unknown type %d", f.Type)
	}
	if len(f.Payload) > maxPayloadLength {
		return fmt.Errorf("write frame: payload %d bytes exceeds limit", len(f.Payload))
	}

	hdr := make([]byte, frameHeaderSize)
	copy(hdr[:4], frameMagic[:])
	hdr[4] = ProtocolVersion
	hdr[5] = byte(f.Type)
	binary.BigEndian.PutUint32(hdr[6:10], uint32(len(f.Payload)))
	binary.BigEndian.PutUint32(hdr[10:14], crc32.Checksum(f.Payload, crcTable))

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads and validates one frame from r. The version check runs
// before any payload processing; checksum and structural failures return
// ErrMalformedFrame.
func ReadFrame(r io.Reader) (*Frame, error) {
	hdr := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	if [4]byte(hdr[:4]) != frameMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformedFrame, hdr[:4])
	}
	if hdr[4] != ProtocolVersion {
		return nil, fmt.Errorf("%w: version %d, expected %d", ErrUnsupportedVersion, hdr[4], ProtocolVersion)
	}
	ft := FrameType(hdr[5])
	if !validFrameType(ft) {
		return nil, fmt.Errorf("%w: unknown frame type %d", ErrMalformedFrame, hdr[5])
	}

	payloadLen := binary.BigEndian.Uint32(hdr[6:10])
	if payloadLen > maxPayloadLength {
		return nil, fmt.Errorf("%w: payload length %d exceeds limit", ErrMalformedFrame, payloadLen)
	}
	wantCRC := binary.BigEndian.Uint32(hdr[10:14])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	if crc32.Checksum(payload, crcTable) != wantCRC {
		return nil, fmt.Errorf("%w: payload checksum mismatch", ErrMalformedFrame)
	}

	return &Frame{Type: ft, Payload: payload}, nil
}
