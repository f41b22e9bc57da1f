package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/odvcencio/hx/pkg/object"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	frames := []*Frame{
		{Type: FrameWant, Payload: []byte("payload one")},
		{Type: FrameDone},
		{Type: FrameAck, Payload: []byte{0, 0, 0, 7}},
	}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame(%s): %v", f.Type, err)
		}
	}

	for _, want := range frames {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("frame mismatch: got %s %q, want %s %q", got.Type, got.Payload, want.Type, want.Payload)
		}
	}
}

func TestReadFrameChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, &Frame{Type: FrameWant, Payload: []byte("abcdef")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	data := buf.Bytes()
	data[len(data)-1] ^= 0xff // flip a payload bit

	_, err := ReadFrame(bytes.NewReader(data))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestReadFrameBadMagic(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, &Frame{Type: FrameDone}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	data := buf.Bytes()
	data[0] = 'Z'

	_, err := ReadFrame(bytes.NewReader(data))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestReadFrameVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, &Frame{Type: FrameDone}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	data := buf.Bytes()
	data[4] = ProtocolVersion + 1

	_, err := ReadFrame(bytes.NewReader(data))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestReadFrameUnknownType(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, &Frame{Type: FrameDone}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	data := buf.Bytes()
	data[5] = 99

	_, err := ReadFrame(bytes.NewReader(data))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestReadFrameTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, &Frame{Type: FrameWant, Payload: []byte("some payload")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	data := buf.Bytes()

	// Cut mid-payload.
	_, err := ReadFrame(bytes.NewReader(data[:len(data)-4]))
	if err == nil {
		t.Error("expected error for truncated payload")
	}

	// Clean EOF at a frame boundary surfaces as io.EOF.
	_, err = ReadFrame(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF on empty stream, got %v", err)
	}
}

func TestWriteFrameRejectsUnknownType(t *testing.T) {
	if err := WriteFrame(io.Discard, &Frame{Type: 42}); err == nil {
		t.Error("expected error for unknown frame type")
	}
}

func testHash(content string) object.Hash {
	return object.HashBytes([]byte(content))
}

func TestWantRoundTrip(t *testing.T) {
	f, err := EncodeWant(&WantPayload{Op: OpPush, Ref: "refs/heads/main"})
	if err != nil {
		t.Fatalf("EncodeWant: %v", err)
	}
	p, err := DecodeWant(f)
	if err != nil {
		t.Fatalf("DecodeWant: %v", err)
	}
	if p.Op != OpPush || p.Ref != "refs/heads/main" {
		t.Errorf("payload = %+v", p)
	}
}

func TestWantRejectsBadOp(t *testing.T) {
	if _, err := EncodeWant(&WantPayload{Op: 9, Ref: "r"}); err == nil {
		t.Error("expected encode error for bad op")
	}

	f, err := EncodeWant(&WantPayload{Op: OpPull, Ref: "r"})
	if err != nil {
		t.Fatal(err)
	}
	f.Payload[0] = 9
	if _, err := DecodeWant(f); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestHaveRoundTrip(t *testing.T) {
	p := &HavePayload{
		Tip:   testHash("tip"),
		Known: []object.Hash{testHash("a"), testHash("b")},
	}
	f, err := EncodeHave(p)
	if err != nil {
		t.Fatalf("EncodeHave: %v", err)
	}
	got, err := DecodeHave(f)
	if err != nil {
		t.Fatalf("DecodeHave: %v", err)
	}
	if got.Tip != p.Tip || len(got.Known) != 2 || got.Known[0] != p.Known[0] || got.Known[1] != p.Known[1] {
		t.Errorf("payload = %+v", got)
	}
}

func TestHaveEmptyTip(t *testing.T) {
	f, err := EncodeHave(&HavePayload{})
	if err != nil {
		t.Fatalf("EncodeHave: %v", err)
	}
	got, err := DecodeHave(f)
	if err != nil {
		t.Fatalf("DecodeHave: %v", err)
	}
	if got.Tip != "" || len(got.Known) != 0 {
		t.Errorf("payload = %+v", got)
	}
}

func TestObjectRoundTripCompresses(t *testing.T) {
	content := []byte(strings.Repeat("compressible content ", 200))
	p := &ObjectPayload{
		Type: object.TypeBlob,
		Hash: object.HashObject(object.TypeBlob, content),
		Data: content,
	}
	f, err := EncodeObject(p)
	if err != nil {
		t.Fatalf("EncodeObject: %v", err)
	}
	if len(f.Payload) >= len(content) {
		t.Errorf("payload %d bytes not compressed below content %d bytes", len(f.Payload), len(content))
	}

	got, err := DecodeObject(f)
	if err != nil {
		t.Fatalf("DecodeObject: %v", err)
	}
	if got.Type != p.Type || got.Hash != p.Hash || !bytes.Equal(got.Data, p.Data) {
		t.Error("object payload mismatch after roundtrip")
	}
}

func TestObjectRejectsBadKind(t *testing.T) {
	f, err := EncodeObject(&ObjectPayload{
		Type: object.TypeTree,
		Hash: testHash("t"),
		Data: []byte("x"),
	})
	if err != nil {
		t.Fatal(err)
	}
	f.Payload[0] = 9
	if _, err := DecodeObject(f); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestRefUpdateRoundTrip(t *testing.T) {
	p := &RefUpdatePayload{
		Ref:     "refs/heads/main",
		OldHash: "", // creation
		NewHash: testHash("new"),
		Force:   true,
	}
	f, err := EncodeRefUpdate(p)
	if err != nil {
		t.Fatalf("EncodeRefUpdate: %v", err)
	}
	got, err := DecodeRefUpdate(f)
	if err != nil {
		t.Fatalf("DecodeRefUpdate: %v", err)
	}
	if got.Ref != p.Ref || got.OldHash != "" || got.NewHash != p.NewHash || !got.Force {
		t.Errorf("payload = %+v", got)
	}
}

func TestAckRoundTrip(t *testing.T) {
	got, err := DecodeAck(EncodeAck(&AckPayload{Received: 41}))
	if err != nil {
		t.Fatalf("DecodeAck: %v", err)
	}
	if got.Received != 41 {
		t.Errorf("Received = %d", got.Received)
	}
}

func TestErrorRoundTrip(t *testing.T) {
	got, err := DecodeError(EncodeError(&ErrorPayload{Code: CodeNonFastForward, Message: "not a fast-forward"}))
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if got.Code != CodeNonFastForward || got.Message != "not a fast-forward" {
		t.Errorf("payload = %+v", got)
	}
}

func TestDecodeWrongFrameType(t *testing.T) {
	f := EncodeDone()
	if _, err := DecodeWant(f); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("DecodeWant of DONE: %v", err)
	}
	if _, err := DecodeAck(f); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("DecodeAck of DONE: %v", err)
	}
}
