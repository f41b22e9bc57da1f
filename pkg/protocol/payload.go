package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/odvcencio/hx/pkg/object"
)

// SyncOp selects the session operation in the WANT opener.
type SyncOp uint8

const (
	OpPush SyncOp = 1
	OpPull SyncOp = 2
)

// ErrorCode classifies an ERROR frame so the peer can attribute the
// failure without parsing the message.
type ErrorCode uint8

const (
	CodeProtocol       ErrorCode = 1 // malformed or unexpected frame
	CodeStorage        ErrorCode = 2 // object verification or persistence failed
	CodeConflict       ErrorCode = 3 // ref CAS lost a race
	CodeNonFastForward ErrorCode = 4 // update would discard commits
	CodeUnknownRef     ErrorCode = 5 // pull of a ref the server does not have
)

const hashWireLen = 64

// WantPayload opens a session: the operation and the ref it targets.
type WantPayload struct {
	Op  SyncOp
	Ref string
}

// HavePayload advertises ids the sender already has; the first hash is
// the current ref tip (empty when the ref is unborn).
type HavePayload struct {
	Tip   object.Hash
	Known []object.Hash
}

// ObjectPayload carries one object. Data is the uncompressed canonical
// content; it travels zstd-compressed on the wire.
type ObjectPayload struct {
	Type object.ObjectType
	Hash object.Hash
	Data []byte
}

// RefUpdatePayload requests a compare-and-swap ref publish.
type RefUpdatePayload struct {
	Ref     string
	OldHash object.Hash // expected current value; empty asserts absence
	NewHash object.Hash
	Force   bool
}

// AckPayload acknowledges received objects. Received is cumulative for
// the session, so a batched ack covers everything before it.
type AckPayload struct {
	Received uint32
}

// ErrorPayload aborts the session with a classified failure.
type ErrorPayload struct {
	Code    ErrorCode
	Message string
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("%w: truncated string length", ErrMalformedFrame)
	}
	n := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < n {
		return "", nil, fmt.Errorf("%w: truncated string body", ErrMalformedFrame)
	}
	return string(data[:n]), data[n:], nil
}

// Hashes travel as a presence byte plus the 64 hex characters, so the
// empty hash (unborn ref) stays representable.
func appendHash(buf []byte, h object.Hash) []byte {
	if h == "" {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return append(buf, h...)
}

func readHash(data []byte) (object.Hash, []byte, error) {
	if len(data) < 1 {
		return "", nil, fmt.Errorf("%w: truncated hash", ErrMalformedFrame)
	}
	present := data[0]
	data = data[1:]
	switch present {
	case 0:
		return "", data, nil
	case 1:
		if len(data) < hashWireLen {
			return "", nil, fmt.Errorf("%w: truncated hash body", ErrMalformedFrame)
		}
		h := object.Hash(data[:hashWireLen])
		if err := object.ValidateHash(h); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return h, data[hashWireLen:], nil
	default:
		return "", nil, fmt.Errorf("%w: bad hash presence byte %d", ErrMalformedFrame, present)
	}
}

// EncodeWant builds a WANT frame.
func EncodeWant(p *WantPayload) (*Frame, error) {
	if p.Op != OpPush && p.Op != OpPull {
		return nil, fmt.Errorf("encode want: unknown op %d", p.Op)
	}
	if p.Ref == "" {
		return nil, fmt.Errorf("encode want: ref name is required")
	}
	buf := []byte{byte(p.Op)}
	buf = appendString(buf, p.Ref)
	return &Frame{Type: FrameWant, Payload: buf}, nil
}

// DecodeWant parses a WANT frame payload.
func DecodeWant(f *Frame) (*WantPayload, error) {
	if f.Type != FrameWant {
		return nil, fmt.Errorf("%w: expected WANT, got %s", ErrMalformedFrame, f.Type)
	}
	data := f.Payload
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty WANT payload", ErrMalformedFrame)
	}
	op := SyncOp(data[0])
	if op != OpPush && op != OpPull {
		return nil, fmt.Errorf("%w: unknown sync op %d", ErrMalformedFrame, data[0])
	}
	ref, rest, err := readString(data[1:])
	if err != nil {
		return nil, err
	}
	if ref == "" || len(rest) != 0 {
		return nil, fmt.Errorf("%w: bad WANT payload", ErrMalformedFrame)
	}
	return &WantPayload{Op: op, Ref: ref}, nil
}

// EncodeHave builds a HAVE frame.
func EncodeHave(p *HavePayload) (*Frame, error) {
	buf := appendHash(nil, p.Tip)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Known)))
	for _, h := range p.Known {
		if err := object.ValidateHash(h); err != nil {
			return nil, fmt.Errorf("encode have: %w", err)
		}
		buf = appendHash(buf, h)
	}
	return &Frame{Type: FrameHave, Payload: buf}, nil
}

// DecodeHave parses a HAVE frame payload.
func DecodeHave(f *Frame) (*HavePayload, error) {
	if f.Type != FrameHave {
		return nil, fmt.Errorf("%w: expected HAVE, got %s", ErrMalformedFrame, f.Type)
	}
	tip, data, err := readHash(f.Payload)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated HAVE count", ErrMalformedFrame)
	}
	count := binary.BigEndian.Uint32(data)
	data = data[4:]

	p := &HavePayload{Tip: tip}
	for i := uint32(0); i < count; i++ {
		var h object.Hash
		h, data, err = readHash(data)
		if err != nil {
			return nil, err
		}
		p.Known = append(p.Known, h)
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes in HAVE payload", ErrMalformedFrame)
	}
	return p, nil
}

func wireObjectKind(t object.ObjectType) (uint8, error) {
	switch t {
	case object.TypeBlob:
		return 1, nil
	case object.TypeTree:
		return 2, nil
	case object.TypeCommit:
		return 3, nil
	}
	return 0, fmt.Errorf("unknown object type %q", t)
}

func objectKindFromWire(k uint8) (object.ObjectType, error) {
	switch k {
	case 1:
		return object.TypeBlob, nil
	case 2:
		return object.TypeTree, nil
	case 3:
		return object.TypeCommit, nil
	}
	return "", fmt.Errorf("%w: unknown object kind %d", ErrMalformedFrame, k)
}

// EncodeObject builds an OBJECT frame, compressing the content.
func EncodeObject(p *ObjectPayload) (*Frame, error) {
	kind, err := wireObjectKind(p.Type)
	if err != nil {
		return nil, fmt.Errorf("encode object: %w", err)
	}
	if err := object.ValidateHash(p.Hash); err != nil {
		return nil, fmt.Errorf("encode object: %w", err)
	}

	compressed, err := compress(p.Data)
	if err != nil {
		return nil, fmt.Errorf("encode object: compress: %w", err)
	}

	buf := make([]byte, 0, 1+1+hashWireLen+len(compressed))
	buf = append(buf, kind)
	buf = appendHash(buf, p.Hash)
	buf = append(buf, compressed...)
	return &Frame{Type: FrameObject, Payload: buf}, nil
}

// DecodeObject parses an OBJECT frame payload, decompressing the content.
func DecodeObject(f *Frame) (*ObjectPayload, error) {
	if f.Type != FrameObject {
		return nil, fmt.Errorf("%w: expected OBJECT, got %s", ErrMalformedFrame, f.Type)
	}
	data := f.Payload
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty OBJECT payload", ErrMalformedFrame)
	}
	objType, err := objectKindFromWire(data[0])
	if err != nil {
		return nil, err
	}
	h, data, err := readHash(data[1:])
	if err != nil {
		return nil, err
	}
	if h == "" {
		return nil, fmt.Errorf("%w: OBJECT without id", ErrMalformedFrame)
	}

	content, err := decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: object decompress: %v", ErrMalformedFrame, err)
	}
	return &ObjectPayload{Type: objType, Hash: h, Data: content}, nil
}

// EncodeRefUpdate builds a REF_UPDATE frame.
func EncodeRefUpdate(p *RefUpdatePayload) (*Frame, error) {
	if p.Ref == "" {
		return nil, fmt.Errorf("encode ref update: ref name is required")
	}
	if err := object.ValidateHash(p.NewHash); err != nil {
		return nil, fmt.Errorf("encode ref update: new hash: %w", err)
	}
	var flags byte
	if p.Force {
		flags |= 1
	}
	buf := []byte{flags}
	buf = appendString(buf, p.Ref)
	buf = appendHash(buf, p.OldHash)
	buf = appendHash(buf, p.NewHash)
	return &Frame{Type: FrameRefUpdate, Payload: buf}, nil
}

// DecodeRefUpdate parses a REF_UPDATE frame payload.
func DecodeRefUpdate(f *Frame) (*RefUpdatePayload, error) {
	if f.Type != FrameRefUpdate {
		return nil, fmt.Errorf("%w: expected REF_UPDATE, got %s", ErrMalformedFrame, f.Type)
	}
	data := f.Payload
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty REF_UPDATE payload", ErrMalformedFrame)
	}
	flags := data[0]
	ref, data, err := readString(data[1:])
	if err != nil {
		return nil, err
	}
	oldHash, data, err := readHash(data)
	if err != nil {
		return nil, err
	}
	newHash, data, err := readHash(data)
	if err != nil {
		return nil, err
	}
	if ref == "" || newHash == "" || len(data) != 0 {
		return nil, fmt.Errorf("%w: bad REF_UPDATE payload", ErrMalformedFrame)
	}
	return &RefUpdatePayload{
		Ref:     ref,
		OldHash: oldHash,
		NewHash: newHash,
		Force:   flags&1 != 0,
	}, nil
}

// EncodeAck builds an ACK frame.
func EncodeAck(p *AckPayload) *Frame {
	buf := binary.BigEndian.AppendUint32(nil, p.Received)
	return &Frame{Type: FrameAck, Payload: buf}
}

// DecodeAck parses an ACK frame payload.
func DecodeAck(f *Frame) (*AckPayload, error) {
	if f.Type != FrameAck {
		return nil, fmt.Errorf("%w: expected ACK, got %s", ErrMalformedFrame, f.Type)
	}
	if len(f.Payload) != 4 {
		return nil, fmt.Errorf("%w: bad ACK payload length %d", ErrMalformedFrame, len(f.Payload))
	}
	return &AckPayload{Received: binary.BigEndian.Uint32(f.Payload)}, nil
}

// EncodeError builds an ERROR frame.
func EncodeError(p *ErrorPayload) *Frame {
	buf := []byte{byte(p.Code)}
	buf = appendString(buf, p.Message)
	return &Frame{Type: FrameError, Payload: buf}
}

// DecodeError parses an ERROR frame payload.
func DecodeError(f *Frame) (*ErrorPayload, error) {
	if f.Type != FrameError {
		return nil, fmt.Errorf("%w: expected ERROR, got %s", ErrMalformedFrame, f.Type)
	}
	if len(f.Payload) < 1 {
		return nil, fmt.Errorf("%w: empty ERROR payload", ErrMalformedFrame)
	}
	msg, rest, err := readString(f.Payload[1:])
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes in ERROR payload", ErrMalformedFrame)
	}
	return &ErrorPayload{Code: ErrorCode(f.Payload[0]), Message: msg}, nil
}

// EncodeDone builds the session-terminating DONE frame.
func EncodeDone() *Frame {
	return &Frame{Type: FrameDone}
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
