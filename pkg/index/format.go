package index

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/zeebo/blake3"

	"github.com/odvcencio/hx/pkg/object"
)

// On-disk layout:
//
//	header (64 bytes, checksummed) | entries (320 bytes each, sorted by
//	path) | footer (32-byte BLAKE3 of header+entries)
//
// Fixed-size entries keep the mapped file binary-searchable by path.
const (
	formatVersion = 1

	headerSize = 64
	entrySize  = 320
	footerSize = 32

	// MaxPathLen bounds entry paths; longer paths are rejected at
	// staging time rather than truncated.
	MaxPathLen = 254

	pathFieldSize = 2 + MaxPathLen // u16 length + padded bytes
)

var indexMagic = [4]byte{'H', 'X', 'I', 'X'}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ErrCorrupt reports an index file whose checksums do not validate.
var ErrCorrupt = errors.New("index corrupt")

// Entry flag bits.
const (
	FlagTracked uint32 = 1 << 0
	FlagStaged  uint32 = 1 << 1
	FlagDeleted uint32 = 1 << 2

	flagsMask = FlagTracked | FlagStaged | FlagDeleted
)

// Entry records the staged/tracked state of a single path.
type Entry struct {
	Path  string
	Hash  object.Hash
	Flags uint32
	Size  int64
	Mtime int64
	Mode  uint32
}

type header struct {
	version    uint32
	entryCount uint32
	generation uint64
}

// marshalHeader lays out the fixed header. The CRC at offset 20 covers
// bytes 0..20, so a reader can trust the generation counter before it
// has verified the whole file.
func marshalHeader(h header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], indexMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.version)
	binary.BigEndian.PutUint32(buf[8:12], h.entryCount)
	binary.BigEndian.PutUint64(buf[12:20], h.generation)
	binary.BigEndian.PutUint32(buf[20:24], crc32.Checksum(buf[0:20], crcTable))
	return buf
}

func unmarshalHeader(data []byte) (header, error) {
	if len(data) < headerSize {
		return header{}, fmt.Errorf("%w: header too short (%d bytes)", ErrCorrupt, len(data))
	}
	if !bytes.Equal(data[0:4], indexMagic[:]) {
		return header{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, data[0:4])
	}
	sum := binary.BigEndian.Uint32(data[20:24])
	if crc32.Checksum(data[0:20], crcTable) != sum {
		return header{}, fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}
	h := header{
		version:    binary.BigEndian.Uint32(data[4:8]),
		entryCount: binary.BigEndian.Uint32(data[8:12]),
		generation: binary.BigEndian.Uint64(data[12:20]),
	}
	if h.version != formatVersion {
		return header{}, fmt.Errorf("unsupported index version %d", h.version)
	}
	return h, nil
}

// marshalEntry lays out one fixed-size entry record.
//
//	0..2     path length (u16)
//	2..256   path bytes, zero padded
//	256..288 object id (raw 32-byte digest)
//	288..292 flags (u32)
//	292..300 size (u64)
//	300..308 mtime unix seconds (u64)
//	308..312 file mode (u32)
//	312..320 reserved
func marshalEntry(e *Entry) ([]byte, error) {
	pathBytes := []byte(e.Path)
	if len(pathBytes) > MaxPathLen {
		return nil, fmt.Errorf("path %q exceeds %d bytes", e.Path, MaxPathLen)
	}
	rawHash, err := hex.DecodeString(string(e.Hash))
	if err != nil || len(rawHash) != 32 {
		return nil, fmt.Errorf("entry %q: invalid object id %q", e.Path, e.Hash)
	}

	buf := make([]byte, entrySize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(pathBytes)))
	copy(buf[2:2+len(pathBytes)], pathBytes)
	copy(buf[pathFieldSize:pathFieldSize+32], rawHash)
	binary.BigEndian.PutUint32(buf[288:292], e.Flags)
	binary.BigEndian.PutUint64(buf[292:300], uint64(e.Size))
	binary.BigEndian.PutUint64(buf[300:308], uint64(e.Mtime))
	binary.BigEndian.PutUint32(buf[308:312], e.Mode)
	return buf, nil
}

func unmarshalEntry(data []byte) (*Entry, error) {
	if len(data) < entrySize {
		return nil, fmt.Errorf("%w: entry record too short (%d bytes)", ErrCorrupt, len(data))
	}
	pathLen := int(binary.BigEndian.Uint16(data[0:2]))
	if pathLen > MaxPathLen {
		return nil, fmt.Errorf("%w: entry path length %d", ErrCorrupt, pathLen)
	}
	flags := binary.BigEndian.Uint32(data[288:292])
	if flags&^flagsMask != 0 {
		return nil, fmt.Errorf("%w: unknown flag bits %#x", ErrCorrupt, flags)
	}
	return &Entry{
		Path:  string(data[2 : 2+pathLen]),
		Hash:  object.Hash(hex.EncodeToString(data[pathFieldSize : pathFieldSize+32])),
		Flags: flags,
		Size:  int64(binary.BigEndian.Uint64(data[292:300])),
		Mtime: int64(binary.BigEndian.Uint64(data[300:308])),
		Mode:  binary.BigEndian.Uint32(data[308:312]),
	}, nil
}

func fileChecksum(headerAndEntries []byte) [32]byte {
	return blake3.Sum256(headerAndEntries)
}
