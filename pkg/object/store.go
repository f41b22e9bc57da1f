package object

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// ErrNotFound reports a read of an object the store does not contain.
var ErrNotFound = errors.New("object not found")

// ErrCorrupt reports stored content whose digest no longer matches its id.
var ErrCorrupt = errors.New("object corrupt")

// Store is a content-addressed object store. Objects are sharded per
// kind with a 2-character fan-out: objects/blobs/ab/cdef0123...
// Blobs are zstd-compressed at rest; trees and commits are stored as
// their canonical bytes so they stay directly inspectable.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given metadata directory. The
// objects/ subdirectories are created lazily on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func kindDir(objType ObjectType) string {
	switch objType {
	case TypeBlob:
		return "blobs"
	case TypeTree:
		return "trees"
	case TypeCommit:
		return "commits"
	}
	return string(objType)
}

// objectPath returns the filesystem path for a given kind and hash.
func (s *Store) objectPath(objType ObjectType, h Hash) string {
	return filepath.Join(s.root, "objects", kindDir(objType), string(h[:2]), string(h[2:]))
}

// Has reports whether the store contains an object of the given kind.
func (s *Store) Has(objType ObjectType, h Hash) bool {
	if len(h) < 3 {
		return false
	}
	_, err := os.Stat(s.objectPath(objType, h))
	return err == nil
}

// Put stores an object and returns its content hash. If an object with
// the same hash already exists the store never rewrites it. Writes are
// atomic: data goes to a temp file in the destination directory and is
// renamed into place, so a concurrent reader never sees a torn object
// and a crash mid-write leaves only an orphaned temp file.
func (s *Store) Put(objType ObjectType, data []byte) (Hash, error) {
	h := HashObject(objType, data)

	// Fast path: already exists. Concurrent writers of the same id race
	// harmlessly to the same final bytes via the rename below.
	if s.Has(objType, h) {
		return h, nil
	}

	onDisk := data
	if objType == TypeBlob {
		compressed, err := compressBlob(data)
		if err != nil {
			return "", fmt.Errorf("object put %s: compress: %w", h, err)
		}
		onDisk = compressed
	}

	dir := filepath.Join(s.root, "objects", kindDir(objType), string(h[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("object put mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("object put tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(onDisk); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("object put write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("object put sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object put close: %w", err)
	}

	if err := os.Rename(tmpName, s.objectPath(objType, h)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object put rename: %w", err)
	}

	return h, nil
}

// Get retrieves an object by kind and hash, returning its raw content.
// Trees and commits are re-hashed on read and fail with ErrCorrupt on a
// digest mismatch; blobs rely on the zstd frame integrity checks.
func (s *Store) Get(objType ObjectType, h Hash) ([]byte, error) {
	if err := ValidateHash(h); err != nil {
		return nil, fmt.Errorf("object get: %w", err)
	}
	raw, err := os.ReadFile(s.objectPath(objType, h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object get %s %s: %w", objType, h, ErrNotFound)
		}
		return nil, fmt.Errorf("object get %s %s: %w", objType, h, err)
	}

	if objType == TypeBlob {
		data, err := decompressBlob(raw)
		if err != nil {
			return nil, fmt.Errorf("object get %s %s: %w: %v", objType, h, ErrCorrupt, err)
		}
		return data, nil
	}

	if computed := HashObject(objType, raw); computed != h {
		return nil, fmt.Errorf("object get %s %s: %w: digest %s", objType, h, ErrCorrupt, computed)
	}
	return raw, nil
}

func compressBlob(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompressBlob(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// PutBlob serializes and stores a Blob.
func (s *Store) PutBlob(b *Blob) (Hash, error) {
	return s.Put(TypeBlob, MarshalBlob(b))
}

// GetBlob reads and deserializes a Blob.
func (s *Store) GetBlob(h Hash) (*Blob, error) {
	data, err := s.Get(TypeBlob, h)
	if err != nil {
		return nil, err
	}
	return UnmarshalBlob(data)
}

// PutTree serializes and stores a TreeObj.
func (s *Store) PutTree(tr *TreeObj) (Hash, error) {
	return s.Put(TypeTree, MarshalTree(tr))
}

// GetTree reads and deserializes a TreeObj.
func (s *Store) GetTree(h Hash) (*TreeObj, error) {
	data, err := s.Get(TypeTree, h)
	if err != nil {
		return nil, err
	}
	return UnmarshalTree(data)
}

// PutCommit serializes and stores a CommitObj.
func (s *Store) PutCommit(c *CommitObj) (Hash, error) {
	return s.Put(TypeCommit, MarshalCommit(c))
}

// GetCommit reads and deserializes a CommitObj.
func (s *Store) GetCommit(h Hash) (*CommitObj, error) {
	data, err := s.Get(TypeCommit, h)
	if err != nil {
		return nil, err
	}
	return UnmarshalCommit(data)
}
