package index

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const loadRetries = 3

// Index is an in-memory snapshot of the staging index: entries sorted by
// path plus the generation counter of the file they were read from.
type Index struct {
	generation uint64
	entries    []*Entry // sorted by Path, unique
}

// New returns an empty index at generation zero.
func New() *Index {
	return &Index{}
}

// Generation returns the monotonically increasing counter stamped on
// every index mutation; readers use it to detect stale views.
func (ix *Index) Generation() uint64 { return ix.generation }

// Len returns the number of entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Entries returns the entries in path order. The slice is shared; callers
// must not reorder it.
func (ix *Index) Entries() []*Entry { return ix.entries }

// Lookup finds an entry by path using binary search.
func (ix *Index) Lookup(path string) (*Entry, bool) {
	i := sort.Search(len(ix.entries), func(i int) bool {
		return ix.entries[i].Path >= path
	})
	if i < len(ix.entries) && ix.entries[i].Path == path {
		return ix.entries[i], true
	}
	return nil, false
}

// Set inserts or replaces the entry for its path, keeping path order.
func (ix *Index) Set(e *Entry) {
	i := sort.Search(len(ix.entries), func(i int) bool {
		return ix.entries[i].Path >= e.Path
	})
	if i < len(ix.entries) && ix.entries[i].Path == e.Path {
		ix.entries[i] = e
		return
	}
	ix.entries = append(ix.entries, nil)
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = e
}

// Remove deletes the entry for path, reporting whether it existed.
func (ix *Index) Remove(path string) bool {
	i := sort.Search(len(ix.entries), func(i int) bool {
		return ix.entries[i].Path >= path
	})
	if i >= len(ix.entries) || ix.entries[i].Path != path {
		return false
	}
	ix.entries = append(ix.entries[:i], ix.entries[i+1:]...)
	return true
}

// Staged returns the entries with the STAGED flag set, in path order.
func (ix *Index) Staged() []*Entry {
	var out []*Entry
	for _, e := range ix.entries {
		if e.Flags&FlagStaged != 0 {
			out = append(out, e)
		}
	}
	return out
}

// Load reads the index file through a read-only memory mapping and
// returns a validated snapshot. A missing file yields an empty index.
// Checksum mismatches are retried briefly (a concurrent writer may be
// mid-publish); a mismatch that persists surfaces as ErrCorrupt.
func Load(path string) (*Index, error) {
	var lastErr error
	for attempt := 0; attempt < loadRetries; attempt++ {
		ix, err := loadOnce(path)
		if err == nil {
			return ix, nil
		}
		if !errors.Is(err, ErrCorrupt) {
			return nil, err
		}
		lastErr = err
		time.Sleep(2 * time.Millisecond)
	}
	return nil, lastErr
}

func loadOnce(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index: %w", err)
	}

	data, unmap, err := mapFile(f, info.Size())
	if err != nil {
		return nil, err
	}
	defer unmap()

	hdr, err := unmarshalHeader(data)
	if err != nil {
		return nil, err
	}

	want := headerSize + int64(hdr.entryCount)*entrySize + footerSize
	if info.Size() != want {
		return nil, fmt.Errorf("%w: file size %d, expected %d for %d entries",
			ErrCorrupt, info.Size(), want, hdr.entryCount)
	}

	body := data[:headerSize+int(hdr.entryCount)*entrySize]
	sum := fileChecksum(body)
	if !bytes.Equal(sum[:], data[len(body):len(body)+footerSize]) {
		return nil, fmt.Errorf("%w: file checksum mismatch", ErrCorrupt)
	}

	ix := &Index{
		generation: hdr.generation,
		entries:    make([]*Entry, 0, hdr.entryCount),
	}
	for i := 0; i < int(hdr.entryCount); i++ {
		off := headerSize + i*entrySize
		e, err := unmarshalEntry(data[off : off+entrySize])
		if err != nil {
			return nil, err
		}
		if i > 0 && ix.entries[i-1].Path >= e.Path {
			return nil, fmt.Errorf("%w: entries not sorted at %q", ErrCorrupt, e.Path)
		}
		ix.entries = append(ix.entries, e)
	}
	return ix, nil
}

// Write bumps the generation counter and atomically publishes the index:
// the full file is built and checksummed in a temp file, then renamed
// over the old one, so a mapped reader never observes a torn write. The
// caller must hold the index lock.
func (ix *Index) Write(path string) error {
	ix.generation++

	var buf bytes.Buffer
	buf.Write(marshalHeader(header{
		version:    formatVersion,
		entryCount: uint32(len(ix.entries)),
		generation: ix.generation,
	}))
	for _, e := range ix.entries {
		rec, err := marshalEntry(e)
		if err != nil {
			return fmt.Errorf("write index: %w", err)
		}
		buf.Write(rec)
	}
	sum := fileChecksum(buf.Bytes())
	buf.Write(sum[:])

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".index-tmp-*")
	if err != nil {
		return fmt.Errorf("write index: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write index: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write index: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write index: rename: %w", err)
	}
	return nil
}

// Update runs fn against the current index under the advisory write lock
// and publishes the result. Lock acquisition waits up to timeout. The
// lock is released on every exit path.
func Update(path string, timeout time.Duration, fn func(*Index) error) error {
	lock, err := AcquireLock(path+".lock", timeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	ix, err := Load(path)
	if err != nil {
		return err
	}
	if err := fn(ix); err != nil {
		return err
	}
	return ix.Write(path)
}
