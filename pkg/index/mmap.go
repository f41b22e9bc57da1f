package index

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps an open file read-only. The returned closer unmaps; the
// caller must not touch the slice afterwards.
func mapFile(f *os.File, size int64) ([]byte, func(), error) {
	if size == 0 {
		return nil, func() {}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap index: %w", err)
	}
	closer := func() { _ = unix.Munmap(data) }
	return data, closer, nil
}
