package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/hx/pkg/object"
)

// Rebuild reconstructs an index from the last known commit tree and the
// current working tree. This is the recovery path for a genuinely
// corrupt index file: a full, non-incremental rescan. Entries for files
// present in the tree but missing on disk are marked DELETED; file
// metadata (size, mtime) is taken from the working tree so unmodified
// files stat clean afterwards.
func Rebuild(store *object.Store, rootTree object.Hash, workdir string) (*Index, error) {
	ix := New()
	if rootTree == "" {
		return ix, nil
	}

	files := make(map[string]*object.TreeEntry)
	if err := flattenTree(store, rootTree, "", files); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}

	for path, te := range files {
		e := &Entry{
			Path:  path,
			Hash:  te.Hash,
			Flags: FlagTracked,
			Mode:  0o100644,
		}
		if te.Mode == object.TreeModeExecutable {
			e.Mode = 0o100755
		}
		info, err := os.Stat(filepath.Join(workdir, filepath.FromSlash(path)))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("rebuild index: stat %q: %w", path, err)
			}
			e.Flags |= FlagDeleted
		} else {
			e.Size = info.Size()
			e.Mtime = info.ModTime().Unix()
		}
		ix.Set(e)
	}
	return ix, nil
}

func flattenTree(store *object.Store, h object.Hash, prefix string, out map[string]*object.TreeEntry) error {
	tree, err := store.GetTree(h)
	if err != nil {
		return err
	}
	for i := range tree.Entries {
		e := &tree.Entries[i]
		full := e.Name
		if prefix != "" {
			full = prefix + "/" + e.Name
		}
		if e.IsDir {
			if err := flattenTree(store, e.Hash, full, out); err != nil {
				return err
			}
			continue
		}
		out[full] = e
	}
	return nil
}
