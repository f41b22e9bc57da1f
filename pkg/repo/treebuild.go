package repo

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/odvcencio/hx/pkg/index"
	"github.com/odvcencio/hx/pkg/object"
)

// BuildTree converts the flat index entries into a hierarchical tree,
// writing TreeObj objects to the store and returning the root hash.
// Entries carrying the DELETED flag are excluded.
//
// Index paths use forward slashes (e.g. "pkg/util/util.go"). Entries are
// partitioned by top-level path component and each top-level subtree is
// built concurrently; the root is assembled from the sorted results, so
// the root hash is deterministic regardless of worker count.
func (r *Repo) BuildTree(ix *index.Index) (object.Hash, error) {
	return r.buildTreeWorkers(ix, runtime.GOMAXPROCS(0))
}

func (r *Repo) buildTreeWorkers(ix *index.Index, workers int) (object.Hash, error) {
	live := make(map[string]*index.Entry)
	for _, e := range ix.Entries() {
		if e.Flags&index.FlagDeleted != 0 {
			continue
		}
		live[e.Path] = e
	}

	// Partition by top-level component. Root-level files stay serial;
	// they are cheap single writes.
	rootFiles := make(map[string]*index.Entry)
	topDirs := make(map[string]map[string]*index.Entry)
	for p, e := range live {
		slash := strings.IndexByte(p, '/')
		if slash < 0 {
			rootFiles[p] = e
			continue
		}
		top := p[:slash]
		if topDirs[top] == nil {
			topDirs[top] = make(map[string]*index.Entry)
		}
		topDirs[top][p[slash+1:]] = e
	}

	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	subHashes := make(map[string]object.Hash, len(topDirs))

	p := pool.New().WithMaxGoroutines(workers).WithErrors()
	for top, files := range topDirs {
		top, files := top, files
		p.Go(func() error {
			h, err := r.buildTreeDir(files)
			if err != nil {
				return fmt.Errorf("build tree %q: %w", top, err)
			}
			mu.Lock()
			subHashes[top] = h
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return "", err
	}

	names := make([]string, 0, len(rootFiles)+len(subHashes))
	for name := range rootFiles {
		names = append(names, name)
	}
	for name := range subHashes {
		names = append(names, name)
	}
	sort.Strings(names)

	var entries []object.TreeEntry
	for _, name := range names {
		if e, isFile := rootFiles[name]; isFile {
			entries = append(entries, fileTreeEntry(name, e))
		} else {
			entries = append(entries, object.TreeEntry{
				Name:  name,
				IsDir: true,
				Mode:  object.TreeModeDir,
				Hash:  subHashes[name],
			})
		}
	}

	h, err := r.Store.PutTree(&object.TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("write root tree: %w", err)
	}
	return h, nil
}

// buildTreeDir builds the TreeObj for one directory's files, keyed by
// path relative to that directory, recursing into subdirectories.
func (r *Repo) buildTreeDir(files map[string]*index.Entry) (object.Hash, error) {
	direct := make(map[string]*index.Entry)
	subdirs := make(map[string]map[string]*index.Entry)

	for rel, e := range files {
		slash := strings.IndexByte(rel, '/')
		if slash < 0 {
			direct[rel] = e
			continue
		}
		name := rel[:slash]
		if subdirs[name] == nil {
			subdirs[name] = make(map[string]*index.Entry)
		}
		subdirs[name][rel[slash+1:]] = e
	}

	names := make([]string, 0, len(direct)+len(subdirs))
	for name := range direct {
		names = append(names, name)
	}
	for name := range subdirs {
		if _, isFile := direct[name]; !isFile {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var entries []object.TreeEntry
	for _, name := range names {
		if e, isFile := direct[name]; isFile {
			entries = append(entries, fileTreeEntry(name, e))
		} else {
			subHash, err := r.buildTreeDir(subdirs[name])
			if err != nil {
				return "", err
			}
			entries = append(entries, object.TreeEntry{
				Name:  name,
				IsDir: true,
				Mode:  object.TreeModeDir,
				Hash:  subHash,
			})
		}
	}

	h, err := r.Store.PutTree(&object.TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("write tree: %w", err)
	}
	return h, nil
}

func fileTreeEntry(name string, e *index.Entry) object.TreeEntry {
	mode := object.TreeModeFile
	if e.Mode == 0o100755 {
		mode = object.TreeModeExecutable
	}
	return object.TreeEntry{
		Name: name,
		Mode: mode,
		Hash: e.Hash,
	}
}

// FlattenTree walks a tree recursively, returning all file entries with
// their full forward-slash paths in sorted order.
func (r *Repo) FlattenTree(h object.Hash) ([]TreeFileEntry, error) {
	var out []TreeFileEntry
	if err := r.flattenTreeRec(h, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TreeFileEntry represents a single file in a flattened tree.
type TreeFileEntry struct {
	Path string
	Mode string
	Hash object.Hash
}

func (r *Repo) flattenTreeRec(h object.Hash, prefix string, out *[]TreeFileEntry) error {
	tree, err := r.Store.GetTree(h)
	if err != nil {
		return fmt.Errorf("flatten tree: read %s: %w", h, err)
	}
	for _, e := range tree.Entries {
		full := e.Name
		if prefix != "" {
			full = prefix + "/" + e.Name
		}
		if e.IsDir {
			if err := r.flattenTreeRec(e.Hash, full, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, TreeFileEntry{Path: full, Mode: e.Mode, Hash: e.Hash})
	}
	return nil
}
