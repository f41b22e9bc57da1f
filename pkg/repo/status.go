package repo

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/odvcencio/hx/pkg/index"
	"github.com/odvcencio/hx/pkg/object"
)

// FileStatus represents the state of a file in the working tree or index.
type FileStatus int

const (
	StatusClean     FileStatus = iota // file matches between compared areas
	StatusNew                         // in index, not in HEAD tree
	StatusModified                    // in index, different from HEAD
	StatusDeleted                     // staged for deletion, or gone from disk
	StatusUntracked                   // on disk but not in the index
	StatusDirty                       // tracked but working copy differs from index
)

// StatusEntry records the status of a single file.
type StatusEntry struct {
	Path        string     // repo-relative path
	IndexStatus FileStatus // index vs HEAD comparison
	WorkStatus  FileStatus // working tree vs index comparison
}

// Status computes the working tree status.
//
//  1. Load the index (a corrupt index is rebuilt; the warning is
//     returned alongside the entries).
//  2. Walk the working directory, skipping .hx/.
//  3. Compare working files against index entries, using size and mtime
//     to avoid re-hashing unchanged files.
//  4. Compare index entries against the HEAD tree.
func (r *Repo) Status() ([]StatusEntry, string, error) {
	ix, warning, err := r.LoadIndex()
	if err != nil {
		return nil, "", fmt.Errorf("status: %w", err)
	}

	workFiles, err := r.walkWorkFiles()
	if err != nil {
		return nil, "", fmt.Errorf("status: %w", err)
	}

	headFiles, err := r.headTreeFiles()
	if err != nil {
		return nil, "", fmt.Errorf("status: %w", err)
	}

	result := make(map[string]*StatusEntry)

	for path := range workFiles {
		if _, tracked := ix.Lookup(path); !tracked {
			result[path] = &StatusEntry{Path: path, WorkStatus: StatusUntracked}
		}
	}

	for _, e := range ix.Entries() {
		se := &StatusEntry{Path: e.Path}
		result[e.Path] = se

		// Index vs HEAD.
		committed, inHead := headFiles[e.Path]
		switch {
		case e.Flags&index.FlagDeleted != 0:
			se.IndexStatus = StatusDeleted
		case !inHead:
			se.IndexStatus = StatusNew
		case committed.Hash != e.Hash:
			se.IndexStatus = StatusModified
		}

		// Working tree vs index.
		if e.Flags&index.FlagDeleted != 0 {
			continue
		}
		if !workFiles[e.Path] {
			se.WorkStatus = StatusDeleted
			continue
		}
		dirty, err := r.fileDiffers(e)
		if err != nil {
			return nil, "", fmt.Errorf("status: %w", err)
		}
		if dirty {
			se.WorkStatus = StatusDirty
		}
	}

	entries := make([]StatusEntry, 0, len(result))
	for _, se := range result {
		if se.IndexStatus == StatusClean && se.WorkStatus == StatusClean {
			continue
		}
		entries = append(entries, *se)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, warning, nil
}

// fileDiffers reports whether the working copy of an index entry changed.
// When size and mtime both match the stat fast path declares it clean;
// otherwise the content is re-hashed.
func (r *Repo) fileDiffers(e *index.Entry) (bool, error) {
	absPath := filepath.Join(r.RootDir, filepath.FromSlash(e.Path))
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("stat %q: %w", e.Path, err)
	}
	if info.Size() == e.Size && info.ModTime().Unix() == e.Mtime {
		return false, nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return false, fmt.Errorf("read %q: %w", e.Path, err)
	}
	return object.HashObject(object.TypeBlob, content) != e.Hash, nil
}

// walkWorkFiles collects repo-relative forward-slash paths of all regular
// files under the root, skipping the .hx metadata directory.
func (r *Repo) walkWorkFiles() (map[string]bool, error) {
	files := make(map[string]bool)
	err := filepath.WalkDir(r.RootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(r.RootDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if rel == ".hx" {
			return fs.SkipDir
		}
		if !d.IsDir() {
			files[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}
	return files, nil
}
