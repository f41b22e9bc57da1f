package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/odvcencio/hx/pkg/index"
	"github.com/odvcencio/hx/pkg/object"
)

// Add stages the given file paths. Each path is resolved relative to the
// repo root. Blob writes run in a bounded worker pool; the index update
// itself happens once, under the index lock, after all blobs landed.
func (r *Repo) Add(paths []string) error {
	type stagedFile struct {
		relPath string
		hash    object.Hash
		size    int64
		mtime   int64
		mode    uint32
	}

	// Each goroutine writes its own slot.
	results := make([]stagedFile, len(paths))

	p := pool.New().WithMaxGoroutines(runtime.GOMAXPROCS(0)).WithErrors()
	for i, arg := range paths {
		i, arg := i, arg
		p.Go(func() error {
			relPath, err := r.repoRelPath(arg)
			if err != nil {
				return fmt.Errorf("resolve path %q: %w", arg, err)
			}
			// Tree entries are newline-delimited; a path containing one
			// would corrupt every tree that names it.
			if strings.ContainsAny(relPath, "\n\r") {
				return fmt.Errorf("path %q contains a newline", relPath)
			}

			absPath := filepath.Join(r.RootDir, filepath.FromSlash(relPath))
			content, err := os.ReadFile(absPath)
			if err != nil {
				return fmt.Errorf("read %q: %w", relPath, err)
			}
			info, err := os.Stat(absPath)
			if err != nil {
				return fmt.Errorf("stat %q: %w", relPath, err)
			}

			blobHash, err := r.Store.PutBlob(&object.Blob{Data: content})
			if err != nil {
				return fmt.Errorf("write blob %q: %w", relPath, err)
			}

			mode := uint32(0o100644)
			if info.Mode()&0o111 != 0 {
				mode = 0o100755
			}
			results[i] = stagedFile{
				relPath: relPath,
				hash:    blobHash,
				size:    info.Size(),
				mtime:   info.ModTime().Unix(),
				mode:    mode,
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("add: %w", err)
	}

	err := index.Update(r.IndexPath(), index.DefaultLockTimeout, func(ix *index.Index) error {
		for _, f := range results {
			ix.Set(&index.Entry{
				Path:  f.relPath,
				Hash:  f.hash,
				Flags: index.FlagTracked | index.FlagStaged,
				Size:  f.size,
				Mtime: f.mtime,
				Mode:  f.mode,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	return nil
}

// Remove stages a deletion for each path: the entry stays in the index
// carrying DELETED|STAGED so the next commit drops the file from the
// tree. With deleteFromDisk the working tree file is removed too.
func (r *Repo) Remove(paths []string, deleteFromDisk bool) error {
	err := index.Update(r.IndexPath(), index.DefaultLockTimeout, func(ix *index.Index) error {
		for _, arg := range paths {
			relPath, err := r.repoRelPath(arg)
			if err != nil {
				return fmt.Errorf("resolve path %q: %w", arg, err)
			}
			e, ok := ix.Lookup(relPath)
			if !ok {
				return fmt.Errorf("path %q is not tracked", relPath)
			}
			e.Flags |= index.FlagDeleted | index.FlagStaged

			if deleteFromDisk {
				absPath := filepath.Join(r.RootDir, filepath.FromSlash(relPath))
				if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove %q: %w", relPath, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rm: %w", err)
	}
	return nil
}

// Unstage clears the STAGED flag for each path without touching the
// working tree. An entry staged for deletion reverts to plain tracked;
// an entry new to the index (never committed) is dropped entirely.
func (r *Repo) Unstage(paths []string) error {
	headTree, err := r.headTreeFiles()
	if err != nil {
		return fmt.Errorf("unstage: %w", err)
	}

	err = index.Update(r.IndexPath(), index.DefaultLockTimeout, func(ix *index.Index) error {
		for _, arg := range paths {
			relPath, err := r.repoRelPath(arg)
			if err != nil {
				return fmt.Errorf("resolve path %q: %w", arg, err)
			}
			e, ok := ix.Lookup(relPath)
			if !ok || e.Flags&index.FlagStaged == 0 {
				return fmt.Errorf("path %q is not staged", relPath)
			}

			committed, inHead := headTree[relPath]
			if !inHead {
				ix.Remove(relPath)
				continue
			}
			e.Flags &^= index.FlagStaged | index.FlagDeleted
			e.Hash = committed.Hash
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unstage: %w", err)
	}
	return nil
}

// headTreeFiles flattens the HEAD commit's tree into path -> entry. An
// unborn HEAD yields an empty map.
func (r *Repo) headTreeFiles() (map[string]TreeFileEntry, error) {
	files := make(map[string]TreeFileEntry)

	head, err := r.ResolveRef("HEAD")
	if err != nil {
		return nil, err
	}
	if head == "" {
		return files, nil
	}
	commit, err := r.Store.GetCommit(head)
	if err != nil {
		return nil, err
	}
	flat, err := r.FlattenTree(commit.TreeHash)
	if err != nil {
		return nil, err
	}
	for _, f := range flat {
		files[f.Path] = f
	}
	return files, nil
}

// repoRelPath converts a path (absolute, or relative to CWD) into a
// forward-slash path relative to the repository root. A relative path
// that does not resolve inside the root is assumed to already be
// repo-relative.
func (r *Repo) repoRelPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.RootDir, p)
		if err != nil {
			return "", fmt.Errorf("cannot make %q relative to %q: %w", p, r.RootDir, err)
		}
		return filepath.ToSlash(rel), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}

	abs := filepath.Join(cwd, p)
	rel, err := filepath.Rel(r.RootDir, abs)
	if err != nil {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	if len(rel) >= 2 && rel[:2] == ".." {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	return filepath.ToSlash(rel), nil
}
