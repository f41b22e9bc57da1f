package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/hx/pkg/index"
	"github.com/odvcencio/hx/pkg/object"
)

// Repo represents an opened hx repository.
type Repo struct {
	RootDir string        // working directory root
	HxDir   string        // .hx/ directory
	Store   *object.Store // content-addressed object store
}

// Init creates a new hx repository at path: the .hx/ directory with
// HEAD, objects/, and refs/heads/. Returns an error if .hx/ already
// exists.
func Init(path string) (*Repo, error) {
	hxDir := filepath.Join(path, ".hx")

	if _, err := os.Stat(hxDir); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", hxDir)
	}

	dirs := []string{
		filepath.Join(hxDir, "objects"),
		filepath.Join(hxDir, "refs", "heads"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	headPath := filepath.Join(hxDir, "HEAD")
	if err := os.WriteFile(headPath, []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}

	return &Repo{
		RootDir: path,
		HxDir:   hxDir,
		Store:   object.NewStore(hxDir),
	}, nil
}

// Open searches upward from path for a .hx/ directory and opens the
// repository.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}

	cur := abs
	for {
		hxDir := filepath.Join(cur, ".hx")
		info, err := os.Stat(hxDir)
		if err == nil && info.IsDir() {
			return &Repo{
				RootDir: cur,
				HxDir:   hxDir,
				Store:   object.NewStore(hxDir),
			}, nil
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("open: not an hx repository (or any parent up to /)")
		}
		cur = parent
	}
}

// IndexPath returns the filesystem path to the staging index file.
func (r *Repo) IndexPath() string {
	return filepath.Join(r.HxDir, "index")
}

// LoadIndex reads the staging index. If the file is genuinely corrupt it
// is rebuilt from the HEAD commit's tree and the working tree; the
// returned warning is non-empty in that case so callers can report the
// recovery instead of silently swallowing it.
func (r *Repo) LoadIndex() (ix *index.Index, warning string, err error) {
	ix, err = index.Load(r.IndexPath())
	if err == nil {
		return ix, "", nil
	}
	if !errors.Is(err, index.ErrCorrupt) {
		return nil, "", err
	}

	var rootTree object.Hash
	if head, headErr := r.ResolveRef("HEAD"); headErr == nil && head != "" {
		commit, commitErr := r.Store.GetCommit(head)
		if commitErr != nil {
			return nil, "", fmt.Errorf("load index: rebuild: %w", commitErr)
		}
		rootTree = commit.TreeHash
	}

	rebuilt, rebuildErr := index.Rebuild(r.Store, rootTree, r.RootDir)
	if rebuildErr != nil {
		return nil, "", fmt.Errorf("load index: rebuild: %w", rebuildErr)
	}
	warning = fmt.Sprintf("index was corrupt (%v); rebuilt from HEAD and working tree", err)

	// The corrupt file cannot go through Update (its load would fail
	// again); take the lock and publish the rebuilt index directly.
	lock, lockErr := index.AcquireLock(r.IndexPath()+".lock", index.DefaultLockTimeout)
	if lockErr != nil {
		return nil, "", lockErr
	}
	defer lock.Release()
	if writeErr := rebuilt.Write(r.IndexPath()); writeErr != nil {
		return nil, "", fmt.Errorf("load index: persist rebuild: %w", writeErr)
	}
	return rebuilt, warning, nil
}
