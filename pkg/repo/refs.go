package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/odvcencio/hx/pkg/object"
)

// ErrCASMismatch reports a ref compare-and-swap that lost a race: the
// ref's current value did not match the expected old value.
var ErrCASMismatch = errors.New("ref compare-and-swap mismatch")

const (
	refLockRetryDelay = 5 * time.Millisecond
	refLockWaitLimit  = 2 * time.Second
)

// Head reads .hx/HEAD. If the content starts with "ref: ", it returns
// the ref path (e.g. "refs/heads/main"). Otherwise it returns the raw
// content as a detached hash string.
func (r *Repo) Head() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.HxDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	content := strings.TrimRight(string(data), "\n")

	if strings.HasPrefix(content, "ref: ") {
		return strings.TrimPrefix(content, "ref: "), nil
	}
	return content, nil
}

// ResolveRef resolves a ref name to an object hash.
//
// Resolution order:
//  1. "HEAD" reads HEAD; a symbolic HEAD resolves its target ref, a
//     detached HEAD yields the raw hash (two-step lookup).
//  2. Names starting with "refs/" read .hx/<name>.
//  3. Anything else tries "refs/heads/<name>".
//
// An existing-but-unborn ref (e.g. HEAD pointing at a branch with no
// commits) resolves to the empty hash without error.
func (r *Repo) ResolveRef(name string) (object.Hash, error) {
	if name == "HEAD" {
		head, err := r.Head()
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(head, "refs/") {
			h, err := r.ResolveRef(head)
			if err != nil && errors.Is(err, os.ErrNotExist) {
				// Unborn branch: no commits yet.
				return "", nil
			}
			return h, err
		}
		return object.Hash(head), nil
	}

	var refPath string
	if strings.HasPrefix(name, "refs/") {
		refPath = filepath.Join(r.HxDir, filepath.FromSlash(name))
	} else {
		refPath = filepath.Join(r.HxDir, "refs", "heads", name)
	}

	data, err := os.ReadFile(refPath)
	if err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", name, err)
	}
	return object.Hash(strings.TrimRight(string(data), "\n")), nil
}

// UpdateRefCAS writes a hash to the named ref file under .hx/ using
// lockfile + rename atomic semantics. This compare-and-swap is the sole
// ref mutation path: if expectedOld is provided, the update only
// succeeds when the current ref value matches it, failing with
// ErrCASMismatch otherwise. An empty expectedOld asserts the ref does
// not yet exist.
func (r *Repo) UpdateRefCAS(name string, h object.Hash, expectedOld ...object.Hash) error {
	if len(expectedOld) > 1 {
		return fmt.Errorf("update ref %q: expected at most one old hash", name)
	}
	hasExpectedOld := len(expectedOld) == 1
	wantOldHash := object.Hash("")
	if hasExpectedOld {
		wantOldHash = expectedOld[0]
	}

	refPath := filepath.Join(r.HxDir, filepath.FromSlash(name))

	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: lock: %w", name, err)
	}
	cleanupLock := true
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	oldHash, err := readRefHash(refPath)
	if err != nil {
		return fmt.Errorf("update ref %q: read old hash: %w", name, err)
	}
	if hasExpectedOld && oldHash != wantOldHash {
		return fmt.Errorf(
			"update ref %q: %w (expected %s, found %s)",
			name, ErrCASMismatch, wantOldHash, oldHash,
		)
	}

	if _, err := lockFile.WriteString(string(h) + "\n"); err != nil {
		return fmt.Errorf("update ref %q: write: %w", name, err)
	}
	if err := lockFile.Sync(); err != nil {
		return fmt.Errorf("update ref %q: sync: %w", name, err)
	}
	if err := lockFile.Close(); err != nil {
		lockFile = nil
		return fmt.Errorf("update ref %q: close: %w", name, err)
	}
	lockFile = nil

	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: rename: %w", name, err)
	}
	cleanupLock = false
	return nil
}

func acquireRefLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
			}
			time.Sleep(refLockRetryDelay)
			continue
		}
		return nil, err
	}
}

func readRefHash(refPath string) (object.Hash, error) {
	data, err := os.ReadFile(refPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return object.Hash(strings.TrimSpace(string(data))), nil
}

// ListRefs lists references under .hx/refs. Names are returned relative
// to the refs root, e.g. "heads/main".
func (r *Repo) ListRefs(prefix string) (map[string]object.Hash, error) {
	root := filepath.Join(r.HxDir, "refs")
	dir := root
	if strings.TrimSpace(prefix) != "" {
		dir = filepath.Join(root, filepath.FromSlash(prefix))
	}

	refs := make(map[string]object.Hash)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(path, ".lock") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		refs[filepath.ToSlash(rel)] = object.Hash(strings.TrimSpace(string(data)))
		return nil
	})
	if os.IsNotExist(err) {
		return refs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}

// CreateBranch creates a new branch pointing at the given target hash.
// Fails if the branch already exists.
func (r *Repo) CreateBranch(name string, target object.Hash) error {
	refName := "refs/heads/" + name
	if err := r.UpdateRefCAS(refName, target, ""); err != nil {
		if errors.Is(err, ErrCASMismatch) {
			return fmt.Errorf("create branch: branch %q already exists", name)
		}
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	return nil
}

// DeleteBranch removes the branch ref file. Fails for the current branch.
func (r *Repo) DeleteBranch(name string) error {
	current, err := r.CurrentBranch()
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	if current == name {
		return fmt.Errorf("delete branch: cannot delete current branch %q", name)
	}

	refPath := filepath.Join(r.HxDir, "refs", "heads", name)
	if err := os.Remove(refPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("delete branch: branch %q does not exist", name)
		}
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	return nil
}

// ListBranches returns the branch names sorted alphabetically.
func (r *Repo) ListBranches() ([]string, error) {
	headsDir := filepath.Join(r.HxDir, "refs", "heads")

	entries, err := os.ReadDir(headsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list branches: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// CurrentBranch returns the branch name HEAD points at, or "" when HEAD
// is detached.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}

	const prefix = "refs/heads/"
	if strings.HasPrefix(head, prefix) {
		return strings.TrimPrefix(head, prefix), nil
	}
	return "", nil
}

// IsAncestor reports whether ancestor is reachable from tip purely by
// following parent links. A hash is considered its own ancestor. This is
// the fast-forward check used when publishing ref updates.
func (r *Repo) IsAncestor(ancestor, tip object.Hash) (bool, error) {
	if ancestor == "" {
		// Every commit descends from the unborn ref.
		return true, nil
	}
	seen := make(map[object.Hash]struct{})
	stack := []object.Hash{tip}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == "" {
			continue
		}
		if cur == ancestor {
			return true, nil
		}
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}

		commit, err := r.Store.GetCommit(cur)
		if err != nil {
			if errors.Is(err, object.ErrNotFound) {
				continue
			}
			return false, fmt.Errorf("is ancestor: %w", err)
		}
		stack = append(stack, commit.Parents...)
	}
	return false, nil
}
