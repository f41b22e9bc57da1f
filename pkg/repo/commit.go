package repo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/hx/pkg/index"
	"github.com/odvcencio/hx/pkg/object"
)

// ErrDanglingReference reports a commit whose tree or parent does not
// exist in the object store.
var ErrDanglingReference = errors.New("dangling reference")

// ErrNothingStaged reports a commit attempt with an empty staging set.
var ErrNothingStaged = errors.New("nothing staged")

// CreateCommit writes a commit object after verifying that the tree and
// every parent exist in the store. A missing referent fails with
// ErrDanglingReference before anything is written. The author occupies
// one header line of the serialized commit, so control characters in it
// are rejected; a newline there would let the author spill into forged
// header lines.
func (r *Repo) CreateCommit(tree object.Hash, parents []object.Hash, author, message string) (object.Hash, error) {
	if strings.ContainsFunc(author, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return "", fmt.Errorf("create commit: author %q contains control characters", author)
	}
	if !r.Store.Has(object.TypeTree, tree) {
		return "", fmt.Errorf("create commit: tree %s: %w", tree, ErrDanglingReference)
	}
	for _, p := range parents {
		if !r.Store.Has(object.TypeCommit, p) {
			return "", fmt.Errorf("create commit: parent %s: %w", p, ErrDanglingReference)
		}
	}

	h, err := r.Store.PutCommit(&object.CommitObj{
		TreeHash:  tree,
		Parents:   parents,
		Author:    author,
		Timestamp: time.Now().Unix(),
		Message:   message,
	})
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}
	return h, nil
}

// Commit creates a new commit from the staged index entries.
//
//  1. Load the index; fail with ErrNothingStaged if no entry is staged.
//  2. Build the tree from the index.
//  3. Resolve HEAD for the parent commit (absent on the first commit).
//  4. Write the commit object.
//  5. Publish it to the current branch with a compare-and-swap against
//     the old tip.
//  6. Clear STAGED flags and drop DELETED entries from the index.
func (r *Repo) Commit(message, author string) (object.Hash, error) {
	var commitHash object.Hash

	err := index.Update(r.IndexPath(), index.DefaultLockTimeout, func(ix *index.Index) error {
		if len(ix.Staged()) == 0 {
			return ErrNothingStaged
		}

		treeHash, err := r.BuildTree(ix)
		if err != nil {
			return fmt.Errorf("build tree: %w", err)
		}

		parentHash, err := r.ResolveRef("HEAD")
		if err != nil {
			return fmt.Errorf("resolve HEAD: %w", err)
		}
		var parents []object.Hash
		if parentHash != "" {
			parents = append(parents, parentHash)
		}

		commitHash, err = r.CreateCommit(treeHash, parents, author, message)
		if err != nil {
			return err
		}

		if err := r.advanceHead(commitHash, parentHash); err != nil {
			return err
		}

		// Committed entries become clean; deletions leave the index.
		for _, e := range ix.Entries() {
			if e.Flags&index.FlagDeleted != 0 {
				ix.Remove(e.Path)
				continue
			}
			e.Flags &^= index.FlagStaged
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return commitHash, nil
}

// advanceHead moves the current branch (or a detached HEAD) to h with a
// compare-and-swap against oldTip.
func (r *Repo) advanceHead(h, oldTip object.Hash) error {
	head, err := r.Head()
	if err != nil {
		return fmt.Errorf("read HEAD: %w", err)
	}

	if strings.HasPrefix(head, "refs/") {
		if err := r.UpdateRefCAS(head, h, oldTip); err != nil {
			return fmt.Errorf("update ref %q: %w", head, err)
		}
		return nil
	}
	if err := r.UpdateRefCAS("HEAD", h, oldTip); err != nil {
		return fmt.Errorf("update detached HEAD: %w", err)
	}
	return nil
}

// LogEntry pairs a commit with its hash for history listings.
type LogEntry struct {
	Hash   object.Hash
	Commit *object.CommitObj
}

// Log walks the commit history from start, following first-parent links,
// returning up to limit commits newest first. A limit <= 0 means no
// limit.
func (r *Repo) Log(start object.Hash, limit int) ([]LogEntry, error) {
	var entries []LogEntry
	current := start

	for current != "" && (limit <= 0 || len(entries) < limit) {
		c, err := r.Store.GetCommit(current)
		if err != nil {
			if errors.Is(err, object.ErrNotFound) {
				break
			}
			return nil, fmt.Errorf("log: read commit %s: %w", current, err)
		}
		entries = append(entries, LogEntry{Hash: current, Commit: c})

		if len(c.Parents) == 0 {
			break
		}
		current = c.Parents[0]
	}
	return entries, nil
}
