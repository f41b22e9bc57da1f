package repo

import (
	"errors"
	"strings"
	"testing"

	"github.com/odvcencio/hx/pkg/index"
	"github.com/odvcencio/hx/pkg/object"
)

func TestCommitFirstThenSecondLinksParent(t *testing.T) {
	r := initRepoWithFile(t, "f.txt", []byte("v1"))

	first, err := r.Commit("first", "tester")
	if err != nil {
		t.Fatalf("Commit(first): %v", err)
	}

	c1, err := r.Store.GetCommit(first)
	if err != nil {
		t.Fatalf("GetCommit(first): %v", err)
	}
	if len(c1.Parents) != 0 {
		t.Errorf("first commit parents = %v, want none", c1.Parents)
	}
	if c1.Author != "tester" || c1.Message != "first" {
		t.Errorf("commit fields: %+v", c1)
	}

	writeWorkFile(t, r, "f.txt", []byte("v2"))
	if err := r.Add([]string{"f.txt"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := r.Commit("second", "tester")
	if err != nil {
		t.Fatalf("Commit(second): %v", err)
	}

	c2, err := r.Store.GetCommit(second)
	if err != nil {
		t.Fatalf("GetCommit(second): %v", err)
	}
	if len(c2.Parents) != 1 || c2.Parents[0] != first {
		t.Errorf("second commit parents = %v, want [%s]", c2.Parents, first)
	}
	if c2.TreeHash == c1.TreeHash {
		t.Error("tree hash unchanged despite content change")
	}

	head, err := r.ResolveRef("HEAD")
	if err != nil {
		t.Fatalf("ResolveRef(HEAD): %v", err)
	}
	if head != second {
		t.Errorf("HEAD = %s, want %s", head, second)
	}
}

func TestCommitFileNameWithSpacesReadable(t *testing.T) {
	r := initRepoWithFile(t, "my file.txt", []byte("hello"))

	h, err := r.Commit("spaced name", "tester")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	c, err := r.Store.GetCommit(h)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	flat, err := r.FlattenTree(c.TreeHash)
	if err != nil {
		t.Fatalf("FlattenTree: %v", err)
	}
	if len(flat) != 1 || flat[0].Path != "my file.txt" {
		t.Errorf("flattened tree = %+v, want single entry %q", flat, "my file.txt")
	}
}

func TestCreateCommitRejectsControlAuthor(t *testing.T) {
	r := initRepoWithFile(t, "f.txt", []byte("v1"))
	base, err := r.Commit("base", "tester")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	c, err := r.Store.GetCommit(base)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}

	// A newline in the author would spill into a forged header line.
	forged := "mallory\nparent " + string(base)
	if _, err := r.CreateCommit(c.TreeHash, []object.Hash{base}, forged, "msg"); err == nil {
		t.Fatal("expected error for author containing a newline")
	}
	if _, err := r.CreateCommit(c.TreeHash, []object.Hash{base}, "tab\tauthor", "msg"); err == nil {
		t.Fatal("expected error for author containing a control character")
	}
}

func TestCommitNothingStaged(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, err := r.Commit("empty", "tester"); !errors.Is(err, ErrNothingStaged) {
		t.Errorf("expected ErrNothingStaged, got %v", err)
	}
}

func TestCommitClearsStagedFlags(t *testing.T) {
	r := initRepoWithFile(t, "f.txt", []byte("v1"))
	if _, err := r.Commit("c", "tester"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ix, _, err := r.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	e, ok := ix.Lookup("f.txt")
	if !ok {
		t.Fatal("entry missing after commit")
	}
	if e.Flags&index.FlagStaged != 0 {
		t.Error("STAGED flag not cleared by commit")
	}
	if e.Flags&index.FlagTracked == 0 {
		t.Error("TRACKED flag lost by commit")
	}

	// A second commit without new staging must be refused.
	if _, err := r.Commit("again", "tester"); !errors.Is(err, ErrNothingStaged) {
		t.Errorf("expected ErrNothingStaged after clean commit, got %v", err)
	}
}

func TestCommitDropsDeletedEntries(t *testing.T) {
	r := initRepoWithFile(t, "doomed.txt", []byte("bye"))
	if _, err := r.Commit("add", "tester"); err != nil {
		t.Fatalf("Commit(add): %v", err)
	}

	if err := r.Remove([]string{"doomed.txt"}, true); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Commit("delete", "tester"); err != nil {
		t.Fatalf("Commit(delete): %v", err)
	}

	ix, _, err := r.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if _, ok := ix.Lookup("doomed.txt"); ok {
		t.Error("deleted entry survived the commit")
	}

	// The committed tree no longer carries the file.
	head, err := r.ResolveRef("HEAD")
	if err != nil {
		t.Fatal(err)
	}
	c, err := r.Store.GetCommit(head)
	if err != nil {
		t.Fatal(err)
	}
	flat, err := r.FlattenTree(c.TreeHash)
	if err != nil {
		t.Fatalf("FlattenTree: %v", err)
	}
	if len(flat) != 0 {
		t.Errorf("tree still has %d files: %+v", len(flat), flat)
	}
}

func TestCreateCommitDanglingReferences(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	bogus := object.Hash(strings.Repeat("f", 64))

	if _, err := r.CreateCommit(bogus, nil, "tester", "m"); !errors.Is(err, ErrDanglingReference) {
		t.Errorf("missing tree: expected ErrDanglingReference, got %v", err)
	}

	tree, err := r.Store.PutTree(&object.TreeObj{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateCommit(tree, []object.Hash{bogus}, "tester", "m"); !errors.Is(err, ErrDanglingReference) {
		t.Errorf("missing parent: expected ErrDanglingReference, got %v", err)
	}
}

func TestLogFirstParentWalk(t *testing.T) {
	r := initRepoWithFile(t, "f.txt", []byte("v1"))

	var hashes []object.Hash
	for i, msg := range []string{"one", "two", "three"} {
		if i > 0 {
			writeWorkFile(t, r, "f.txt", []byte(msg))
			if err := r.Add([]string{"f.txt"}); err != nil {
				t.Fatalf("Add: %v", err)
			}
		}
		h, err := r.Commit(msg, "tester")
		if err != nil {
			t.Fatalf("Commit(%s): %v", msg, err)
		}
		hashes = append(hashes, h)
	}

	entries, err := r.Log(hashes[2], 0)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("log entries = %d, want 3", len(entries))
	}
	// Newest first.
	wantMsgs := []string{"three", "two", "one"}
	for i, want := range wantMsgs {
		if entries[i].Commit.Message != want {
			t.Errorf("entry %d message = %q, want %q", i, entries[i].Commit.Message, want)
		}
		if entries[i].Hash != hashes[2-i] {
			t.Errorf("entry %d hash mismatch", i)
		}
	}

	limited, err := r.Log(hashes[2], 2)
	if err != nil {
		t.Fatalf("Log(limit 2): %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited log entries = %d, want 2", len(limited))
	}
}
