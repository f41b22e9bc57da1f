package repo

import (
	"testing"

	"github.com/odvcencio/hx/pkg/index"
	"github.com/odvcencio/hx/pkg/object"
)

func TestAddStagesFiles(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	writeWorkFile(t, r, "a.txt", []byte("alpha"))
	writeWorkFile(t, r, "sub/b.txt", []byte("beta"))
	if err := r.Add([]string{"a.txt", "sub/b.txt"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ix, _, err := r.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	for path, content := range map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"} {
		e, ok := ix.Lookup(path)
		if !ok {
			t.Fatalf("entry %q missing", path)
		}
		if e.Flags != index.FlagTracked|index.FlagStaged {
			t.Errorf("%q flags = %x", path, e.Flags)
		}
		if e.Hash != object.HashObject(object.TypeBlob, []byte(content)) {
			t.Errorf("%q hash mismatch", path)
		}
		if !r.Store.Has(object.TypeBlob, e.Hash) {
			t.Errorf("blob for %q not in store", path)
		}
	}
}

func TestAddRejectsNewlinePath(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	name := "bad\nname.txt"
	writeWorkFile(t, r, name, []byte("x"))
	if err := r.Add([]string{name}); err == nil {
		t.Fatal("expected error for path containing a newline")
	}

	ix, _, err := r.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if len(ix.Entries()) != 0 {
		t.Errorf("index has %d entries, want none", len(ix.Entries()))
	}
}

func TestAddManyFilesParallel(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	var paths []string
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		p := "dir/" + name + ".txt"
		writeWorkFile(t, r, p, []byte("content "+name))
		paths = append(paths, p)
	}
	if err := r.Add(paths); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ix, _, err := r.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if ix.Len() != len(paths) {
		t.Errorf("index entries = %d, want %d", ix.Len(), len(paths))
	}
}

func TestAddMissingFileFails(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := r.Add([]string{"nope.txt"}); err == nil {
		t.Error("Add of a missing file should fail")
	}
}

func TestRemoveStagesDeletion(t *testing.T) {
	r := initRepoWithFile(t, "f.txt", []byte("v"))
	if _, err := r.Commit("add", "tester"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := r.Remove([]string{"f.txt"}, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	ix, _, err := r.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	e, ok := ix.Lookup("f.txt")
	if !ok {
		t.Fatal("entry gone from index before commit")
	}
	if e.Flags&index.FlagDeleted == 0 || e.Flags&index.FlagStaged == 0 {
		t.Errorf("flags = %x, want DELETED|STAGED set", e.Flags)
	}
}

func TestRemoveUntrackedFails(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := r.Remove([]string{"stranger.txt"}, false); err == nil {
		t.Error("Remove of an untracked path should fail")
	}
}

func TestUnstageNewEntryDropsIt(t *testing.T) {
	r := initRepoWithFile(t, "new.txt", []byte("n"))

	if err := r.Unstage([]string{"new.txt"}); err != nil {
		t.Fatalf("Unstage: %v", err)
	}

	ix, _, err := r.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if _, ok := ix.Lookup("new.txt"); ok {
		t.Error("never-committed entry should leave the index on unstage")
	}
}

func TestUnstageRevertsToCommittedState(t *testing.T) {
	r := initRepoWithFile(t, "f.txt", []byte("v1"))
	if _, err := r.Commit("add", "tester"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	writeWorkFile(t, r, "f.txt", []byte("v2"))
	if err := r.Add([]string{"f.txt"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Unstage([]string{"f.txt"}); err != nil {
		t.Fatalf("Unstage: %v", err)
	}

	ix, _, err := r.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	e, ok := ix.Lookup("f.txt")
	if !ok {
		t.Fatal("entry missing after unstage")
	}
	if e.Flags&index.FlagStaged != 0 {
		t.Error("STAGED still set after unstage")
	}
	if e.Hash != object.HashObject(object.TypeBlob, []byte("v1")) {
		t.Error("unstage did not restore the committed hash")
	}
}

func TestUnstageNotStagedFails(t *testing.T) {
	r := initRepoWithFile(t, "f.txt", []byte("v"))
	if _, err := r.Commit("add", "tester"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := r.Unstage([]string{"f.txt"}); err == nil {
		t.Error("Unstage of a clean entry should fail")
	}
}
