package repo

import (
	"os"
	"path/filepath"
	"testing"
)

func statusFor(t *testing.T, entries []StatusEntry, path string) StatusEntry {
	t.Helper()
	for _, e := range entries {
		if e.Path == path {
			return e
		}
	}
	t.Fatalf("no status entry for %q in %+v", path, entries)
	return StatusEntry{}
}

func TestStatusCleanRepoIsEmpty(t *testing.T) {
	r := initRepoWithFile(t, "f.txt", []byte("v"))
	if _, err := r.Commit("c", "tester"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	entries, warning, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if warning != "" {
		t.Errorf("unexpected warning: %q", warning)
	}
	if len(entries) != 0 {
		t.Errorf("clean repo status = %+v, want empty", entries)
	}
}

func TestStatusUntracked(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	writeWorkFile(t, r, "loose.txt", []byte("x"))

	entries, _, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	se := statusFor(t, entries, "loose.txt")
	if se.WorkStatus != StatusUntracked {
		t.Errorf("WorkStatus = %d, want Untracked", se.WorkStatus)
	}
}

func TestStatusStagedNewAndModified(t *testing.T) {
	r := initRepoWithFile(t, "old.txt", []byte("v1"))
	if _, err := r.Commit("c", "tester"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	writeWorkFile(t, r, "old.txt", []byte("v2"))
	writeWorkFile(t, r, "new.txt", []byte("n"))
	if err := r.Add([]string{"old.txt", "new.txt"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	entries, _, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got := statusFor(t, entries, "old.txt").IndexStatus; got != StatusModified {
		t.Errorf("old.txt IndexStatus = %d, want Modified", got)
	}
	if got := statusFor(t, entries, "new.txt").IndexStatus; got != StatusNew {
		t.Errorf("new.txt IndexStatus = %d, want New", got)
	}
}

func TestStatusDirtyWorkingCopy(t *testing.T) {
	r := initRepoWithFile(t, "f.txt", []byte("staged"))
	if _, err := r.Commit("c", "tester"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Modify without re-adding. Content length changes so the stat fast
	// path cannot declare it clean.
	writeWorkFile(t, r, "f.txt", []byte("modified on disk"))

	entries, _, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got := statusFor(t, entries, "f.txt").WorkStatus; got != StatusDirty {
		t.Errorf("WorkStatus = %d, want Dirty", got)
	}
}

func TestStatusDeletedFromDisk(t *testing.T) {
	r := initRepoWithFile(t, "f.txt", []byte("v"))
	if _, err := r.Commit("c", "tester"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := os.Remove(filepath.Join(r.RootDir, "f.txt")); err != nil {
		t.Fatal(err)
	}

	entries, _, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got := statusFor(t, entries, "f.txt").WorkStatus; got != StatusDeleted {
		t.Errorf("WorkStatus = %d, want Deleted", got)
	}
}

func TestStatusStagedDeletion(t *testing.T) {
	r := initRepoWithFile(t, "f.txt", []byte("v"))
	if _, err := r.Commit("c", "tester"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := r.Remove([]string{"f.txt"}, true); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	entries, _, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got := statusFor(t, entries, "f.txt").IndexStatus; got != StatusDeleted {
		t.Errorf("IndexStatus = %d, want Deleted", got)
	}
}
