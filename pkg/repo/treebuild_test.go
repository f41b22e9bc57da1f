package repo

import (
	"testing"

	"github.com/odvcencio/hx/pkg/index"
	"github.com/odvcencio/hx/pkg/object"
)

func stagedEntry(path, content string) *index.Entry {
	return &index.Entry{
		Path:  path,
		Hash:  object.HashBytes([]byte(content)),
		Flags: index.FlagTracked | index.FlagStaged,
		Size:  int64(len(content)),
		Mode:  0o100644,
	}
}

func testIndex(entries ...*index.Entry) *index.Index {
	ix := index.New()
	for _, e := range entries {
		ix.Set(e)
	}
	return ix
}

func TestBuildTreeDeterministicAcrossWorkerCounts(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	ix := testIndex(
		stagedEntry("zz.txt", "root file"),
		stagedEntry("pkg/a/one.go", "one"),
		stagedEntry("pkg/a/two.go", "two"),
		stagedEntry("pkg/b/three.go", "three"),
		stagedEntry("cmd/main.go", "main"),
		stagedEntry("docs/guide.md", "guide"),
	)

	serial, err := r.buildTreeWorkers(ix, 1)
	if err != nil {
		t.Fatalf("buildTreeWorkers(1): %v", err)
	}
	parallel, err := r.buildTreeWorkers(ix, 8)
	if err != nil {
		t.Fatalf("buildTreeWorkers(8): %v", err)
	}
	if serial != parallel {
		t.Errorf("root hash differs by worker count: %s vs %s", serial, parallel)
	}
}

func TestBuildTreeStructure(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	ix := testIndex(
		stagedEntry("b.txt", "b"),
		stagedEntry("a/nested.txt", "n"),
	)
	root, err := r.BuildTree(ix)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}

	tree, err := r.Store.GetTree(root)
	if err != nil {
		t.Fatalf("GetTree(root): %v", err)
	}
	if len(tree.Entries) != 2 {
		t.Fatalf("root entries = %d, want 2", len(tree.Entries))
	}
	// Sorted: "a" (dir) before "b.txt".
	if tree.Entries[0].Name != "a" || !tree.Entries[0].IsDir {
		t.Errorf("first root entry: %+v", tree.Entries[0])
	}
	if tree.Entries[1].Name != "b.txt" || tree.Entries[1].IsDir {
		t.Errorf("second root entry: %+v", tree.Entries[1])
	}

	sub, err := r.Store.GetTree(tree.Entries[0].Hash)
	if err != nil {
		t.Fatalf("GetTree(a): %v", err)
	}
	if len(sub.Entries) != 1 || sub.Entries[0].Name != "nested.txt" {
		t.Errorf("subtree entries: %+v", sub.Entries)
	}
	if sub.Entries[0].Hash != object.HashBytes([]byte("n")) {
		t.Error("nested blob hash mismatch")
	}
}

func TestBuildTreeExcludesDeleted(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	gone := stagedEntry("gone.txt", "gone")
	gone.Flags |= index.FlagDeleted
	ix := testIndex(stagedEntry("kept.txt", "kept"), gone)

	root, err := r.BuildTree(ix)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	tree, err := r.Store.GetTree(root)
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if len(tree.Entries) != 1 || tree.Entries[0].Name != "kept.txt" {
		t.Errorf("tree entries: %+v", tree.Entries)
	}
}

func TestBuildTreeExecutableMode(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	exe := stagedEntry("run.sh", "#!/bin/sh\n")
	exe.Mode = 0o100755
	root, err := r.BuildTree(testIndex(exe))
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}

	tree, err := r.Store.GetTree(root)
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if tree.Entries[0].Mode != object.TreeModeExecutable {
		t.Errorf("mode = %s, want %s", tree.Entries[0].Mode, object.TreeModeExecutable)
	}
}

func TestFlattenTreeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	paths := []string{"a/b/c.txt", "a/d.txt", "top.txt"}
	var entries []*index.Entry
	for _, p := range paths {
		entries = append(entries, stagedEntry(p, p))
	}
	root, err := r.BuildTree(testIndex(entries...))
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}

	flat, err := r.FlattenTree(root)
	if err != nil {
		t.Fatalf("FlattenTree: %v", err)
	}
	if len(flat) != len(paths) {
		t.Fatalf("flattened %d entries, want %d", len(flat), len(paths))
	}
	for i, p := range paths {
		if flat[i].Path != p {
			t.Errorf("flat[%d].Path = %q, want %q", i, flat[i].Path, p)
		}
	}
}
