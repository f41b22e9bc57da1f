package object

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ObjectRecord pairs an object's id and kind with its raw content, for
// graph walks and wire transfer.
type ObjectRecord struct {
	Hash Hash
	Type ObjectType
	Data []byte
}

type typedRef struct {
	objType ObjectType
	hash    Hash
}

// referencedHashes returns the ids an object points at, with their kinds.
func referencedHashes(objType ObjectType, data []byte) ([]typedRef, error) {
	switch objType {
	case TypeBlob:
		return nil, nil
	case TypeCommit:
		commit, err := UnmarshalCommit(data)
		if err != nil {
			return nil, err
		}
		refs := make([]typedRef, 0, 1+len(commit.Parents))
		refs = append(refs, typedRef{TypeTree, commit.TreeHash})
		for _, p := range commit.Parents {
			refs = append(refs, typedRef{TypeCommit, p})
		}
		return refs, nil
	case TypeTree:
		tree, err := UnmarshalTree(data)
		if err != nil {
			return nil, err
		}
		refs := make([]typedRef, 0, len(tree.Entries))
		for _, e := range tree.Entries {
			if e.IsDir {
				refs = append(refs, typedRef{TypeTree, e.Hash})
			} else {
				refs = append(refs, typedRef{TypeBlob, e.Hash})
			}
		}
		return refs, nil
	default:
		return nil, fmt.Errorf("unsupported object type %q", objType)
	}
}

// ReachableSet returns all local object hashes reachable from the given
// commit roots. Roots missing from the store are ignored, so a stop set
// can safely include tips the local store has never seen.
func (s *Store) ReachableSet(roots []Hash) (map[Hash]struct{}, error) {
	out := make(map[Hash]struct{})
	stack := make([]typedRef, 0, len(roots))
	for _, h := range uniqueHashes(roots) {
		stack = append(stack, typedRef{TypeCommit, h})
	}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.hash == "" {
			continue
		}
		if _, ok := out[cur.hash]; ok {
			continue
		}
		if !s.Has(cur.objType, cur.hash) {
			continue
		}
		out[cur.hash] = struct{}{}

		data, err := s.Get(cur.objType, cur.hash)
		if err != nil {
			return nil, fmt.Errorf("reachable: %w", err)
		}
		refs, err := referencedHashes(cur.objType, data)
		if err != nil {
			return nil, fmt.Errorf("reachable: parse %s %s: %w", cur.objType, cur.hash, err)
		}
		stack = append(stack, refs...)
	}

	return out, nil
}

// CollectDelta returns the objects reachable from the given commit roots
// but not reachable from stopRoots, in dependency order: every object
// appears after everything it references (blobs before trees, trees
// before their commit, parent commits before children). A receiver
// consuming the records in order can validate structural references on
// the fly.
func (s *Store) CollectDelta(roots, stopRoots []Hash) ([]ObjectRecord, error) {
	roots = uniqueHashes(roots)
	if len(roots) == 0 {
		return nil, errors.New("at least one root hash is required")
	}

	stopSet, err := s.ReachableSet(stopRoots)
	if err != nil {
		return nil, err
	}

	var records []ObjectRecord
	emitted := make(map[Hash]struct{})

	// Post-order visit over the object DAG: a node is emitted only after
	// everything it references has been. The graph is acyclic (objects
	// are keyed by content), so memoized recursion visits each node once.
	var visit func(ref typedRef) error
	visit = func(ref typedRef) error {
		if ref.hash == "" {
			return nil
		}
		if _, ok := emitted[ref.hash]; ok {
			return nil
		}
		if _, ok := stopSet[ref.hash]; ok {
			return nil
		}

		data, err := s.Get(ref.objType, ref.hash)
		if err != nil {
			return fmt.Errorf("collect delta: %w", err)
		}
		refs, err := referencedHashes(ref.objType, data)
		if err != nil {
			return fmt.Errorf("collect delta: parse %s %s: %w", ref.objType, ref.hash, err)
		}
		for _, child := range refs {
			if err := visit(child); err != nil {
				return err
			}
		}

		emitted[ref.hash] = struct{}{}
		records = append(records, ObjectRecord{Hash: ref.hash, Type: ref.objType, Data: data})
		return nil
	}

	for _, h := range roots {
		if err := visit(typedRef{TypeCommit, h}); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// WriteVerified validates an incoming record against its claimed hash and
// writes it, reporting whether the object was new to the store.
func (s *Store) WriteVerified(rec ObjectRecord) (bool, error) {
	if strings.TrimSpace(string(rec.Hash)) == "" {
		return false, errors.New("object hash is required")
	}
	switch rec.Type {
	case TypeBlob, TypeTree, TypeCommit:
	default:
		return false, fmt.Errorf("unsupported object type %q", rec.Type)
	}
	computed := HashObject(rec.Type, rec.Data)
	if computed != rec.Hash {
		return false, fmt.Errorf("object hash mismatch: expected %s, got %s", rec.Hash, computed)
	}
	alreadyPresent := s.Has(rec.Type, rec.Hash)
	written, err := s.Put(rec.Type, rec.Data)
	if err != nil {
		return false, err
	}
	if written != rec.Hash {
		return false, fmt.Errorf("object write mismatch: expected %s, wrote %s", rec.Hash, written)
	}
	return !alreadyPresent, nil
}

func uniqueHashes(in []Hash) []Hash {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[Hash]struct{}, len(in))
	out := make([]Hash, 0, len(in))
	for _, h := range in {
		h = Hash(strings.TrimSpace(string(h)))
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
