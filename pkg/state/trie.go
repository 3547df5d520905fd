package state

import (
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// State is the hierarchical path-to-bytes trie every action, vote, and
// code blob lives in. A path like {"entities", "alice", "public_key"}
// addresses a leaf the same way the registry's store addresses rows, but
// content lives in the tree itself rather than behind a lookup table, so
// the whole tree can be hashed into a single root.
type State struct {
	root *node
}

type node struct {
	value    []byte
	hasValue bool
	children map[string]*node
}

func newNode() *node {
	return &node{children: map[string]*node{}}
}

func New() *State {
	return &State{root: newNode()}
}

// Get returns the leaf value at path, if one was Set and not since
// Deleted.
func (s *State) Get(path []string) ([]byte, bool) {
	n := s.root
	for _, seg := range path {
		child, ok := n.children[seg]
		if !ok {
			return nil, false
		}
		n = child
	}
	if !n.hasValue {
		return nil, false
	}
	return n.value, true
}

// Set writes value at path, creating intermediate nodes as needed.
func (s *State) Set(path []string, value []byte) {
	n := s.root
	for _, seg := range path {
		child, ok := n.children[seg]
		if !ok {
			child = newNode()
			n.children[seg] = child
		}
		n = child
	}
	n.value = append([]byte(nil), value...)
	n.hasValue = true
}

// Delete removes the leaf value at path and prunes any intermediate
// nodes left empty by the removal.
func (s *State) Delete(path []string) {
	deleteRec(s.root, path)
}

func deleteRec(n *node, path []string) (empty bool) {
	if len(path) == 0 {
		n.hasValue = false
		n.value = nil
		return len(n.children) == 0
	}
	seg, rest := path[0], path[1:]
	child, ok := n.children[seg]
	if !ok {
		return !n.hasValue && len(n.children) == 0
	}
	if deleteRec(child, rest) {
		delete(n.children, seg)
	}
	return !n.hasValue && len(n.children) == 0
}

// Children returns the sorted set of immediate child path segments under
// path. It is used to enumerate entities and other path prefixes whose
// member names are not known ahead of time.
func (s *State) Children(path []string) []string {
	n := s.root
	for _, seg := range path {
		child, ok := n.children[seg]
		if !ok {
			return nil
		}
		n = child
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// leaf is one (path, value) pair used both for hashing and for snapshot
// serialization handed to sandboxed transition/consensus code.
type leaf struct {
	Path  []string `cbor:"path"`
	Value []byte   `cbor:"value"`
}

// Dump returns every leaf under path (or the whole tree if path is nil),
// in a deterministic order: children are visited in lexicographic order
// at every level, so the result does not depend on insertion history.
func (s *State) Dump(path []string) []leaf {
	n := s.root
	for _, seg := range path {
		child, ok := n.children[seg]
		if !ok {
			return nil
		}
		n = child
	}
	var out []leaf
	walk(n, append([]string(nil), path...), &out)
	return out
}

func walk(n *node, prefix []string, out *[]leaf) {
	if n.hasValue {
		p := append([]string(nil), prefix...)
		*out = append(*out, leaf{Path: p, Value: n.value})
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		walk(n.children[name], append(prefix, name), out)
	}
}

// Hash returns the root hash: sha256 of the canonical CBOR encoding of
// Dump(nil). Because Dump always visits children in sorted order, two
// trees built from the same mutations in different orders hash the same.
func (s *State) Hash() Hash {
	leaves := s.Dump(nil)
	b, err := cbor.Marshal(leaves)
	if err != nil {
		// leaf is a fixed, always-marshalable shape; a failure here would
		// indicate a cbor library bug, not a reachable runtime condition.
		panic(err)
	}
	return HashBytes(b)
}

// Apply applies mutations in order. Mutations never fail: Set and Delete
// are total functions over any path.
func (s *State) Apply(muts []Mutation) {
	for _, m := range muts {
		if m.Delete {
			s.Delete(m.Path)
		} else {
			s.Set(m.Path, m.Value)
		}
	}
}
