package memorytree

import (
	"context"
	"sync"

	"github.com/dogmatiq/treekit/tree"
)

// Store is an in-memory implementation of [tree.Store].
type Store struct {
	// Merge, if non-nil, is the merge function applied by [tree.Tree.Merge].
	Merge tree.MergeFunc

	// BeforeSet, if non-nil, is called before a value is set.
	BeforeSet func(tr string, k, v []byte) error

	// AfterSet, if non-nil, is called after a value is set.
	AfterSet func(tr string, k, v []byte) error

	trees sync.Map // map[string]*state
}

// Open returns the tree with the given name.
func (s *Store) Open(ctx context.Context, name string) (tree.Tree, error) {
	st, ok := s.trees.Load(name)

	if !ok {
		st, _ = s.trees.LoadOrStore(
			name,
			&state{},
		)
	}

	return &memtree{
		name:      name,
		state:     st.(*state),
		merge:     s.Merge,
		beforeSet: s.BeforeSet,
		afterSet:  s.AfterSet,
	}, ctx.Err()
}
