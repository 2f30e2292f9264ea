package tree

import "context"

// WithNamePrefix returns a [Store] that adds the given prefix to all tree
// names.
//
// [Tree.Name] returns the unprefixed name.
func WithNamePrefix(s Store, prefix string) Store {
	return prefixedStore{s, prefix}
}

// prefixedStore is a [Store] that adds a prefix to all tree names.
type prefixedStore struct {
	Store
	prefix string
}

func (s prefixedStore) Open(ctx context.Context, name string) (Tree, error) {
	t, err := s.Store.Open(ctx, s.prefix+name)
	if err != nil {
		return nil, err
	}

	return prefixedTree{t, name}, nil
}

// prefixedTree is a [Tree] opened by a [prefixedStore].
type prefixedTree struct {
	Tree
	name string
}

func (t prefixedTree) Name() string {
	return t.name
}
