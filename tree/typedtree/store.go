// Package typedtree adds type-safety to an underlying [tree.Store] by
// marshaling keys and values of arbitrary types to their binary
// representations.
//
// The key marshaler must preserve ordering: the lexicographic order of
// marshaled keys must match the intended order of the keys themselves,
// otherwise iteration and directional lookups produce surprising results.
package typedtree

import (
	"context"

	"github.com/dogmatiq/treekit/tree"
)

// Store is a collection of trees that map keys of type K to values of type V.
type Store[K, V any, KM Marshaler[K], VM Marshaler[V]] struct {
	tree.Store
	KeyMarshaler   KM
	ValueMarshaler VM
}

// Open returns the tree with the given name.
func (s Store[K, V, KM, VM]) Open(ctx context.Context, name string) (Tree[K, V, KM, VM], error) {
	t, err := s.Store.Open(ctx, name)
	return Tree[K, V, KM, VM]{t, s.KeyMarshaler, s.ValueMarshaler}, err
}
