package pgtree

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/treekit/tree"
)

// Store is an implementation of [tree.Store] that stores trees in a PostgreSQL
// database.
type Store struct {
	// DB is the PostgreSQL database to use.
	DB *sql.DB

	// Merge, if non-nil, is the merge function applied by [tree.Tree.Merge].
	Merge tree.MergeFunc
}

// Open returns the tree with the given name.
func (s *Store) Open(_ context.Context, name string) (tree.Tree, error) {
	// TODO: consider creating a separate table partition for each tree
	return &pgtree{
		name:  name,
		db:    s.DB,
		merge: s.Merge,
	}, nil
}
