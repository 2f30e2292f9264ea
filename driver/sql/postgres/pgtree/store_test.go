package pgtree_test

import (
	"context"
	"testing"

	"github.com/dogmatiq/sqltest"
	. "github.com/dogmatiq/treekit/driver/sql/postgres/pgtree"
	"github.com/dogmatiq/treekit/tree"
)

func TestStore(t *testing.T) {
	ctx := context.Background()

	database, err := sqltest.NewDatabase(ctx, sqltest.PGXDriver, sqltest.PostgreSQL)
	if err != nil {
		t.Fatal(err)
	}

	db, err := database.Open()
	if err != nil {
		t.Fatal(err)
	}

	if err := CreateSchema(ctx, db); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatal(err)
		}

		if err := database.Close(); err != nil {
			t.Fatal(err)
		}
	})

	tree.RunTests(
		t,
		func(t *testing.T) tree.Store {
			return &Store{
				DB:    db,
				Merge: tree.ConcatMerge,
			}
		},
	)
}
