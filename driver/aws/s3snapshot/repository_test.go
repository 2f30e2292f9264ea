package s3snapshot_test

import (
	"context"
	"testing"

	. "github.com/dogmatiq/treekit/driver/aws/s3snapshot"
	"github.com/dogmatiq/treekit/driver/aws/internal/s3x"
	"github.com/dogmatiq/treekit/driver/memory/memorytree"
	"github.com/dogmatiq/treekit/internal/xtesting"
	"github.com/dogmatiq/treekit/tree"
	"github.com/google/go-cmp/cmp"
)

func TestRepository(t *testing.T) {
	client := s3x.NewTestClient(t)
	bucket := "treekit-snapshots"

	t.Cleanup(func() {
		ctx := xtesting.ContextForCleanup(t)
		if err := s3x.DeleteBucketIfExists(ctx, client, bucket, nil); err != nil {
			t.Error(err)
		}
	})

	repo := NewRepository(client, bucket)
	store := &memorytree.Store{}

	t.Run("it reports the absence of a snapshot", func(t *testing.T) {
		tr := open(t, store, "absent")

		ok, err := repo.Load(t.Context(), tr)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("expected no snapshot to be found")
		}
	})

	t.Run("it restores a saved snapshot", func(t *testing.T) {
		source := open(t, store, "present")

		for _, pair := range [][2]string{
			{"<key-1>", "<value-1>"},
			{"<key-2>", "<value-2>"},
		} {
			if _, _, err := source.Set(
				t.Context(),
				[]byte(pair[0]),
				[]byte(pair[1]),
			); err != nil {
				t.Fatal(err)
			}
		}

		if err := repo.Save(t.Context(), source); err != nil {
			t.Fatal(err)
		}

		target := open(t, &memorytree.Store{}, "present")
		ok, err := repo.Load(t.Context(), target)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("expected the snapshot to be found")
		}

		if diff := cmp.Diff(
			collect(t, source),
			collect(t, target),
		); diff != "" {
			t.Fatal(diff)
		}
	})
}

func open(t *testing.T, store tree.Store, name string) tree.Tree {
	tr, err := store.Open(t.Context(), name)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if err := tr.Close(); err != nil {
			t.Error(err)
		}
	})

	return tr
}

func collect(t *testing.T, tr tree.Tree) []tree.Entry {
	var entries []tree.Entry

	if err := tr.Range(
		t.Context(),
		func(_ context.Context, k, v []byte) (bool, error) {
			entries = append(entries, tree.Entry{Key: k, Value: v})
			return true, nil
		},
	); err != nil {
		t.Fatal(err)
	}

	return entries
}
