package typedtree_test

import (
	"context"
	"testing"

	"github.com/dogmatiq/treekit/driver/memory/memorytree"
	"github.com/dogmatiq/treekit/marshaler"
	"github.com/dogmatiq/treekit/tree"
	. "github.com/dogmatiq/treekit/tree/typedtree"
	"github.com/google/go-cmp/cmp"
)

func TestStore(t *testing.T) {
	store := Store[
		uint64,
		string,
		marshaler.Marshaler[uint64],
		marshaler.Marshaler[string],
	]{
		Store:          &memorytree.Store{},
		KeyMarshaler:   marshaler.Uint64,
		ValueMarshaler: marshaler.String,
	}

	tr, err := store.Open(t.Context(), "<tree>")
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	pairs := map[uint64]string{
		1:   "one",
		2:   "two",
		300: "three hundred",
	}

	for k, v := range pairs {
		if _, ok, err := tr.Set(t.Context(), k, v); err != nil || ok {
			t.Fatalf("unexpected result setting key %d: %t, %v", k, ok, err)
		}
	}

	t.Run("it round-trips values", func(t *testing.T) {
		for k, expect := range pairs {
			v, ok, err := tr.Get(t.Context(), k)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatalf("expected key %d to be present", k)
			}
			if v != expect {
				t.Fatalf("unexpected value for key %d: got %q, want %q", k, v, expect)
			}
		}
	})

	t.Run("it iterates in numeric key order", func(t *testing.T) {
		var keys []uint64
		if err := tr.Range(
			t.Context(),
			func(_ context.Context, k uint64, _ string) (bool, error) {
				keys = append(keys, k)
				return true, nil
			},
		); err != nil {
			t.Fatal(err)
		}

		// 300 marshals to a greater byte sequence than 2 because keys are
		// fixed-width big-endian.
		if diff := cmp.Diff([]uint64{1, 2, 300}, keys); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it performs typed directional lookups", func(t *testing.T) {
		e, ok, err := tr.Max(t.Context())
		if err != nil || !ok {
			t.Fatalf("expected a maximum entry: %t, %v", ok, err)
		}
		if e.Key != 300 {
			t.Fatalf("unexpected maximum key: %d", e.Key)
		}

		e, ok, err = tr.Succ(t.Context(), 2)
		if err != nil || !ok {
			t.Fatalf("expected a successor: %t, %v", ok, err)
		}
		if e.Key != 300 {
			t.Fatalf("unexpected successor key: %d", e.Key)
		}

		e, ok, err = tr.Pred(t.Context(), 2)
		if err != nil || !ok {
			t.Fatalf("expected a predecessor: %t, %v", ok, err)
		}
		if e.Key != 1 {
			t.Fatalf("unexpected predecessor key: %d", e.Key)
		}
	})

	t.Run("it swaps typed values conditionally", func(t *testing.T) {
		one := "one"
		uno := "uno"

		if err := tr.CompareAndSwap(t.Context(), 1, &one, &uno); err != nil {
			t.Fatal(err)
		}

		err := tr.CompareAndSwap(t.Context(), 1, &one, nil)
		if !tree.IsConflict(err) {
			t.Fatalf("expected a conflict, got %v", err)
		}

		if err := tr.CompareAndSwap(t.Context(), 1, &uno, nil); err != nil {
			t.Fatal(err)
		}

		if _, ok, err := tr.Get(t.Context(), 1); err != nil || ok {
			t.Fatalf("expected key 1 to be deleted: %t, %v", ok, err)
		}
	})

	t.Run("it removes entries", func(t *testing.T) {
		prev, ok, err := tr.Delete(t.Context(), 2)
		if err != nil {
			t.Fatal(err)
		}
		if !ok || prev != "two" {
			t.Fatalf("unexpected removed value: %q, %t", prev, ok)
		}
	})
}
