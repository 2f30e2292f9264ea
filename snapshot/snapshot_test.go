package snapshot_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dogmatiq/treekit/driver/memory/memorytree"
	. "github.com/dogmatiq/treekit/snapshot"
	"github.com/dogmatiq/treekit/tree"
	"github.com/google/go-cmp/cmp"
)

func TestWriteRestore(t *testing.T) {
	t.Run("it reproduces every entry", func(t *testing.T) {
		source := openTree(t, "source")

		pairs := map[string]string{
			"<key-1>": "<value-1>",
			"<key-2>": "",
			"":        "<value-3>",
		}

		for k, v := range pairs {
			if _, _, err := source.Set(t.Context(), []byte(k), []byte(v)); err != nil {
				t.Fatal(err)
			}
		}

		buf := &bytes.Buffer{}
		if err := Write(t.Context(), buf, source); err != nil {
			t.Fatal(err)
		}

		target := openTree(t, "target")
		if err := Restore(t.Context(), buf, target); err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff(
			collect(t, source),
			collect(t, target),
		); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("it restores nothing from an empty snapshot", func(t *testing.T) {
		target := openTree(t, "target")

		if err := Restore(t.Context(), &bytes.Buffer{}, target); err != nil {
			t.Fatal(err)
		}

		if entries := collect(t, target); len(entries) != 0 {
			t.Fatalf("expected no entries, got %d", len(entries))
		}
	})

	t.Run("it reports corruption when the snapshot is truncated", func(t *testing.T) {
		source := openTree(t, "source")

		if _, _, err := source.Set(t.Context(), []byte("<key>"), []byte("<value>")); err != nil {
			t.Fatal(err)
		}

		buf := &bytes.Buffer{}
		if err := Write(t.Context(), buf, source); err != nil {
			t.Fatal(err)
		}

		truncated := buf.Bytes()[:buf.Len()-1]

		target := openTree(t, "target")
		err := Restore(t.Context(), bytes.NewReader(truncated), target)
		if err == nil {
			t.Fatal("expected an error")
		}
		if !strings.Contains(err.Error(), "corrupt") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func openTree(t *testing.T, name string) tree.Tree {
	tr, err := (&memorytree.Store{}).Open(context.Background(), name)
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
