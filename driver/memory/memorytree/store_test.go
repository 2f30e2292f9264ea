package memorytree_test

import (
	"testing"

	. "github.com/dogmatiq/treekit/driver/memory/memorytree"
	"github.com/dogmatiq/treekit/tree"
)

func TestStore(t *testing.T) {
	tree.RunTests(
		t,
		func(t *testing.T) tree.Store {
			return &Store{
				Merge: tree.ConcatMerge,
			}
		},
	)
}

func BenchmarkStore(b *testing.B) {
	tree.RunBenchmarks(
		b,
		func(b *testing.B) tree.Store {
			return &Store{}
		},
	)
}
