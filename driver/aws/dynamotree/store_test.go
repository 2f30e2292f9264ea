package dynamotree_test

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	. "github.com/dogmatiq/treekit/driver/aws/dynamotree"
	"github.com/dogmatiq/treekit/driver/aws/internal/dynamox"
	"github.com/dogmatiq/treekit/internal/xtesting"
	"github.com/dogmatiq/treekit/tree"
)

func TestStore(t *testing.T) {
	client, table := setup(t)
	tree.RunTests(
		t,
		func(t *testing.T) tree.Store {
			return NewStore(
				client,
				table,
				WithMerge(tree.ConcatMerge),
			)
		},
	)
}

func BenchmarkStore(b *testing.B) {
	client, table := setup(b)
	tree.RunBenchmarks(
		b,
		func(b *testing.B) tree.Store {
			return NewStore(client, table)
		},
	)
}

func setup(t testing.TB) (*dynamodb.Client, string) {
	client := dynamox.NewTestClient(t)
	table := "treestore"

	t.Cleanup(func() {
		ctx := xtesting.ContextForCleanup(t)
		if err := dynamox.DeleteTableIfExists(ctx, client, table); err != nil {
			t.Error(err)
		}
	})

	return client, table
}
