package tree

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"testing"

	"github.com/dogmatiq/treekit/internal/xtesting"
)

// RunBenchmarks runs benchmarks against a [Store] implementation.
func RunBenchmarks(
	b *testing.B,
	newStore func(b *testing.B) Store,
) {
	b.Run("Store", func(b *testing.B) {
		b.Run("Open", func(b *testing.B) {
			b.Run("existing tree", func(b *testing.B) {
				store := newStore(b)

				var (
					name string
					tr   Tree
				)

				xtesting.Benchmark(
					b,
					// SETUP
					func(ctx context.Context) error {
						name = xtesting.SequentialName("tree")

						// pre-create the tree
						tr, err := store.Open(ctx, name)
						if err != nil {
							return err
						}
						return tr.Close()
					},
					// BEFORE EACH
					nil,
					// BENCHMARKED CODE
					func(ctx context.Context) (err error) {
						tr, err = store.Open(ctx, name)
						return err
					},
					// AFTER EACH
					func(context.Context) error {
						return tr.Close()
					},
				)
			})

			b.Run("new tree", func(b *testing.B) {
				store := newStore(b)

				var (
					name string
					tr   Tree
				)

				xtesting.Benchmark(
					b,
					// SETUP
					nil,
					// BEFORE EACH
					func(context.Context) error {
						name = xtesting.UniqueName("tree")
						return nil
					},
					// BENCHMARKED CODE
					func(ctx context.Context) (err error) {
						tr, err = store.Open(ctx, name)
						return err
					},
					// AFTER EACH
					func(context.Context) error {
						return tr.Close()
					},
				)
			})
		})
	})

	b.Run("Tree", func(b *testing.B) {
		b.Run("Get", func(b *testing.B) {
			b.Run("key exists", func(b *testing.B) {
				var key []byte

				benchmarkTree(
					b,
					newStore,
					// SETUP
					func(ctx context.Context, _ Store, tr Tree) error {
						var err error
						key, err = populate(ctx, tr, 1000)
						return err
					},
					// BEFORE EACH
					nil,
					// BENCHMARKED CODE
					func(ctx context.Context, tr Tree) error {
						_, _, err := tr.Get(ctx, key)
						return err
					},
					// AFTER EACH
					nil,
				)
			})

			b.Run("key does not exist", func(b *testing.B) {
				benchmarkTree(
					b,
					newStore,
					// SETUP
					func(ctx context.Context, _ Store, tr Tree) error {
						_, err := populate(ctx, tr, 1000)
						return err
					},
					// BEFORE EACH
					nil,
					// BENCHMARKED CODE
					func(ctx context.Context, tr Tree) error {
						_, _, err := tr.Get(ctx, []byte("<absent>"))
						return err
					},
					// AFTER EACH
					nil,
				)
			})
		})

		b.Run("Set", func(b *testing.B) {
			b.Run("new key", func(b *testing.B) {
				var key []byte

				benchmarkTree(
					b,
					newStore,
					// SETUP
					nil,
					// BEFORE EACH
					func(context.Context, Tree) error {
						var err error
						key, err = randomKey()
						return err
					},
					// BENCHMARKED CODE
					func(ctx context.Context, tr Tree) error {
						_, _, err := tr.Set(ctx, key, []byte("<value>"))
						return err
					},
					// AFTER EACH
					nil,
				)
			})

			b.Run("existing key", func(b *testing.B) {
				var key []byte

				benchmarkTree(
					b,
					newStore,
					// SETUP
					func(ctx context.Context, _ Store, tr Tree) error {
						var err error
						key, err = populate(ctx, tr, 1)
						return err
					},
					// BEFORE EACH
					nil,
					// BENCHMARKED CODE
					func(ctx context.Context, tr Tree) error {
						_, _, err := tr.Set(ctx, key, []byte("<value>"))
						return err
					},
					// AFTER EACH
					nil,
				)
			})
		})

		b.Run("CompareAndSwap", func(b *testing.B) {
			var (
				key   []byte
				value []byte
			)

			benchmarkTree(
				b,
				newStore,
				// SETUP
				func(ctx context.Context, _ Store, tr Tree) error {
					var err error
					key, err = populate(ctx, tr, 1)
					if err != nil {
						return err
					}

					value, _, err = tr.Get(ctx, key)
					return err
				},
				// BEFORE EACH
				nil,
				// BENCHMARKED CODE
				func(ctx context.Context, tr Tree) error {
					return tr.CompareAndSwap(
						ctx,
						key,
						Present(value),
						Present(value),
					)
				},
				// AFTER EACH
				nil,
			)
		})

		b.Run("Range", func(b *testing.B) {
			benchmarkTree(
				b,
				newStore,
				// SETUP
				func(ctx context.Context, _ Store, tr Tree) error {
					_, err := populate(ctx, tr, 1000)
					return err
				},
				// BEFORE EACH
				nil,
				// BENCHMARKED CODE
				func(ctx context.Context, tr Tree) error {
					return tr.Range(
						ctx,
						func(context.Context, []byte, []byte) (bool, error) {
							return true, nil
						},
					)
				},
				// AFTER EACH
				nil,
			)
		})
	})
}

func benchmarkTree(
	b *testing.B,
	newStore func(b *testing.B) Store,
	setup func(context.Context, Store, Tree) error,
	pre func(context.Context, Tree) error,
	fn func(context.Context, Tree) error,
	post func(context.Context, Tree) error,
) {
	store := newStore(b)

	var tr Tree

	xtesting.Benchmark(
		b,
		func(ctx context.Context) error {
			var err error
			tr, err = store.Open(ctx, xtesting.SequentialName("tree"))
			if err != nil {
				return err
			}

			b.Cleanup(func() {
				tr.Close()
			})

			if setup != nil {
				return setup(ctx, store, tr)
			}

			return nil
		},
		func(ctx context.Context) error {
			if pre != nil {
				return pre(ctx, tr)
			}
			return nil
		},
		func(ctx context.Context) error {
			return fn(ctx, tr)
		},
		func(ctx context.Context) error {
			if post != nil {
				return post(ctx, tr)
			}
			return nil
		},
	)
}

// populate fills tr with n entries that have random keys, and returns one of
// the keys.
func populate(ctx context.Context, tr Tree, n int) ([]byte, error) {
	var key []byte

	for range n {
		k, err := randomKey()
		if err != nil {
			return nil, err
		}

		if _, _, err := tr.Set(ctx, k, []byte("<value>")); err != nil {
			return nil, err
		}

		key = k
	}

	return key, nil
}

func randomKey() ([]byte, error) {
	k := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return nil, fmt.Errorf("unable to generate random key: %w", err)
	}
	return k, nil
}
