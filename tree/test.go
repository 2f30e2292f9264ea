package tree

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/dogmatiq/treekit/internal/xtesting"
	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

// RunTests runs tests that confirm a [Store] implementation behaves correctly.
//
// If the store supports a configurable merge function it must be configured
// with [ConcatMerge]; otherwise the merge tests are skipped.
func RunTests(
	t *testing.T,
	newStore func(t *testing.T) Store,
) {
	setup := func(t *testing.T) Tree {
		name := xtesting.SequentialName("tree")

		tr, err := newStore(t).Open(t.Context(), name)
		if err != nil {
			t.Fatal(err)
		}

		t.Cleanup(func() {
			if err := tr.Close(); err != nil {
				t.Error(err)
			}
		})

		if tr.Name() != name {
			t.Fatalf("unexpected tree name: got %q, want %q", tr.Name(), name)
		}

		return tr
	}

	openHandles := func(t *testing.T, store Store, name string, n int) []Tree {
		t.Helper()

		handles := make([]Tree, n)

		for i := range handles {
			tr, err := store.Open(t.Context(), name)
			if err != nil {
				t.Fatal(err)
			}

			t.Cleanup(func() {
				if err := tr.Close(); err != nil {
					t.Error(err)
				}
			})

			handles[i] = tr
		}

		return handles
	}

	set := func(t testing.TB, tr Tree, pairs ...string) {
		t.Helper()

		if len(pairs)%2 != 0 {
			panic("pairs must be key/value pairs")
		}

		for i := 0; i < len(pairs); i += 2 {
			if _, _, err := tr.Set(
				t.Context(),
				[]byte(pairs[i]),
				[]byte(pairs[i+1]),
			); err != nil {
				t.Fatal(err)
			}
		}
	}

	collect := func(t testing.TB, rng func(context.Context, RangeFunc) error) []Entry {
		t.Helper()

		var entries []Entry
		if err := rng(
			t.Context(),
			func(_ context.Context, k, v []byte) (bool, error) {
				entries = append(entries, Entry{k, v})
				return true, nil
			},
		); err != nil {
			t.Fatal(err)
		}

		return entries
	}

	expectEntries := func(t testing.TB, actual []Entry, pairs ...string) {
		t.Helper()

		var expect []Entry
		for i := 0; i < len(pairs); i += 2 {
			expect = append(expect, Entry{
				Key:   []byte(pairs[i]),
				Value: []byte(pairs[i+1]),
			})
		}

		if diff := cmp.Diff(expect, actual); diff != "" {
			t.Fatal(diff)
		}
	}

	expectEntry := func(t testing.TB, e Entry, ok bool, err error, key, value string) {
		t.Helper()

		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("expected entry %q, got none", key)
		}
		if !bytes.Equal(e.Key, []byte(key)) || !bytes.Equal(e.Value, []byte(value)) {
			t.Fatalf(
				"unexpected entry: got (%q, %q), want (%q, %q)",
				string(e.Key),
				string(e.Value),
				key,
				value,
			)
		}
	}

	expectNoEntry := func(t testing.TB, ok bool, err error) {
		t.Helper()

		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("expected no entry")
		}
	}

	t.Run("Store", func(t *testing.T) {
		t.Parallel()

		t.Run("Open", func(t *testing.T) {
			t.Parallel()

			t.Run("allows trees to be opened multiple times", func(t *testing.T) {
				t.Parallel()

				store := newStore(t)

				tr1, err := store.Open(t.Context(), "<tree>")
				if err != nil {
					t.Fatal(err)
				}
				defer tr1.Close()

				tr2, err := store.Open(t.Context(), "<tree>")
				if err != nil {
					t.Fatal(err)
				}
				defer tr2.Close()

				expect := []byte("<value>")
				if _, _, err := tr1.Set(t.Context(), []byte("<key>"), expect); err != nil {
					t.Fatal(err)
				}

				actual, ok, err := tr2.Get(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected key to be present")
				}

				if !bytes.Equal(expect, actual) {
					t.Fatalf(
						"unexpected value, want %q, got %q",
						string(expect),
						string(actual),
					)
				}
			})

			t.Run("isolates trees with different names", func(t *testing.T) {
				t.Parallel()

				store := newStore(t)

				tr1, err := store.Open(t.Context(), xtesting.SequentialName("tree"))
				if err != nil {
					t.Fatal(err)
				}
				defer tr1.Close()

				tr2, err := store.Open(t.Context(), xtesting.SequentialName("tree"))
				if err != nil {
					t.Fatal(err)
				}
				defer tr2.Close()

				if _, _, err := tr1.Set(t.Context(), []byte("<key>"), []byte("<value>")); err != nil {
					t.Fatal(err)
				}

				_, ok, err := tr2.Get(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if ok {
					t.Fatal("expected key to be absent in the other tree")
				}
			})
		})
	})

	t.Run("Tree", func(t *testing.T) {
		t.Parallel()

		t.Run("Get", func(t *testing.T) {
			t.Parallel()

			t.Run("it reports absence if the key doesn't exist", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)

				_, ok, err := tr.Get(t.Context(), []byte("<key>"))
				expectNoEntry(t, ok, err)
			})

			t.Run("it reports absence if the key has been deleted", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "<value>")

				if _, _, err := tr.Delete(t.Context(), []byte("<key>")); err != nil {
					t.Fatal(err)
				}

				_, ok, err := tr.Get(t.Context(), []byte("<key>"))
				expectNoEntry(t, ok, err)
			})

			t.Run("it returns the value if the key exists", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(
					t, tr,
					"<key-1>", "<value-1>",
					"<key-2>", "<value-2>",
				)

				v, ok, err := tr.Get(t.Context(), []byte("<key-2>"))
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected key to be present")
				}
				if !bytes.Equal(v, []byte("<value-2>")) {
					t.Fatalf("unexpected value: got %q, want %q", string(v), "<value-2>")
				}
			})

			t.Run("it distinguishes an empty value from an absent key", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "")

				v, ok, err := tr.Get(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected key with empty value to be present")
				}
				if len(v) != 0 {
					t.Fatalf("expected empty value, got %q", string(v))
				}
			})

			t.Run("it does not return its internal byte slice", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "<value>")

				v, _, err := tr.Get(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}

				v[0] = 'X'

				actual, _, err := tr.Get(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}

				if expect := []byte("<value>"); !bytes.Equal(expect, actual) {
					t.Fatalf(
						"unexpected value, want %q, got %q",
						string(expect),
						string(actual),
					)
				}
			})
		})

		t.Run("Set", func(t *testing.T) {
			t.Parallel()

			t.Run("it reports no previous value for a new key", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)

				_, ok, err := tr.Set(t.Context(), []byte("<key>"), []byte("<value>"))
				expectNoEntry(t, ok, err)
			})

			t.Run("it returns the previous value when replacing", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "<value-1>")

				prev, ok, err := tr.Set(t.Context(), []byte("<key>"), []byte("<value-2>"))
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected a previous value")
				}
				if !bytes.Equal(prev, []byte("<value-1>")) {
					t.Fatalf("unexpected previous value: got %q, want %q", string(prev), "<value-1>")
				}
			})

			t.Run("it does not keep a reference to the key or value slices", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)

				k := []byte("<key>")
				v := []byte("<value>")

				if _, _, err := tr.Set(t.Context(), k, v); err != nil {
					t.Fatal(err)
				}

				k[0] = 'X'
				v[0] = 'X'

				actual, ok, err := tr.Get(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected key to be present")
				}

				if expect := []byte("<value>"); !bytes.Equal(expect, actual) {
					t.Fatalf(
						"unexpected value, want %q, got %q",
						string(expect),
						string(actual),
					)
				}
			})
		})

		t.Run("Delete", func(t *testing.T) {
			t.Parallel()

			t.Run("it reports absence when deleting a non-existent key", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)

				_, ok, err := tr.Delete(t.Context(), []byte("<key>"))
				expectNoEntry(t, ok, err)
			})

			t.Run("it returns the removed value", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "<value>")

				prev, ok, err := tr.Delete(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected the removed value")
				}
				if !bytes.Equal(prev, []byte("<value>")) {
					t.Fatalf("unexpected removed value: got %q, want %q", string(prev), "<value>")
				}

				_, ok, err = tr.Get(t.Context(), []byte("<key>"))
				expectNoEntry(t, ok, err)
			})
		})

		t.Run("CompareAndSwap", func(t *testing.T) {
			t.Parallel()

			t.Run("it swaps when the expected value matches", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "<value-1>")

				if err := tr.CompareAndSwap(
					t.Context(),
					[]byte("<key>"),
					Present([]byte("<value-1>")),
					Present([]byte("<value-2>")),
				); err != nil {
					t.Fatal(err)
				}

				v, _, err := tr.Get(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(v, []byte("<value-2>")) {
					t.Fatalf("unexpected value: got %q, want %q", string(v), "<value-2>")
				}
			})

			t.Run("it creates the key when absence is expected", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)

				if err := tr.CompareAndSwap(
					t.Context(),
					[]byte("<key>"),
					Absent(),
					Present([]byte("<value>")),
				); err != nil {
					t.Fatal(err)
				}

				v, ok, err := tr.Get(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected key to be present")
				}
				if !bytes.Equal(v, []byte("<value>")) {
					t.Fatalf("unexpected value: got %q, want %q", string(v), "<value>")
				}
			})

			t.Run("it deletes the key when the proposed value is absent", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "<value>")

				if err := tr.CompareAndSwap(
					t.Context(),
					[]byte("<key>"),
					Present([]byte("<value>")),
					Absent(),
				); err != nil {
					t.Fatal(err)
				}

				_, ok, err := tr.Get(t.Context(), []byte("<key>"))
				expectNoEntry(t, ok, err)
			})

			t.Run("it succeeds when both values are absent", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)

				if err := tr.CompareAndSwap(
					t.Context(),
					[]byte("<key>"),
					Absent(),
					Absent(),
				); err != nil {
					t.Fatal(err)
				}

				_, ok, err := tr.Get(t.Context(), []byte("<key>"))
				expectNoEntry(t, ok, err)
			})

			t.Run("it refuses the swap when the expectation is stale", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "<value-2>")

				err := tr.CompareAndSwap(
					t.Context(),
					[]byte("<key>"),
					Present([]byte("<value-1>")),
					Present([]byte("<value-3>")),
				)
				if !IsConflict(err) {
					t.Fatalf("expected a conflict, got %v", err)
				}

				var conflict ConflictError
				if !errors.As(err, &conflict) {
					t.Fatal("expected a ConflictError")
				}

				if !conflict.Current.Equal(Present([]byte("<value-2>"))) {
					t.Fatalf(
						"unexpected current value in conflict: got %s, want %q",
						conflict.Current,
						"<value-2>",
					)
				}

				v, _, err := tr.Get(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(v, []byte("<value-2>")) {
					t.Fatal("a refused swap must not modify the value")
				}
			})

			t.Run("it refuses the swap when the key is unexpectedly present", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "<value>")

				err := tr.CompareAndSwap(
					t.Context(),
					[]byte("<key>"),
					Absent(),
					Present([]byte("<other>")),
				)
				if !IsConflict(err) {
					t.Fatalf("expected a conflict, got %v", err)
				}

				var conflict ConflictError
				errors.As(err, &conflict)

				if !conflict.Current.Equal(Present([]byte("<value>"))) {
					t.Fatalf("unexpected current value in conflict: got %s", conflict.Current)
				}
			})

			t.Run("it refuses the swap when the key is unexpectedly absent", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)

				err := tr.CompareAndSwap(
					t.Context(),
					[]byte("<key>"),
					Present([]byte("<value>")),
					Absent(),
				)
				if !IsConflict(err) {
					t.Fatalf("expected a conflict, got %v", err)
				}

				var conflict ConflictError
				errors.As(err, &conflict)

				if conflict.Current.IsPresent() {
					t.Fatalf("expected the current value to be absent, got %s", conflict.Current)
				}
			})

			t.Run("it does not equate an empty value with absence", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "")

				err := tr.CompareAndSwap(
					t.Context(),
					[]byte("<key>"),
					Absent(),
					Present([]byte("<value>")),
				)
				if !IsConflict(err) {
					t.Fatalf("expected a conflict, got %v", err)
				}

				var conflict ConflictError
				errors.As(err, &conflict)

				if !conflict.Current.Equal(Present(nil)) {
					t.Fatalf("expected the current value to be present and empty, got %s", conflict.Current)
				}
			})

			t.Run("it permits only one concurrent swap of an absent key", func(t *testing.T) {
				t.Parallel()

				// Each writer uses its own handle to the same tree; a handle
				// is not required to be safe for concurrent use.
				store := newStore(t)
				name := xtesting.SequentialName("tree")
				k := []byte("<key>")

				const n = 8

				var (
					wg      sync.WaitGroup
					results [n]error
				)

				handles := openHandles(t, store, name, n)

				for i := range n {
					wg.Add(1)
					go func() {
						defer wg.Done()
						results[i] = handles[i].CompareAndSwap(
							t.Context(),
							k,
							Absent(),
							Present([]byte{byte(i)}),
						)
					}()
				}

				wg.Wait()

				winner := -1
				for i, err := range results {
					switch {
					case err == nil:
						if winner != -1 {
							t.Fatalf("expected a single swap to succeed, but #%d and #%d both did", winner, i)
						}
						winner = i
					case !IsConflict(err):
						t.Fatal(err)
					}
				}

				if winner == -1 {
					t.Fatal("expected one swap to succeed")
				}

				v, ok, err := handles[0].Get(t.Context(), k)
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected the key to be present")
				}
				if !bytes.Equal(v, []byte{byte(winner)}) {
					t.Fatalf("expected the value proposed by swap #%d, got %v", winner, v)
				}
			})
		})

		t.Run("Merge", func(t *testing.T) {
			t.Parallel()

			t.Run("it merges with absence when the key doesn't exist", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)

				v, ok, err := tr.Merge(t.Context(), []byte("<key>"), []byte("<operand>"))
				if errors.Is(err, ErrNoMerge) {
					t.Skip("store has no merge function configured")
				}
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected the merged value to be present")
				}
				if !bytes.Equal(v, []byte("<operand>")) {
					t.Fatalf("unexpected merged value: got %q, want %q", string(v), "<operand>")
				}
			})

			t.Run("it merges with the existing value", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "<value>")

				v, ok, err := tr.Merge(t.Context(), []byte("<key>"), []byte("<operand>"))
				if errors.Is(err, ErrNoMerge) {
					t.Skip("store has no merge function configured")
				}
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected the merged value to be present")
				}

				expect := []byte("<value><operand>")
				if !bytes.Equal(v, expect) {
					t.Fatalf("unexpected merged value: got %q, want %q", string(v), string(expect))
				}

				stored, _, err := tr.Get(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(stored, expect) {
					t.Fatalf("the merged value was not stored: got %q, want %q", string(stored), string(expect))
				}
			})

			t.Run("it does not lose concurrent merges", func(t *testing.T) {
				t.Parallel()

				// Each writer uses its own handle to the same tree; a handle
				// is not required to be safe for concurrent use.
				store := newStore(t)
				name := xtesting.SequentialName("tree")
				k := []byte("<key>")

				const n = 8

				handles := openHandles(t, store, name, n)

				if _, _, err := handles[0].Merge(t.Context(), []byte("<other>"), nil); errors.Is(err, ErrNoMerge) {
					t.Skip("store has no merge function configured")
				} else if err != nil {
					t.Fatal(err)
				}

				var (
					wg      sync.WaitGroup
					results [n]error
				)

				for i := range n {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, _, results[i] = handles[i].Merge(
							t.Context(),
							k,
							[]byte{'a' + byte(i)},
						)
					}()
				}

				wg.Wait()

				for _, err := range results {
					if err != nil {
						t.Fatal(err)
					}
				}

				v, ok, err := handles[0].Get(t.Context(), k)
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected the key to be present")
				}

				slices.Sort(v)
				if expect := []byte("abcdefgh"); !bytes.Equal(v, expect) {
					t.Fatalf("expected each operand to survive exactly once: got %q, want %q", string(v), string(expect))
				}
			})
		})

		t.Run("Flush", func(t *testing.T) {
			t.Parallel()

			t.Run("it does not fail", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "<value>")

				if err := tr.Flush(t.Context()); err != nil {
					t.Fatal(err)
				}
			})
		})

		t.Run("Max", func(t *testing.T) {
			t.Parallel()

			t.Run("it reports absence on an empty tree", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)

				_, ok, err := tr.Max(t.Context())
				expectNoEntry(t, ok, err)
			})

			t.Run("it returns the entry with the greatest key", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(
					t, tr,
					"b", "2",
					"c", "3",
					"a", "1",
				)

				e, ok, err := tr.Max(t.Context())
				expectEntry(t, e, ok, err, "c", "3")
			})

			t.Run("it compares bytes as unsigned integers", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(
					t, tr,
					"\x7f", "low",
					"\xff", "high",
				)

				e, ok, err := tr.Max(t.Context())
				expectEntry(t, e, ok, err, "\xff", "high")
			})
		})

		t.Run("Pred", func(t *testing.T) {
			t.Parallel()

			t.Run("it never returns an entry with the given key", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "b", "2")

				_, ok, err := tr.Pred(t.Context(), []byte("b"))
				expectNoEntry(t, ok, err)
			})

			t.Run("it returns the entry with the greatest lesser key", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(
					t, tr,
					"a", "1",
					"b", "2",
					"d", "4",
				)

				e, ok, err := tr.Pred(t.Context(), []byte("c"))
				expectEntry(t, e, ok, err, "b", "2")

				e, ok, err = tr.Pred(t.Context(), []byte("d"))
				expectEntry(t, e, ok, err, "b", "2")
			})
		})

		t.Run("PredInclusive", func(t *testing.T) {
			t.Parallel()

			t.Run("it may return the entry with the given key", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(
					t, tr,
					"a", "1",
					"b", "2",
				)

				e, ok, err := tr.PredInclusive(t.Context(), []byte("b"))
				expectEntry(t, e, ok, err, "b", "2")

				e, ok, err = tr.PredInclusive(t.Context(), []byte("c"))
				expectEntry(t, e, ok, err, "b", "2")

				_, ok, err = tr.PredInclusive(t.Context(), []byte("A"))
				expectNoEntry(t, ok, err)
			})
		})

		t.Run("Succ", func(t *testing.T) {
			t.Parallel()

			t.Run("it never returns an entry with the given key", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "b", "2")

				_, ok, err := tr.Succ(t.Context(), []byte("b"))
				expectNoEntry(t, ok, err)
			})

			t.Run("it returns the entry with the least greater key", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(
					t, tr,
					"b", "2",
					"d", "4",
				)

				e, ok, err := tr.Succ(t.Context(), []byte("b"))
				expectEntry(t, e, ok, err, "d", "4")

				e, ok, err = tr.Succ(t.Context(), []byte("a"))
				expectEntry(t, e, ok, err, "b", "2")
			})
		})

		t.Run("SuccInclusive", func(t *testing.T) {
			t.Parallel()

			t.Run("it may return the entry with the given key", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(
					t, tr,
					"b", "2",
					"d", "4",
				)

				e, ok, err := tr.SuccInclusive(t.Context(), []byte("b"))
				expectEntry(t, e, ok, err, "b", "2")

				e, ok, err = tr.SuccInclusive(t.Context(), []byte("c"))
				expectEntry(t, e, ok, err, "d", "4")

				_, ok, err = tr.SuccInclusive(t.Context(), []byte("e"))
				expectNoEntry(t, ok, err)
			})
		})

		t.Run("Range", func(t *testing.T) {
			t.Parallel()

			t.Run("it produces every entry in ascending key order", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(
					t, tr,
					"c", "3",
					"a", "1",
					"b", "2",
				)

				entries := collect(t, tr.Range)
				expectEntries(
					t, entries,
					"a", "1",
					"b", "2",
					"c", "3",
				)
			})

			t.Run("it stops iterating if the function returns false", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(
					t, tr,
					"a", "1",
					"b", "2",
				)

				called := false
				if err := tr.Range(
					t.Context(),
					func(context.Context, []byte, []byte) (bool, error) {
						if called {
							return false, errors.New("unexpected call")
						}

						called = true
						return false, nil
					},
				); err != nil {
					t.Fatal(err)
				}
			})

			t.Run("it propagates errors returned by the function", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "a", "1")

				expect := errors.New("<error>")
				err := tr.Range(
					t.Context(),
					func(context.Context, []byte, []byte) (bool, error) {
						return false, expect
					},
				)
				if !errors.Is(err, expect) {
					t.Fatalf("unexpected error: got %v, want %v", err, expect)
				}
			})

			t.Run("it does not invoke the function with its internal byte slices", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "<key>", "<value>")

				if err := tr.Range(
					t.Context(),
					func(_ context.Context, k, v []byte) (bool, error) {
						k[0] = 'X'
						v[0] = 'X'
						return true, nil
					},
				); err != nil {
					t.Fatal(err)
				}

				v, ok, err := tr.Get(t.Context(), []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected key to be present")
				}
				if !bytes.Equal(v, []byte("<value>")) {
					t.Fatal("ranging must not expose the tree's internal state to mutation")
				}
			})
		})

		t.Run("RangeFrom", func(t *testing.T) {
			t.Parallel()

			t.Run("it produces entries with keys greater than or equal to the given key", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(
					t, tr,
					"a", "1",
					"b", "2",
					"d", "4",
				)

				entries := collect(t, func(ctx context.Context, fn RangeFunc) error {
					return tr.RangeFrom(ctx, []byte("b"), fn)
				})
				expectEntries(
					t, entries,
					"b", "2",
					"d", "4",
				)

				entries = collect(t, func(ctx context.Context, fn RangeFunc) error {
					return tr.RangeFrom(ctx, []byte("c"), fn)
				})
				expectEntries(
					t, entries,
					"d", "4",
				)
			})

			t.Run("it produces nothing when the key is past the end", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "a", "1")

				entries := collect(t, func(ctx context.Context, fn RangeFunc) error {
					return tr.RangeFrom(ctx, []byte("b"), fn)
				})
				expectEntries(t, entries)
			})
		})

		t.Run("RangeBetween", func(t *testing.T) {
			t.Parallel()

			t.Run("it produces entries within the half-open interval", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(
					t, tr,
					"a", "1",
					"b", "2",
					"c", "3",
					"d", "4",
				)

				entries := collect(t, func(ctx context.Context, fn RangeFunc) error {
					return tr.RangeBetween(ctx, []byte("b"), []byte("d"), fn)
				})
				expectEntries(
					t, entries,
					"b", "2",
					"c", "3",
				)
			})

			t.Run("it produces nothing when start equals end", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "b", "2")

				entries := collect(t, func(ctx context.Context, fn RangeFunc) error {
					return tr.RangeBetween(ctx, []byte("b"), []byte("b"), fn)
				})
				expectEntries(t, entries)
			})

			t.Run("it produces nothing when start is greater than end", func(t *testing.T) {
				t.Parallel()

				tr := setup(t)
				set(t, tr, "b", "2")

				entries := collect(t, func(ctx context.Context, fn RangeFunc) error {
					return tr.RangeBetween(ctx, []byte("c"), []byte("a"), fn)
				})
				expectEntries(t, entries)
			})
		})
	})

	t.Run("property-based", func(t *testing.T) {
		t.Parallel()

		store := newStore(t)

		rapid.Check(t, func(t *rapid.T) {
			tr, err := store.Open(t.Context(), xtesting.SequentialName("tree"))
			if err != nil {
				t.Fatal(err)
			}
			defer tr.Close()

			anyKey := rapid.StringN(1, 8, -1)
			anyValue := rapid.StringN(0, 16, -1)

			pairs := map[string][]byte{}
			var keys []string

			addKey := func(k string, v []byte) {
				if _, ok := pairs[k]; !ok {
					keys = append(keys, k)
				}
				pairs[k] = v
			}

			removeKey := func(k string) {
				delete(pairs, k)
				keys = slices.DeleteFunc(
					keys,
					func(x string) bool { return x == k },
				)
			}

			t.Repeat(
				map[string]func(*rapid.T){
					"Get": func(t *rapid.T) {
						key := anyKey.Draw(t, "key")

						v, ok, err := tr.Get(t.Context(), []byte(key))
						if err != nil {
							t.Fatal(err)
						}

						expect, present := pairs[key]
						if ok != present {
							t.Fatalf("unexpected presence for key %q: got %t, want %t", key, ok, present)
						}
						if ok && !bytes.Equal(expect, v) {
							t.Fatalf("unexpected value for key %q: got %q, want %q", key, string(v), string(expect))
						}
					},
					"Set": func(t *rapid.T) {
						key := anyKey.Draw(t, "key")
						value := []byte(anyValue.Draw(t, "value"))

						prev, ok, err := tr.Set(t.Context(), []byte(key), value)
						if err != nil {
							t.Fatal(err)
						}

						expect, present := pairs[key]
						if ok != present {
							t.Fatalf("unexpected previous value presence for key %q", key)
						}
						if ok && !bytes.Equal(expect, prev) {
							t.Fatalf("unexpected previous value for key %q", key)
						}

						addKey(key, value)
					},
					"Delete": func(t *rapid.T) {
						if len(keys) == 0 {
							t.Skip("skip: tree is empty")
						}

						key := rapid.SampledFrom(keys).Draw(t, "key")

						prev, ok, err := tr.Delete(t.Context(), []byte(key))
						if err != nil {
							t.Fatal(err)
						}
						if !ok {
							t.Fatalf("expected key %q to be present", key)
						}
						if !bytes.Equal(prev, pairs[key]) {
							t.Fatalf("unexpected removed value for key %q", key)
						}

						removeKey(key)
					},
					"CompareAndSwap": func(t *rapid.T) {
						if len(keys) == 0 {
							t.Skip("skip: tree is empty")
						}

						key := rapid.SampledFrom(keys).Draw(t, "key")
						value := []byte(anyValue.Draw(t, "value"))

						if err := tr.CompareAndSwap(
							t.Context(),
							[]byte(key),
							Present(pairs[key]),
							Present(value),
						); err != nil {
							t.Fatal(err)
						}

						addKey(key, value)
					},
					"CompareAndSwap (stale)": func(t *rapid.T) {
						if len(keys) == 0 {
							t.Skip("skip: tree is empty")
						}

						key := rapid.SampledFrom(keys).Draw(t, "key")
						stale := append([]byte("<stale>"), pairs[key]...)

						err := tr.CompareAndSwap(
							t.Context(),
							[]byte(key),
							Present(stale),
							Absent(),
						)
						if !IsConflict(err) {
							t.Fatalf("expected a conflict, got %v", err)
						}

						var conflict ConflictError
						errors.As(err, &conflict)

						if !conflict.Current.Equal(Present(pairs[key])) {
							t.Fatalf("unexpected current value in conflict for key %q", key)
						}
					},
					"Range": func(t *rapid.T) {
						var ranged []string
						prev := []byte(nil)

						if err := tr.Range(
							t.Context(),
							func(_ context.Context, k, v []byte) (bool, error) {
								if prev != nil && bytes.Compare(prev, k) >= 0 {
									t.Fatalf("keys out of order: %q after %q", string(k), string(prev))
								}
								prev = slices.Clone(k)

								expect, present := pairs[string(k)]
								if !present {
									t.Fatalf("unexpected key %q", string(k))
								}
								if !bytes.Equal(expect, v) {
									t.Fatalf("unexpected value for key %q", string(k))
								}

								ranged = append(ranged, string(k))
								return true, nil
							},
						); err != nil {
							t.Fatal(err)
						}

						if len(ranged) != len(pairs) {
							t.Fatalf("unexpected entry count: got %d, want %d", len(ranged), len(pairs))
						}
					},
					"Max": func(t *rapid.T) {
						e, ok, err := tr.Max(t.Context())
						if err != nil {
							t.Fatal(err)
						}

						if len(keys) == 0 {
							if ok {
								t.Fatal("expected no maximum entry on an empty tree")
							}
							return
						}

						expect := slices.Max(keys)
						if !ok || string(e.Key) != expect {
							t.Fatalf("unexpected maximum key: got %q, want %q", string(e.Key), expect)
						}
					},
				},
			)
		})
	})
}
