package treehttp_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/dogmatiq/treekit/driver/memory/memorytree"
	. "github.com/dogmatiq/treekit/treehttp"
	"github.com/dogmatiq/treekit/tree"
)

// httpStore is a [tree.Store] that opens each tree as a [Client] connected to
// its own server, with all servers sharing one in-memory backing store.
type httpStore struct {
	t       *testing.T
	backend memorytree.Store
}

func (s *httpStore) Open(ctx context.Context, name string) (tree.Tree, error) {
	backend, err := s.backend.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	server := httptest.NewServer(
		&Handler{
			Tree: backend,
		},
	)

	s.t.Cleanup(func() {
		server.Close()
		if err := backend.Close(); err != nil {
			s.t.Error(err)
		}
	})

	return &namedTree{
		Tree: &Client{
			BaseURL:    server.URL,
			HTTPClient: server.Client(),
		},
		name: name,
	}, nil
}

// namedTree reports the name a tree was opened under, rather than the URL of
// the server that serves it.
type namedTree struct {
	tree.Tree
	name string
}

func (t *namedTree) Name() string {
	return t.name
}

func TestClient(t *testing.T) {
	tree.RunTests(
		t,
		func(t *testing.T) tree.Store {
			return &httpStore{
				t: t,
				backend: memorytree.Store{
					Merge: tree.ConcatMerge,
				},
			}
		},
	)
}

func TestClient_endToEnd(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) *Client {
		backend, err := (&memorytree.Store{Merge: tree.ConcatMerge}).
			Open(t.Context(), "<tree>")
		if err != nil {
			t.Fatal(err)
		}

		server := httptest.NewServer(&Handler{Tree: backend})

		t.Cleanup(func() {
			server.Close()
			if err := backend.Close(); err != nil {
				t.Error(err)
			}
		})

		return &Client{
			BaseURL:    server.URL,
			HTTPClient: server.Client(),
		}
	}

	t.Run("a stale expectation is refused with the current value", func(t *testing.T) {
		t.Parallel()

		c := setup(t)

		if _, _, err := c.Set(t.Context(), []byte("a"), []byte("1")); err != nil {
			t.Fatal(err)
		}

		v, ok, err := c.Get(t.Context(), []byte("a"))
		if err != nil || !ok || !bytes.Equal(v, []byte("1")) {
			t.Fatalf("unexpected entry: %q, %t, %v", string(v), ok, err)
		}

		if _, _, err := c.Set(t.Context(), []byte("a"), []byte("2")); err != nil {
			t.Fatal(err)
		}

		err = c.CompareAndSwap(
			t.Context(),
			[]byte("a"),
			tree.Present([]byte("1")),
			tree.Present([]byte("3")),
		)
		if !tree.IsConflict(err) {
			t.Fatalf("expected a conflict, got %v", err)
		}

		var conflict tree.ConflictError
		errors.As(err, &conflict)
		if !conflict.Current.Equal(tree.Present([]byte("2"))) {
			t.Fatalf("unexpected current value: %s", conflict.Current)
		}

		if err := c.CompareAndSwap(
			t.Context(),
			[]byte("a"),
			tree.Present([]byte("2")),
			tree.Present([]byte("3")),
		); err != nil {
			t.Fatal(err)
		}

		v, _, err = c.Get(t.Context(), []byte("a"))
		if err != nil || !bytes.Equal(v, []byte("3")) {
			t.Fatalf("unexpected value after swap: %q, %v", string(v), err)
		}
	})

	t.Run("scans and lookups observe prior writes", func(t *testing.T) {
		t.Parallel()

		c := setup(t)

		scan := func(from string) []tree.Entry {
			var entries []tree.Entry
			if err := c.RangeFrom(
				t.Context(),
				[]byte(from),
				func(_ context.Context, k, v []byte) (bool, error) {
					entries = append(entries, tree.Entry{Key: k, Value: v})
					return true, nil
				},
			); err != nil {
				t.Fatal(err)
			}
			return entries
		}

		if entries := scan("m"); len(entries) != 0 {
			t.Fatalf("expected an empty sequence, got %d entries", len(entries))
		}

		if _, _, err := c.Set(t.Context(), []byte("n"), []byte("x")); err != nil {
			t.Fatal(err)
		}

		entries := scan("m")
		if len(entries) != 1 ||
			!bytes.Equal(entries[0].Key, []byte("n")) ||
			!bytes.Equal(entries[0].Value, []byte("x")) {
			t.Fatalf("unexpected scan result: %v", entries)
		}

		if _, ok, err := c.Pred(t.Context(), []byte("n")); err != nil || ok {
			t.Fatalf("expected no predecessor: %t, %v", ok, err)
		}

		e, ok, err := c.Succ(t.Context(), []byte("m"))
		if err != nil || !ok || !bytes.Equal(e.Key, []byte("n")) {
			t.Fatalf("unexpected successor: %v, %t, %v", e, ok, err)
		}
	})

	t.Run("a nil key is equivalent to the empty key", func(t *testing.T) {
		t.Parallel()

		c := setup(t)

		if _, _, err := c.Set(t.Context(), []byte{}, []byte("1")); err != nil {
			t.Fatal(err)
		}

		v, ok, err := c.Get(t.Context(), nil)
		if err != nil || !ok || !bytes.Equal(v, []byte("1")) {
			t.Fatalf("unexpected entry: %q, %t, %v", string(v), ok, err)
		}

		if err := c.CompareAndSwap(
			t.Context(),
			nil,
			tree.Present([]byte("1")),
			tree.Present([]byte("2")),
		); err != nil {
			t.Fatal(err)
		}

		if err := c.RangeFrom(
			t.Context(),
			nil,
			func(context.Context, []byte, []byte) (bool, error) {
				return true, nil
			},
		); err != nil {
			t.Fatal(err)
		}

		if _, ok, err := c.Delete(t.Context(), nil); err != nil || !ok {
			t.Fatalf("expected the entry to be removed: %t, %v", ok, err)
		}
	})

	t.Run("a server failure is surfaced with its kind and message", func(t *testing.T) {
		t.Parallel()

		backend, err := (&memorytree.Store{
			BeforeSet: func(string, []byte, []byte) error {
				return errors.New("<store failure>")
			},
		}).Open(t.Context(), "<tree>")
		if err != nil {
			t.Fatal(err)
		}

		server := httptest.NewServer(&Handler{Tree: backend})
		t.Cleanup(server.Close)

		c := &Client{
			BaseURL:    server.URL,
			HTTPClient: server.Client(),
		}

		_, _, err = c.Set(t.Context(), []byte("a"), []byte("1"))

		var serverErr ServerError
		if !errors.As(err, &serverErr) {
			t.Fatalf("expected a ServerError, got %v", err)
		}
		if serverErr.Kind != "store-failure" {
			t.Fatalf("unexpected error kind: %q", serverErr.Kind)
		}
		if serverErr.IsMalformed() {
			t.Fatal("a store failure is not a client-fixable error")
		}
	})

	t.Run("an unreachable server is a transport failure", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(&Handler{})
		c := &Client{
			BaseURL:    server.URL,
			HTTPClient: server.Client(),
		}
		server.Close()

		_, _, err := c.Get(t.Context(), []byte("a"))

		var transportErr TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("expected a TransportError, got %v", err)
		}
		if transportErr.Unwrap() == nil {
			t.Fatal("expected the underlying error to be preserved")
		}
	})
}
