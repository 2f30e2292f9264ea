package treehttp_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dogmatiq/treekit/driver/memory/memorytree"
	. "github.com/dogmatiq/treekit/treehttp"
	"github.com/dogmatiq/treekit/tree"
	"github.com/google/go-cmp/cmp"
)

func TestHandler(t *testing.T) {
	t.Parallel()

	newHandler := func(t *testing.T, store *memorytree.Store) *Handler {
		if store == nil {
			store = &memorytree.Store{
				Merge: tree.ConcatMerge,
			}
		}

		tr, err := store.Open(t.Context(), "<tree>")
		if err != nil {
			t.Fatal(err)
		}

		t.Cleanup(func() {
			if err := tr.Close(); err != nil {
				t.Error(err)
			}
		})

		return &Handler{Tree: tr}
	}

	invoke := func(h *Handler, method, path, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, path, strings.NewReader(body))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	expectBody := func(t *testing.T, w *httptest.ResponseRecorder, status int, expect string) {
		t.Helper()

		if w.Code != status {
			t.Fatalf("unexpected status: got %d, want %d (body %s)", w.Code, status, w.Body)
		}

		var actualDoc, expectDoc any
		if err := json.Unmarshal(w.Body.Bytes(), &actualDoc); err != nil {
			t.Fatalf("response body is not valid JSON: %v", err)
		}
		if err := json.Unmarshal([]byte(expect), &expectDoc); err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff(expectDoc, actualDoc); diff != "" {
			t.Fatal(diff)
		}
	}

	expectFailure := func(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) {
		t.Helper()

		if w.Code != status {
			t.Fatalf("unexpected status: got %d, want %d (body %s)", w.Code, status, w.Body)
		}

		var res struct {
			Error struct {
				Kind    string `json:"kind"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
			t.Fatalf("failure response is not valid JSON: %v", err)
		}

		if res.Error.Kind != kind {
			t.Fatalf("unexpected error kind: got %q, want %q", res.Error.Kind, kind)
		}
		if res.Error.Message == "" {
			t.Fatal("expected a human-readable error message")
		}
	}

	t.Run("it rejects a path that does not identify an operation", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)
		w := invoke(h, http.MethodGet, "/tree/entries/unknown", `{}`)
		expectFailure(t, w, http.StatusNotFound, "unknown-operation")
	})

	t.Run("it rejects a verb that does not match the operation", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)
		w := invoke(h, http.MethodPost, "/tree/entries/get", keyBody("a"))
		expectFailure(t, w, http.StatusMethodNotAllowed, "unknown-operation")
	})

	t.Run("it rejects a body that is not valid JSON", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)
		w := invoke(h, http.MethodGet, "/tree/entries/get", `{"key"`)
		expectFailure(t, w, http.StatusBadRequest, "malformed-request")
	})

	t.Run("it rejects a body that is missing a required field", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)

		for path, method := range map[string]string{
			"/tree/entries/get":       http.MethodGet,
			"/tree/entries/del":       http.MethodDelete,
			"/tree/entries/set":       http.MethodPost,
			"/tree/entries/cas":       http.MethodPut,
			"/tree/entries/merge":     http.MethodPost,
			"/tree/entries/scan":      http.MethodGet,
			"/tree/entries/pred":      http.MethodGet,
			"/tree/entries/pred_incl": http.MethodGet,
			"/tree/entries/succ":      http.MethodGet,
			"/tree/entries/succ_incl": http.MethodGet,
		} {
			w := invoke(h, method, path, `{}`)
			expectFailure(t, w, http.StatusBadRequest, "malformed-request")
		}

		w := invoke(h, http.MethodGet, "/tree/entries/scan_range", scanBody("from", "a"))
		expectFailure(t, w, http.StatusBadRequest, "malformed-request")
	})

	t.Run("it reports absence as success, not as an error", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)

		w := invoke(h, http.MethodGet, "/tree/entries/get", keyBody("a"))
		expectBody(t, w, http.StatusOK, `{}`)

		w = invoke(h, http.MethodDelete, "/tree/entries/del", keyBody("a"))
		expectBody(t, w, http.StatusOK, `{}`)

		w = invoke(h, http.MethodGet, "/tree/entries/max", `{}`)
		expectBody(t, w, http.StatusOK, `{}`)
	})

	t.Run("it reports the stored entry", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)

		w := invoke(h, http.MethodPost, "/tree/entries/set", setBody("a", "1"))
		expectBody(t, w, http.StatusOK, `{}`)

		w = invoke(h, http.MethodGet, "/tree/entries/get", keyBody("a"))
		expectBody(t, w, http.StatusOK, entryBody("a", "1"))

		// Replacing reports the previous entry.
		w = invoke(h, http.MethodPost, "/tree/entries/set", setBody("a", "2"))
		expectBody(t, w, http.StatusOK, entryBody("a", "1"))

		// Deleting reports the removed entry.
		w = invoke(h, http.MethodDelete, "/tree/entries/del", keyBody("a"))
		expectBody(t, w, http.StatusOK, entryBody("a", "2"))
	})

	t.Run("it distinguishes an empty value from an absent one", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)

		w := invoke(h, http.MethodPost, "/tree/entries/set", setBody("a", ""))
		expectBody(t, w, http.StatusOK, `{}`)

		// The entry is present; its value is the empty byte sequence, not an
		// omitted field.
		w = invoke(h, http.MethodGet, "/tree/entries/get", keyBody("a"))
		expectBody(t, w, http.StatusOK, entryBody("a", ""))

		// An expectation of absence conflicts with a present empty value.
		w = invoke(
			h,
			http.MethodPut,
			"/tree/entries/cas",
			fmt.Sprintf(`{"key": %q, "proposed": %q}`, b64("a"), b64("x")),
		)
		expectBody(
			t,
			w,
			http.StatusOK,
			fmt.Sprintf(`{"conflict": {"current": %q}}`, b64("")),
		)
	})

	t.Run("it reports a CAS conflict as a distinct success outcome", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)

		invoke(h, http.MethodPost, "/tree/entries/set", setBody("a", "2"))

		w := invoke(
			h,
			http.MethodPut,
			"/tree/entries/cas",
			fmt.Sprintf(
				`{"key": %q, "expected": %q, "proposed": %q}`,
				b64("a"), b64("1"), b64("3"),
			),
		)
		expectBody(
			t,
			w,
			http.StatusOK,
			fmt.Sprintf(`{"conflict": {"current": %q}}`, b64("2")),
		)

		w = invoke(
			h,
			http.MethodPut,
			"/tree/entries/cas",
			fmt.Sprintf(
				`{"key": %q, "expected": %q, "proposed": %q}`,
				b64("a"), b64("2"), b64("3"),
			),
		)
		expectBody(
			t,
			w,
			http.StatusOK,
			fmt.Sprintf(`{"previous": %q}`, b64("2")),
		)

		w = invoke(h, http.MethodGet, "/tree/entries/get", keyBody("a"))
		expectBody(t, w, http.StatusOK, entryBody("a", "3"))
	})

	t.Run("it applies the store's merge function", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)

		w := invoke(h, http.MethodPost, "/tree/entries/merge", setBody("a", "1"))
		expectBody(t, w, http.StatusOK, entryBody("a", "1"))

		w = invoke(h, http.MethodPost, "/tree/entries/merge", setBody("a", "2"))
		expectBody(t, w, http.StatusOK, entryBody("a", "12"))
	})

	t.Run("it reports a store failure with its message", func(t *testing.T) {
		t.Parallel()

		h := newHandler(
			t,
			&memorytree.Store{
				BeforeSet: func(string, []byte, []byte) error {
					return errors.New("<store failure>")
				},
			},
		)

		w := invoke(h, http.MethodPost, "/tree/entries/set", setBody("a", "1"))
		expectFailure(t, w, http.StatusInternalServerError, "store-failure")

		// A merge against a store with no merge function is an engine
		// failure, not a protocol one.
		w = invoke(h, http.MethodPost, "/tree/entries/merge", setBody("a", "1"))
		expectFailure(t, w, http.StatusInternalServerError, "store-failure")
	})

	t.Run("it serves iterations in ascending key order", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)

		invoke(h, http.MethodPost, "/tree/entries/set", setBody("b", "2"))
		invoke(h, http.MethodPost, "/tree/entries/set", setBody("a", "1"))
		invoke(h, http.MethodPost, "/tree/entries/set", setBody("c", "3"))

		w := invoke(h, http.MethodGet, "/tree/entries/iter", `{}`)
		expectBody(t, w, http.StatusOK, entriesBody("a", "1", "b", "2", "c", "3"))

		w = invoke(h, http.MethodGet, "/tree/entries/scan", scanBody("from", "b"))
		expectBody(t, w, http.StatusOK, entriesBody("b", "2", "c", "3"))

		w = invoke(h, http.MethodGet, "/tree/entries/scan_range", scanRangeBody("a", "c"))
		expectBody(t, w, http.StatusOK, entriesBody("a", "1", "b", "2"))

		// The interval is half-open; an empty interval produces an empty
		// sequence, not an absent field.
		w = invoke(h, http.MethodGet, "/tree/entries/scan_range", scanRangeBody("a", "a"))
		expectBody(t, w, http.StatusOK, `{"entries": []}`)
	})

	t.Run("it refuses to materialize an iteration beyond the scan limit", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)
		h.ScanLimit = 2

		invoke(h, http.MethodPost, "/tree/entries/set", setBody("a", "1"))
		invoke(h, http.MethodPost, "/tree/entries/set", setBody("b", "2"))

		w := invoke(h, http.MethodGet, "/tree/entries/iter", `{}`)
		expectBody(t, w, http.StatusOK, entriesBody("a", "1", "b", "2"))

		invoke(h, http.MethodPost, "/tree/entries/set", setBody("c", "3"))

		w = invoke(h, http.MethodGet, "/tree/entries/iter", `{}`)
		expectFailure(t, w, http.StatusInternalServerError, "scan-limit-exceeded")

		// A bounded scan within the limit still succeeds.
		w = invoke(h, http.MethodGet, "/tree/entries/scan", scanBody("from", "b"))
		expectBody(t, w, http.StatusOK, entriesBody("b", "2", "c", "3"))
	})

	t.Run("it serves directional lookups", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)

		invoke(h, http.MethodPost, "/tree/entries/set", setBody("b", "2"))
		invoke(h, http.MethodPost, "/tree/entries/set", setBody("d", "4"))

		w := invoke(h, http.MethodGet, "/tree/entries/max", `{}`)
		expectBody(t, w, http.StatusOK, entryBody("d", "4"))

		w = invoke(h, http.MethodGet, "/tree/entries/pred", keyBody("b"))
		expectBody(t, w, http.StatusOK, `{}`)

		w = invoke(h, http.MethodGet, "/tree/entries/pred_incl", keyBody("b"))
		expectBody(t, w, http.StatusOK, entryBody("b", "2"))

		w = invoke(h, http.MethodGet, "/tree/entries/succ", keyBody("b"))
		expectBody(t, w, http.StatusOK, entryBody("d", "4"))

		w = invoke(h, http.MethodGet, "/tree/entries/succ_incl", keyBody("c"))
		expectBody(t, w, http.StatusOK, entryBody("d", "4"))
	})

	t.Run("it flushes without a payload", func(t *testing.T) {
		t.Parallel()

		h := newHandler(t, nil)

		w := invoke(h, http.MethodPost, "/tree/entries/flush", `{}`)
		expectBody(t, w, http.StatusOK, `{}`)

		// An entirely empty body is equivalent to the empty document.
		w = invoke(h, http.MethodPost, "/tree/entries/flush", ``)
		expectBody(t, w, http.StatusOK, `{}`)
	})
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func keyBody(k string) string {
	return fmt.Sprintf(`{"key": %q}`, b64(k))
}

func setBody(k, v string) string {
	return fmt.Sprintf(`{"key": %q, "value": %q}`, b64(k), b64(v))
}

func scanBody(field, k string) string {
	return fmt.Sprintf(`{%q: %q}`, field, b64(k))
}

func scanRangeBody(start, end string) string {
	return fmt.Sprintf(`{"start": %q, "end": %q}`, b64(start), b64(end))
}

func entryBody(k, v string) string {
	return fmt.Sprintf(
		`{"entry": {"key": %q, "value": %q}}`,
		b64(k),
		b64(v),
	)
}

func entriesBody(pairs ...string) string {
	var entries []string
	for i := 0; i < len(pairs); i += 2 {
		entries = append(
			entries,
			fmt.Sprintf(
				`{"key": %q, "value": %q}`,
				b64(pairs[i]),
				b64(pairs[i+1]),
			),
		)
	}
	return fmt.Sprintf(`{"entries": [%s]}`, strings.Join(entries, ", "))
}
