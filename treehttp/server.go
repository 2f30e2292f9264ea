package treehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dogmatiq/treekit/tree"
)

// Handler is an [http.Handler] that serves every tree operation against a
// single [tree.Tree].
//
// Each request is handled independently; concurrent mutations of the same key
// are serialized by the underlying store, not by the handler.
type Handler struct {
	// Tree is the tree that requests operate on.
	Tree tree.Tree

	// ScanLimit is the maximum number of entries that the iter, scan and
	// scan_range operations will materialize into a single response. An
	// iteration that exceeds the limit fails; it does not return a partial
	// sequence. If it is zero the number of entries is unlimited.
	ScanLimit int
}

var _ http.Handler = (*Handler)(nil)

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case getPath:
		h.get(w, r)
	case delPath:
		h.del(w, r)
	case setPath:
		h.set(w, r)
	case casPath:
		h.cas(w, r)
	case mergePath:
		h.merge(w, r)
	case flushPath:
		h.flush(w, r)
	case iterPath:
		h.iter(w, r)
	case scanPath:
		h.scan(w, r)
	case scanRangePath:
		h.scanRange(w, r)
	case maxPath:
		h.lookup(w, r, nil)
	case predPath:
		h.lookup(w, r, h.Tree.Pred)
	case predInclPath:
		h.lookup(w, r, h.Tree.PredInclusive)
	case succPath:
		h.lookup(w, r, h.Tree.Succ)
	case succInclPath:
		h.lookup(w, r, h.Tree.SuccInclusive)
	default:
		respond(
			w,
			http.StatusNotFound,
			errorResponse{
				Error: wireError{
					Kind:    kindUnknownOperation,
					Message: fmt.Sprintf("%q does not identify an operation", r.URL.Path),
				},
			},
		)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decode(w, r, http.MethodGet, &req) {
		return
	}

	k, ok := requireKey(w, req.Key)
	if !ok {
		return
	}

	v, ok, err := h.Tree.Get(r.Context(), k)
	if err != nil {
		storeFailure(w, err)
		return
	}

	respond(
		w,
		http.StatusOK,
		entryResponse{
			Entry: newWireEntry(k, v, ok),
		},
	)
}

func (h *Handler) del(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decode(w, r, http.MethodDelete, &req) {
		return
	}

	k, ok := requireKey(w, req.Key)
	if !ok {
		return
	}

	prev, ok, err := h.Tree.Delete(r.Context(), k)
	if err != nil {
		storeFailure(w, err)
		return
	}

	respond(
		w,
		http.StatusOK,
		entryResponse{
			Entry: newWireEntry(k, prev, ok),
		},
	)
}

func (h *Handler) set(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if !decode(w, r, http.MethodPost, &req) {
		return
	}

	k, ok := requireKey(w, req.Key)
	if !ok {
		return
	}

	if req.Value == nil {
		malformed(w, "value is required")
		return
	}

	prev, ok, err := h.Tree.Set(r.Context(), k, *req.Value)
	if err != nil {
		storeFailure(w, err)
		return
	}

	respond(
		w,
		http.StatusOK,
		entryResponse{
			Entry: newWireEntry(k, prev, ok),
		},
	)
}

func (h *Handler) cas(w http.ResponseWriter, r *http.Request) {
	var req casRequest
	if !decode(w, r, http.MethodPut, &req) {
		return
	}

	k, ok := requireKey(w, req.Key)
	if !ok {
		return
	}

	expected := unmarshalValue(req.Expected)
	proposed := unmarshalValue(req.Proposed)

	err := h.Tree.CompareAndSwap(r.Context(), k, expected, proposed)

	var conflict tree.ConflictError
	switch {
	case err == nil:
		// On success the stored value necessarily equaled the expectation
		// immediately before the swap.
		respond(
			w,
			http.StatusOK,
			casResponse{
				Previous: marshalValue(expected),
			},
		)
	case errors.As(err, &conflict):
		respond(
			w,
			http.StatusOK,
			casResponse{
				Conflict: &casConflict{
					Current: marshalValue(conflict.Current),
				},
			},
		)
	default:
		storeFailure(w, err)
	}
}

func (h *Handler) merge(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if !decode(w, r, http.MethodPost, &req) {
		return
	}

	k, ok := requireKey(w, req.Key)
	if !ok {
		return
	}

	if req.Value == nil {
		malformed(w, "value is required")
		return
	}

	v, ok, err := h.Tree.Merge(r.Context(), k, *req.Value)
	if err != nil {
		storeFailure(w, err)
		return
	}

	respond(
		w,
		http.StatusOK,
		entryResponse{
			Entry: newWireEntry(k, v, ok),
		},
	)
}

func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	var req emptyRequest
	if !decode(w, r, http.MethodPost, &req) {
		return
	}

	if err := h.Tree.Flush(r.Context()); err != nil {
		storeFailure(w, err)
		return
	}

	respond(w, http.StatusOK, struct{}{})
}

func (h *Handler) iter(w http.ResponseWriter, r *http.Request) {
	var req emptyRequest
	if !decode(w, r, http.MethodGet, &req) {
		return
	}

	h.respondEntries(w, r, h.Tree.Range)
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decode(w, r, http.MethodGet, &req) {
		return
	}

	if req.From == nil {
		malformed(w, "from is required")
		return
	}

	h.respondEntries(
		w,
		r,
		func(ctx context.Context, fn tree.RangeFunc) error {
			return h.Tree.RangeFrom(ctx, *req.From, fn)
		},
	)
}

func (h *Handler) scanRange(w http.ResponseWriter, r *http.Request) {
	var req scanRangeRequest
	if !decode(w, r, http.MethodGet, &req) {
		return
	}

	if req.Start == nil {
		malformed(w, "start is required")
		return
	}
	if req.End == nil {
		malformed(w, "end is required")
		return
	}

	h.respondEntries(
		w,
		r,
		func(ctx context.Context, fn tree.RangeFunc) error {
			return h.Tree.RangeBetween(ctx, *req.Start, *req.End, fn)
		},
	)
}

// lookup serves the max, pred, pred_incl, succ and succ_incl operations. A nil
// fn serves max, which takes no key.
func (h *Handler) lookup(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context, []byte) (tree.Entry, bool, error),
) {
	var (
		e   tree.Entry
		ok  bool
		err error
	)

	if fn == nil {
		var req emptyRequest
		if !decode(w, r, http.MethodGet, &req) {
			return
		}

		e, ok, err = h.Tree.Max(r.Context())
	} else {
		var req keyRequest
		if !decode(w, r, http.MethodGet, &req) {
			return
		}

		k, keyOK := requireKey(w, req.Key)
		if !keyOK {
			return
		}

		e, ok, err = fn(r.Context(), k)
	}

	if err != nil {
		storeFailure(w, err)
		return
	}

	respond(
		w,
		http.StatusOK,
		entryResponse{
			Entry: newWireEntry(e.Key, e.Value, ok),
		},
	)
}

// respondEntries materializes an iteration into a single ordered response.
//
// If the iteration fails, or produces more entries than h.ScanLimit allows,
// the operation fails as a whole; no partial sequence is sent.
func (h *Handler) respondEntries(
	w http.ResponseWriter,
	r *http.Request,
	rng func(context.Context, tree.RangeFunc) error,
) {
	entries := []wireEntry{}

	err := rng(
		r.Context(),
		func(_ context.Context, k, v []byte) (bool, error) {
			if h.ScanLimit > 0 && len(entries) >= h.ScanLimit {
				return false, errScanLimit
			}

			if v == nil {
				v = []byte{}
			}

			entries = append(entries, wireEntry{Key: k, Value: v})
			return true, nil
		},
	)
	if errors.Is(err, errScanLimit) {
		respond(
			w,
			http.StatusInternalServerError,
			errorResponse{
				Error: wireError{
					Kind:    kindScanLimitExceeded,
					Message: fmt.Sprintf("iteration exceeds the limit of %d entries; bound the scan with a narrower key range", h.ScanLimit),
				},
			},
		)
		return
	}
	if err != nil {
		storeFailure(w, err)
		return
	}

	respond(
		w,
		http.StatusOK,
		entriesResponse{
			Entries: entries,
		},
	)
}

// decode reads the request body into req.
//
// It returns false if a response has already been sent, because the verb does
// not match the operation or the body cannot be decoded.
func decode(
	w http.ResponseWriter,
	r *http.Request,
	method string,
	req any,
) bool {
	if r.Method != method {
		respond(
			w,
			http.StatusMethodNotAllowed,
			errorResponse{
				Error: wireError{
					Kind:    kindUnknownOperation,
					Message: fmt.Sprintf("%s is served with the %s verb, not %s", r.URL.Path, method, r.Method),
				},
			},
		)
		return false
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		malformed(w, "request body could not be read")
		return false
	}

	// An entirely empty body stands in for the empty JSON document, for
	// operations that carry no fields.
	if len(body) == 0 {
		body = []byte(`{}`)
	}

	if err := json.Unmarshal(body, req); err != nil {
		malformed(w, fmt.Sprintf("request body is not a valid JSON document: %s", err))
		return false
	}

	return true
}

// requireKey reports whether the request's key field was populated, responding
// with a malformed-request failure if not.
func requireKey(w http.ResponseWriter, k *[]byte) ([]byte, bool) {
	if k == nil {
		malformed(w, "key is required")
		return nil, false
	}
	return *k, true
}

func malformed(w http.ResponseWriter, message string) {
	respond(
		w,
		http.StatusBadRequest,
		errorResponse{
			Error: wireError{
				Kind:    kindMalformedRequest,
				Message: message,
			},
		},
	)
}

func storeFailure(w http.ResponseWriter, err error) {
	respond(
		w,
		http.StatusInternalServerError,
		errorResponse{
			Error: wireError{
				Kind:    kindStoreFailure,
				Message: err.Error(),
			},
		},
	)
}

func respond(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		// The payload types in this package always marshal cleanly.
		panic(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data) // nolint:errcheck
}

// errScanLimit aborts an iteration that has grown beyond ScanLimit.
var errScanLimit = errors.New("scan limit exceeded")
