// Package treehttp exposes a single [tree.Tree] to remote clients over HTTP.
//
// Every operation is a fixed verb and path pair under /tree/entries. The
// request body is a JSON document regardless of the verb. Binary keys and
// values are base64-encoded JSON strings. An absent value is an omitted (or
// null) field, which is distinct from the empty string, the encoding of an
// empty byte sequence.
package treehttp

import "github.com/dogmatiq/treekit/tree"

const (
	getPath       = "/tree/entries/get"
	delPath       = "/tree/entries/del"
	setPath       = "/tree/entries/set"
	casPath       = "/tree/entries/cas"
	mergePath     = "/tree/entries/merge"
	flushPath     = "/tree/entries/flush"
	iterPath      = "/tree/entries/iter"
	scanPath      = "/tree/entries/scan"
	scanRangePath = "/tree/entries/scan_range"
	maxPath       = "/tree/entries/max"
	predPath      = "/tree/entries/pred"
	predInclPath  = "/tree/entries/pred_incl"
	succPath      = "/tree/entries/succ"
	succInclPath  = "/tree/entries/succ_incl"
)

// Error kinds reported in the failure envelope.
const (
	// kindMalformedRequest indicates that the request body was undecodable or
	// missing a required field. The operation was never attempted.
	kindMalformedRequest = "malformed-request"

	// kindUnknownOperation indicates that the request path does not identify
	// an operation, or that the verb does not match the operation's path.
	kindUnknownOperation = "unknown-operation"

	// kindStoreFailure indicates that the underlying store reported an error.
	kindStoreFailure = "store-failure"

	// kindScanLimitExceeded indicates that an iteration produced more entries
	// than the server is willing to materialize in a single response.
	kindScanLimitExceeded = "scan-limit-exceeded"
)

// wireEntry is the serialized form of a [tree.Entry].
type wireEntry struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// keyRequest is the body of the get, del, pred, pred_incl, succ and succ_incl
// operations.
type keyRequest struct {
	Key *[]byte `json:"key"`
}

// setRequest is the body of the set and merge operations.
type setRequest struct {
	Key   *[]byte `json:"key"`
	Value *[]byte `json:"value"`
}

// casRequest is the body of the cas operation.
type casRequest struct {
	Key      *[]byte `json:"key"`
	Expected *[]byte `json:"expected,omitempty"`
	Proposed *[]byte `json:"proposed,omitempty"`
}

// scanRequest is the body of the scan operation.
type scanRequest struct {
	From *[]byte `json:"from"`
}

// scanRangeRequest is the body of the scan_range operation.
type scanRangeRequest struct {
	Start *[]byte `json:"start"`
	End   *[]byte `json:"end"`
}

// emptyRequest is the body of the flush, iter and max operations.
type emptyRequest struct{}

// entryResponse is the success payload of every operation that produces at
// most one entry.
type entryResponse struct {
	Entry *wireEntry `json:"entry,omitempty"`
}

// entriesResponse is the success payload of the iter, scan and scan_range
// operations.
type entriesResponse struct {
	Entries []wireEntry `json:"entries"`
}

// casResponse is the success payload of the cas operation.
//
// Exactly one of the swap outcome and the conflict is populated. A conflict is
// a success at the protocol level; it reports that the swap was refused
// because the caller's expectation is stale.
type casResponse struct {
	Previous *[]byte      `json:"previous,omitempty"`
	Conflict *casConflict `json:"conflict,omitempty"`
}

type casConflict struct {
	Current *[]byte `json:"current,omitempty"`
}

// errorResponse is the uniform failure payload.
type errorResponse struct {
	Error wireError `json:"error"`
}

type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// newWireEntry returns the serialized form of the entry for k, or nil if the
// entry is absent.
func newWireEntry(k, v []byte, ok bool) *wireEntry {
	if !ok {
		return nil
	}

	if v == nil {
		v = []byte{}
	}

	return &wireEntry{
		Key:   k,
		Value: v,
	}
}

// marshalValue returns the wire form of v, or nil if v is absent.
func marshalValue(v tree.Value) *[]byte {
	if !v.IsPresent() {
		return nil
	}

	data := v.Bytes()
	return &data
}

// wireBytes returns a pointer to b for use in a request payload, normalizing
// nil to an empty slice so that it marshals as a present value rather than
// null.
func wireBytes(b []byte) *[]byte {
	if b == nil {
		b = []byte{}
	}
	return &b
}

// unmarshalValue returns the value encoded by p, which is absent if p is nil.
func unmarshalValue(p *[]byte) tree.Value {
	if p == nil {
		return tree.Absent()
	}
	return tree.Present(*p)
}
