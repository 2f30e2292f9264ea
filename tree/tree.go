package tree

import (
	"context"
)

// Store is a collection of named trees: ordered collections of binary
// key/value pairs.
type Store interface {
	// Open returns the tree with the given name.
	Open(ctx context.Context, name string) (Tree, error)
}

// An Entry is a key/value pair within a [Tree].
type Entry struct {
	Key   []byte
	Value []byte
}

// A RangeFunc is a function used to range over the entries in a [Tree].
//
// If err is non-nil, ranging stops and err is propagated up the stack.
// Otherwise, if ok is false, ranging stops without any error being propagated.
type RangeFunc func(ctx context.Context, k, v []byte) (ok bool, err error)

// A MergeFunc combines the value currently associated with a key with an
// operand supplied by the caller, producing the key's new value.
//
// exists is false if the key is currently absent, in which case existing is
// nil. If ok is false the key is deleted, or remains absent.
//
// The function must be deterministic. Drivers that implement [Tree.Merge] as a
// compare-and-swap loop may invoke it more than once for a single merge
// operation.
type MergeFunc func(k, existing []byte, exists bool, operand []byte) (v []byte, ok bool, err error)

// A Tree is an ordered collection of binary key/value pairs.
//
// Keys are ordered lexicographically, comparing bytes as unsigned integers. A
// present key always has a definite value; an empty value is distinct from an
// absent key at every layer.
//
// Drivers serialize concurrent writes to the same key, including writes made
// through other handles to the same tree. Whether a single handle may be
// shared between goroutines is driver-specific.
type Tree interface {
	// Name returns the name of the tree.
	Name() string

	// Get returns the value associated with k.
	//
	// ok is false if k is absent. Absence is not an error.
	Get(ctx context.Context, k []byte) (v []byte, ok bool, err error)

	// Set associates v with k, creating the key if necessary.
	//
	// It returns the value previously associated with k, if any.
	Set(ctx context.Context, k, v []byte) (prev []byte, ok bool, err error)

	// Delete removes k and its associated value.
	//
	// It returns the removed value, if any. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, k []byte) (prev []byte, ok bool, err error)

	// CompareAndSwap atomically replaces the value associated with k with
	// proposed if and only if the current value equals expected.
	//
	// An absent expected value means the caller expects k to be absent. An
	// absent proposed value deletes k. No other write to k is interleaved
	// between the comparison and the swap.
	//
	// If the current value does not equal expected it returns a
	// [ConflictError] carrying the actual current value, allowing the caller
	// to retry with a fresh expectation.
	CompareAndSwap(ctx context.Context, k []byte, expected, proposed Value) error

	// Merge combines the value currently associated with k with operand,
	// using the store's configured [MergeFunc], then stores the result.
	//
	// It returns the merged value, or ok == false if the merge deleted the
	// key. It returns [ErrNoMerge] if the store has no merge function
	// configured.
	Merge(ctx context.Context, k, operand []byte) (v []byte, ok bool, err error)

	// Flush blocks until every write applied before the call is as durable as
	// the underlying engine can make it.
	Flush(ctx context.Context) error

	// Max returns the entry with the greatest key.
	Max(ctx context.Context) (e Entry, ok bool, err error)

	// Pred returns the entry with the greatest key strictly less than k.
	Pred(ctx context.Context, k []byte) (e Entry, ok bool, err error)

	// PredInclusive returns the entry with the greatest key less than or
	// equal to k.
	PredInclusive(ctx context.Context, k []byte) (e Entry, ok bool, err error)

	// Succ returns the entry with the least key strictly greater than k.
	Succ(ctx context.Context, k []byte) (e Entry, ok bool, err error)

	// SuccInclusive returns the entry with the least key greater than or
	// equal to k.
	SuccInclusive(ctx context.Context, k []byte) (e Entry, ok bool, err error)

	// Range invokes fn for each entry in the tree, in ascending key order.
	Range(ctx context.Context, fn RangeFunc) error

	// RangeFrom invokes fn for each entry with a key greater than or equal to
	// k, in ascending key order.
	RangeFrom(ctx context.Context, k []byte, fn RangeFunc) error

	// RangeBetween invokes fn for each entry with a key in the half-open
	// interval [start, end), in ascending key order.
	//
	// It invokes fn for no entries if start >= end.
	RangeBetween(ctx context.Context, start, end []byte, fn RangeFunc) error

	// Close closes the tree.
	Close() error
}
