package typedtree

import (
	"context"

	"github.com/dogmatiq/treekit/tree"
)

// An Entry is a key/value pair of type K/V.
type Entry[K, V any] struct {
	Key   K
	Value V
}

// A RangeFunc is a function used to range over the entries of a [Tree].
//
// If err is non-nil, ranging stops and err is propagated up the stack.
// Otherwise, if ok is false, ranging stops without any error being propagated.
type RangeFunc[K, V any] func(context.Context, K, V) (ok bool, err error)

// A Tree is an ordered collection of entries with keys of type K and values of
// type V.
type Tree[K, V any, KM Marshaler[K], VM Marshaler[V]] struct {
	tree.Tree
	keyMarshaler   KM
	valueMarshaler VM
}

// Get returns the value associated with k.
//
// If the key does not exist v is the zero-value and ok is false.
func (t Tree[K, V, KM, VM]) Get(ctx context.Context, k K) (v V, ok bool, err error) {
	var zero V

	keyData, err := t.keyMarshaler.Marshal(k)
	if err != nil {
		return zero, false, err
	}

	valueData, ok, err := t.Tree.Get(ctx, keyData)
	if err != nil || !ok {
		return zero, false, err
	}

	v, err = t.valueMarshaler.Unmarshal(valueData)
	return v, true, err
}

// Set associates a value with k, and returns the previous value, if any.
func (t Tree[K, V, KM, VM]) Set(ctx context.Context, k K, v V) (prev V, ok bool, err error) {
	var zero V

	keyData, err := t.keyMarshaler.Marshal(k)
	if err != nil {
		return zero, false, err
	}

	valueData, err := t.valueMarshaler.Marshal(v)
	if err != nil {
		return zero, false, err
	}

	prevData, ok, err := t.Tree.Set(ctx, keyData, valueData)
	if err != nil || !ok {
		return zero, false, err
	}

	prev, err = t.valueMarshaler.Unmarshal(prevData)
	return prev, true, err
}

// Delete removes the entry for k, and returns the removed value, if any.
func (t Tree[K, V, KM, VM]) Delete(ctx context.Context, k K) (prev V, ok bool, err error) {
	var zero V

	keyData, err := t.keyMarshaler.Marshal(k)
	if err != nil {
		return zero, false, err
	}

	prevData, ok, err := t.Tree.Delete(ctx, keyData)
	if err != nil || !ok {
		return zero, false, err
	}

	prev, err = t.valueMarshaler.Unmarshal(prevData)
	return prev, true, err
}

// CompareAndSwap atomically replaces the value associated with k if the stored
// value matches the expectation.
//
// A nil expected or proposed pointer expects or proposes the absence of the
// entry, respectively.
func (t Tree[K, V, KM, VM]) CompareAndSwap(ctx context.Context, k K, expected, proposed *V) error {
	keyData, err := t.keyMarshaler.Marshal(k)
	if err != nil {
		return err
	}

	expectedValue, err := t.marshalOptional(expected)
	if err != nil {
		return err
	}

	proposedValue, err := t.marshalOptional(proposed)
	if err != nil {
		return err
	}

	return t.Tree.CompareAndSwap(ctx, keyData, expectedValue, proposedValue)
}

// Merge combines the value associated with k with v, using the merge function
// configured on the underlying store.
func (t Tree[K, V, KM, VM]) Merge(ctx context.Context, k K, v V) (merged V, ok bool, err error) {
	var zero V

	keyData, err := t.keyMarshaler.Marshal(k)
	if err != nil {
		return zero, false, err
	}

	valueData, err := t.valueMarshaler.Marshal(v)
	if err != nil {
		return zero, false, err
	}

	mergedData, ok, err := t.Tree.Merge(ctx, keyData, valueData)
	if err != nil || !ok {
		return zero, false, err
	}

	merged, err = t.valueMarshaler.Unmarshal(mergedData)
	return merged, true, err
}

// Max returns the entry with the greatest key.
func (t Tree[K, V, KM, VM]) Max(ctx context.Context) (Entry[K, V], bool, error) {
	e, ok, err := t.Tree.Max(ctx)
	if err != nil || !ok {
		return Entry[K, V]{}, false, err
	}
	return t.unmarshalEntry(e)
}

// Pred returns the entry with the greatest key that is strictly less than k.
func (t Tree[K, V, KM, VM]) Pred(ctx context.Context, k K) (Entry[K, V], bool, error) {
	return t.lookup(ctx, k, t.Tree.Pred)
}

// PredInclusive returns the entry with the greatest key that is less than or
// equal to k.
func (t Tree[K, V, KM, VM]) PredInclusive(ctx context.Context, k K) (Entry[K, V], bool, error) {
	return t.lookup(ctx, k, t.Tree.PredInclusive)
}

// Succ returns the entry with the least key that is strictly greater than k.
func (t Tree[K, V, KM, VM]) Succ(ctx context.Context, k K) (Entry[K, V], bool, error) {
	return t.lookup(ctx, k, t.Tree.Succ)
}

// SuccInclusive returns the entry with the least key that is greater than or
// equal to k.
func (t Tree[K, V, KM, VM]) SuccInclusive(ctx context.Context, k K) (Entry[K, V], bool, error) {
	return t.lookup(ctx, k, t.Tree.SuccInclusive)
}

// Range invokes fn for each entry in the tree, in ascending key order.
func (t Tree[K, V, KM, VM]) Range(ctx context.Context, fn RangeFunc[K, V]) error {
	return t.Tree.Range(ctx, t.unmarshalingRangeFunc(fn))
}

// RangeFrom invokes fn for each entry with a key greater than or equal to k,
// in ascending key order.
func (t Tree[K, V, KM, VM]) RangeFrom(ctx context.Context, k K, fn RangeFunc[K, V]) error {
	keyData, err := t.keyMarshaler.Marshal(k)
	if err != nil {
		return err
	}
	return t.Tree.RangeFrom(ctx, keyData, t.unmarshalingRangeFunc(fn))
}

// RangeBetween invokes fn for each entry with a key greater than or equal to
// start and strictly less than end, in ascending key order.
func (t Tree[K, V, KM, VM]) RangeBetween(ctx context.Context, start, end K, fn RangeFunc[K, V]) error {
	startData, err := t.keyMarshaler.Marshal(start)
	if err != nil {
		return err
	}

	endData, err := t.keyMarshaler.Marshal(end)
	if err != nil {
		return err
	}

	return t.Tree.RangeBetween(ctx, startData, endData, t.unmarshalingRangeFunc(fn))
}

func (t Tree[K, V, KM, VM]) marshalOptional(v *V) (tree.Value, error) {
	if v == nil {
		return tree.Absent(), nil
	}

	data, err := t.valueMarshaler.Marshal(*v)
	if err != nil {
		return tree.Value{}, err
	}

	return tree.Present(data), nil
}

func (t Tree[K, V, KM, VM]) lookup(
	ctx context.Context,
	k K,
	fn func(context.Context, []byte) (tree.Entry, bool, error),
) (Entry[K, V], bool, error) {
	keyData, err := t.keyMarshaler.Marshal(k)
	if err != nil {
		return Entry[K, V]{}, false, err
	}

	e, ok, err := fn(ctx, keyData)
	if err != nil || !ok {
		return Entry[K, V]{}, false, err
	}

	return t.unmarshalEntry(e)
}

func (t Tree[K, V, KM, VM]) unmarshalEntry(e tree.Entry) (Entry[K, V], bool, error) {
	k, err := t.keyMarshaler.Unmarshal(e.Key)
	if err != nil {
		return Entry[K, V]{}, false, err
	}

	v, err := t.valueMarshaler.Unmarshal(e.Value)
	if err != nil {
		return Entry[K, V]{}, false, err
	}

	return Entry[K, V]{k, v}, true, nil
}

func (t Tree[K, V, KM, VM]) unmarshalingRangeFunc(fn RangeFunc[K, V]) tree.RangeFunc {
	return func(ctx context.Context, k, v []byte) (bool, error) {
		key, err := t.keyMarshaler.Unmarshal(k)
		if err != nil {
			return false, err
		}

		value, err := t.valueMarshaler.Unmarshal(v)
		if err != nil {
			return false, err
		}

		return fn(ctx, key, value)
	}
}
