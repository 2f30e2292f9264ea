package memorytree

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/dogmatiq/dyad"
	"github.com/dogmatiq/treekit/tree"
)

// state is the in-memory state of a tree, shared by every [tree.Tree] opened
// under the same name.
type state struct {
	sync.RWMutex

	// Entries is sorted by key in ascending lexicographic order. Its key and
	// value slices are owned by the state and are never mutated in place.
	Entries []entry
}

type entry struct {
	Key   []byte
	Value []byte
}

// search returns the index at which k resides, or the index at which it would
// be inserted.
func (s *state) search(k []byte) (int, bool) {
	return slices.BinarySearchFunc(
		s.Entries,
		k,
		func(e entry, k []byte) int {
			return bytes.Compare(e.Key, k)
		},
	)
}

// memtree is an implementation of [tree.Tree] that manipulates a tree's
// in-memory [state].
type memtree struct {
	name      string
	state     *state
	merge     tree.MergeFunc
	beforeSet func(tr string, k, v []byte) error
	afterSet  func(tr string, k, v []byte) error
}

func (t *memtree) Name() string {
	return t.name
}

func (t *memtree) Get(ctx context.Context, k []byte) ([]byte, bool, error) {
	if t.state == nil {
		panic("tree is closed")
	}

	t.state.RLock()
	defer t.state.RUnlock()

	i, ok := t.state.search(k)
	if !ok {
		return nil, false, ctx.Err()
	}

	return dyad.Clone(t.state.Entries[i].Value), true, ctx.Err()
}

func (t *memtree) Set(ctx context.Context, k, v []byte) ([]byte, bool, error) {
	if t.state == nil {
		panic("tree is closed")
	}

	k = dyad.Clone(k)
	v = dyad.Clone(v)

	t.state.Lock()
	defer t.state.Unlock()

	if t.beforeSet != nil {
		if err := t.beforeSet(t.name, k, v); err != nil {
			return nil, false, err
		}
	}

	prev, ok := t.state.apply(k, tree.Present(v))

	if t.afterSet != nil {
		if err := t.afterSet(t.name, k, v); err != nil {
			return nil, false, err
		}
	}

	return prev, ok, ctx.Err()
}

func (t *memtree) Delete(ctx context.Context, k []byte) ([]byte, bool, error) {
	if t.state == nil {
		panic("tree is closed")
	}

	t.state.Lock()
	defer t.state.Unlock()

	prev, ok := t.state.apply(k, tree.Absent())

	return prev, ok, ctx.Err()
}

func (t *memtree) CompareAndSwap(ctx context.Context, k []byte, expected, proposed tree.Value) error {
	if t.state == nil {
		panic("tree is closed")
	}

	t.state.Lock()
	defer t.state.Unlock()

	current := tree.Absent()
	if i, ok := t.state.search(k); ok {
		current = tree.Present(t.state.Entries[i].Value)
	}

	if !current.Equal(expected) {
		conflict := tree.Absent()
		if current.IsPresent() {
			conflict = tree.Present(dyad.Clone(current.Bytes()))
		}

		return tree.ConflictError{
			Tree:    t.name,
			Key:     dyad.Clone(k),
			Current: conflict,
		}
	}

	if proposed.IsPresent() {
		t.state.apply(dyad.Clone(k), tree.Present(dyad.Clone(proposed.Bytes())))
	} else {
		t.state.apply(k, tree.Absent())
	}

	return ctx.Err()
}

func (t *memtree) Merge(ctx context.Context, k, operand []byte) ([]byte, bool, error) {
	if t.state == nil {
		panic("tree is closed")
	}

	if t.merge == nil {
		return nil, false, tree.ErrNoMerge
	}

	t.state.Lock()
	defer t.state.Unlock()

	var existing []byte
	i, exists := t.state.search(k)
	if exists {
		existing = t.state.Entries[i].Value
	}

	v, ok, err := t.merge(k, existing, exists, operand)
	if err != nil {
		return nil, false, err
	}

	if ok {
		t.state.apply(dyad.Clone(k), tree.Present(dyad.Clone(v)))
		return dyad.Clone(v), true, ctx.Err()
	}

	t.state.apply(k, tree.Absent())

	return nil, false, ctx.Err()
}

func (t *memtree) Flush(ctx context.Context) error {
	if t.state == nil {
		panic("tree is closed")
	}

	return ctx.Err()
}

func (t *memtree) Max(ctx context.Context) (tree.Entry, bool, error) {
	if t.state == nil {
		panic("tree is closed")
	}

	t.state.RLock()
	defer t.state.RUnlock()

	n := len(t.state.Entries)
	if n == 0 {
		return tree.Entry{}, false, ctx.Err()
	}

	return cloneEntry(t.state.Entries[n-1]), true, ctx.Err()
}

func (t *memtree) Pred(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	if t.state == nil {
		panic("tree is closed")
	}

	t.state.RLock()
	defer t.state.RUnlock()

	i, _ := t.state.search(k)
	if i == 0 {
		return tree.Entry{}, false, ctx.Err()
	}

	return cloneEntry(t.state.Entries[i-1]), true, ctx.Err()
}

func (t *memtree) PredInclusive(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	if t.state == nil {
		panic("tree is closed")
	}

	t.state.RLock()
	defer t.state.RUnlock()

	i, ok := t.state.search(k)
	if ok {
		return cloneEntry(t.state.Entries[i]), true, ctx.Err()
	}
	if i == 0 {
		return tree.Entry{}, false, ctx.Err()
	}

	return cloneEntry(t.state.Entries[i-1]), true, ctx.Err()
}

func (t *memtree) Succ(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	if t.state == nil {
		panic("tree is closed")
	}

	t.state.RLock()
	defer t.state.RUnlock()

	i, ok := t.state.search(k)
	if ok {
		i++
	}
	if i >= len(t.state.Entries) {
		return tree.Entry{}, false, ctx.Err()
	}

	return cloneEntry(t.state.Entries[i]), true, ctx.Err()
}

func (t *memtree) SuccInclusive(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	if t.state == nil {
		panic("tree is closed")
	}

	t.state.RLock()
	defer t.state.RUnlock()

	i, _ := t.state.search(k)
	if i >= len(t.state.Entries) {
		return tree.Entry{}, false, ctx.Err()
	}

	return cloneEntry(t.state.Entries[i]), true, ctx.Err()
}

func (t *memtree) Range(ctx context.Context, fn tree.RangeFunc) error {
	return t.rangeEntries(
		ctx,
		func(s *state) []entry {
			return s.Entries
		},
		fn,
	)
}

func (t *memtree) RangeFrom(ctx context.Context, k []byte, fn tree.RangeFunc) error {
	return t.rangeEntries(
		ctx,
		func(s *state) []entry {
			i, _ := s.search(k)
			return s.Entries[i:]
		},
		fn,
	)
}

func (t *memtree) RangeBetween(ctx context.Context, start, end []byte, fn tree.RangeFunc) error {
	return t.rangeEntries(
		ctx,
		func(s *state) []entry {
			i, _ := s.search(start)
			j, _ := s.search(end)
			if j < i {
				j = i
			}
			return s.Entries[i:j]
		},
		fn,
	)
}

func (t *memtree) rangeEntries(
	ctx context.Context,
	subset func(*state) []entry,
	fn tree.RangeFunc,
) error {
	if t.state == nil {
		panic("tree is closed")
	}

	t.state.RLock()
	entries := slices.Clone(subset(t.state))
	t.state.RUnlock()

	for _, e := range entries {
		ok, err := fn(ctx, dyad.Clone(e.Key), dyad.Clone(e.Value))
		if !ok || err != nil {
			return err
		}
	}

	return ctx.Err()
}

func (t *memtree) Close() error {
	if t.state == nil {
		return errors.New("tree is already closed")
	}

	t.state = nil

	return nil
}

// apply sets or deletes the value associated with k, and returns the displaced
// value, if any.
//
// The state takes ownership of k and of v's contents. The caller assumes
// ownership of the returned value.
func (s *state) apply(k []byte, v tree.Value) ([]byte, bool) {
	i, ok := s.search(k)

	if v.IsPresent() {
		if ok {
			prev := s.Entries[i].Value
			s.Entries[i].Value = v.Bytes()
			return prev, true
		}

		s.Entries = slices.Insert(s.Entries, i, entry{k, v.Bytes()})
		return nil, false
	}

	if !ok {
		return nil, false
	}

	prev := s.Entries[i].Value
	s.Entries = slices.Delete(s.Entries, i, i+1)

	return prev, true
}

func cloneEntry(e entry) tree.Entry {
	return tree.Entry{
		Key:   dyad.Clone(e.Key),
		Value: dyad.Clone(e.Value),
	}
}
