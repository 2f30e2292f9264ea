package tree

import "context"

// ConcatMerge is a [MergeFunc] that appends the operand to the existing
// value.
//
// It is the merge function that [RunTests] assumes the store under test is
// configured with.
var ConcatMerge MergeFunc = func(_, existing []byte, _ bool, operand []byte) ([]byte, bool, error) {
	v := make([]byte, 0, len(existing)+len(operand))
	v = append(v, existing...)
	v = append(v, operand...)
	return v, true, nil
}

// Merge applies fn to the value currently associated with k in t using a
// compare-and-swap loop.
//
// It is intended for use by drivers whose underlying engine has no native
// merge primitive; the atomicity of the merge is delegated to
// [Tree.CompareAndSwap]. The loop re-reads the current value and retries
// whenever the swap is refused, so fn may be invoked more than once.
func Merge(
	ctx context.Context,
	t Tree,
	fn MergeFunc,
	k, operand []byte,
) (v []byte, ok bool, err error) {
	if fn == nil {
		return nil, false, ErrNoMerge
	}

	for {
		existing, exists, err := t.Get(ctx, k)
		if err != nil {
			return nil, false, err
		}

		v, ok, err := fn(k, existing, exists, operand)
		if err != nil {
			return nil, false, err
		}

		expected := Absent()
		if exists {
			expected = Present(existing)
		}

		proposed := Absent()
		if ok {
			proposed = Present(v)
		}

		switch err := t.CompareAndSwap(ctx, k, expected, proposed); {
		case err == nil:
			return v, ok, nil
		case !IsConflict(err):
			return nil, false, err
		}
	}
}
