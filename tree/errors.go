package tree

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrNoMerge is returned by [Tree.Merge] if the store has no merge function
// configured.
var ErrNoMerge = errors.New("no merge function is configured")

// IsConflict returns true if err is caused by [ConflictError].
func IsConflict(err error) bool {
	var target interface {
		isConflictError()
	}

	return errors.As(err, &target)
}

// ConflictError is returned by [Tree.CompareAndSwap] if the value currently
// associated with the key does not equal the expected value.
//
// It is a distinct outcome, not an engine failure: the operation was attempted
// and refused because the caller's expectation was stale. Current carries the
// actual value at the time of the comparison so the caller can retry with a
// fresh expectation.
type ConflictError struct {
	// Tree is the name of the tree in which the conflict occurred.
	Tree string

	// Key is the key on which the conflict occurred.
	Key []byte

	// Current is the value that was actually associated with Key, or the
	// absent value if the key was absent.
	Current Value
}

func (e ConflictError) Error() string {
	return fmt.Sprintf(
		"the expected value for key %s in the %q tree does not match the current value",
		strconv.QuoteToASCII(string(e.Key)),
		e.Tree,
	)
}

func (ConflictError) isConflictError() {}
