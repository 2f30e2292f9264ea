package errorx

import (
	"fmt"

	"github.com/dogmatiq/treekit/tree"
)

// Wrap adds additional context to an error.
//
// Conflict errors are passed through unchanged so that they remain matchable
// with [tree.IsConflict].
func Wrap(err *error, format string, args ...any) {
	if err == nil {
		panic("err must not be nil")
	}

	if *err == nil {
		return
	}

	if tree.IsConflict(*err) {
		return
	}

	*err = fmt.Errorf(format+": %w", append(args, *err)...)
}
