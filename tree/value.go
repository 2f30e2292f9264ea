package tree

import (
	"bytes"
	"strconv"
)

// Value is an optional byte sequence.
//
// The zero value represents absence. A present value, including a present
// empty value, is never equal to the absent value. This distinction is used
// wherever "no value" must not be confused with "an empty value", most notably
// by [Tree.CompareAndSwap].
type Value struct {
	data    []byte
	present bool
}

// Present returns a [Value] containing data.
//
// A nil slice is normalized to an empty one; the result is always present.
func Present(data []byte) Value {
	if data == nil {
		data = []byte{}
	}
	return Value{data, true}
}

// Absent returns the absent [Value].
func Absent() Value {
	return Value{}
}

// IsPresent returns true if v contains a byte sequence.
func (v Value) IsPresent() bool {
	return v.present
}

// Bytes returns the byte sequence within v, or nil if v is absent.
//
// A nil return value does not on its own distinguish absence from emptiness;
// use [Value.Get] or [Value.IsPresent] where the distinction matters.
func (v Value) Bytes() []byte {
	return v.data
}

// Get returns the byte sequence within v, and whether v is present.
func (v Value) Get() ([]byte, bool) {
	return v.data, v.present
}

// Equal returns true if v and x are both absent, or both present with equal
// byte sequences.
func (v Value) Equal(x Value) bool {
	if v.present != x.present {
		return false
	}
	return !v.present || bytes.Equal(v.data, x.data)
}

func (v Value) String() string {
	if !v.present {
		return "<absent>"
	}
	return strconv.QuoteToASCII(string(v.data))
}
