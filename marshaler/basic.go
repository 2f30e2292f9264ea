package marshaler

import (
	"encoding/binary"
	"fmt"
)

var (
	// String marshals and unmarshals the built-in string type by performing a
	// Go type-conversion.
	//
	// The lexicographic order of marshaled strings matches the order of the
	// strings themselves, so it is suitable for marshaling tree keys.
	String = New(
		func(v string) ([]byte, error) {
			return []byte(v), nil
		},
		func(data []byte) (string, error) {
			return string(data), nil
		},
	)

	// Bool marshals and unmarshals the built-in bool type.
	Bool = New(
		func(v bool) ([]byte, error) {
			if v {
				return []byte{1}, nil
			}
			return nil, nil
		},
		func(data []byte) (bool, error) {
			return len(data) > 0, nil
		},
	)

	// Uint64 marshals the built-in uint64 type as 8 big-endian bytes.
	//
	// The lexicographic order of marshaled values matches their numeric
	// order, so it is suitable for marshaling tree keys.
	Uint64 = New(
		func(v uint64) ([]byte, error) {
			var data [8]byte
			binary.BigEndian.PutUint64(data[:], v)
			return data[:], nil
		},
		func(data []byte) (uint64, error) {
			if len(data) != 8 {
				return 0, fmt.Errorf("data must be exactly 8 bytes, got %d", len(data))
			}
			return binary.BigEndian.Uint64(data), nil
		},
	)
)
