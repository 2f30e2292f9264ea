package marshaler

import (
	"google.golang.org/protobuf/proto"
)

// NewProto returns a marshaler for Protocol Buffers messages of concrete type
// S.
func NewProto[
	T interface {
		proto.Message
		*S
	},
	S any,
]() Marshaler[T] {
	return New(
		func(m T) ([]byte, error) {
			return proto.Marshal(m)
		},
		func(data []byte) (T, error) {
			m := T(new(S))
			return m, proto.Unmarshal(data, m)
		},
	)
}
