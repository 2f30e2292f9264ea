package marshaler

// A Marshaler converts values of type T to and from a binary representation.
type Marshaler[T any] interface {
	Marshal(T) ([]byte, error)
	Unmarshal([]byte) (T, error)
}

// New returns a [Marshaler] built from a pair of functions.
func New[T any](
	marshal func(T) ([]byte, error),
	unmarshal func([]byte) (T, error),
) Marshaler[T] {
	return pair[T]{marshal, unmarshal}
}

// pair is a [Marshaler] implemented by free functions.
type pair[T any] struct {
	marshal   func(T) ([]byte, error)
	unmarshal func([]byte) (T, error)
}

func (p pair[T]) Marshal(v T) ([]byte, error) {
	return p.marshal(v)
}

func (p pair[T]) Unmarshal(data []byte) (T, error) {
	return p.unmarshal(data)
}
