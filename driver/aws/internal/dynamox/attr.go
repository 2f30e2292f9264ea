package dynamox

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AttrAs returns the attribute of an item with the given name, which must be
// of type T.
func AttrAs[T types.AttributeValue](
	item map[string]types.AttributeValue,
	name string,
) (T, error) {
	a, ok := item[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("item is corrupt: %q attribute is missing", name)
	}

	v, ok := a.(T)
	if !ok {
		return v, fmt.Errorf(
			"item is corrupt: %q attribute is %T, expected %T",
			name,
			a,
			v,
		)
	}

	return v, nil
}
