package dynamotree

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dogmatiq/treekit/driver/aws/internal/dynamox"
)

var (
	// treeAttr is the name of the attribute that stores the tree name on each
	// item. Together with [keyAttr], it forms the primary key of the table.
	treeAttr = "T"

	// keyAttr is the name of the attribute that stores the encoded key on each
	// item. Together with [treeAttr], it forms the primary key of the table.
	keyAttr = "K"

	// valueAttr is the name of the attribute that stores the value on each
	// item.
	valueAttr = "V"
)

// createTable creates the DynamoDB table if it does not already exist.
func (s *store) createTable(ctx context.Context) error {
	return dynamox.CreateTableIfNotExists(
		ctx,
		s.Client,
		s.Table,
		s.OnRequest,
		dynamox.KeyAttr{
			Name:    &treeAttr,
			Type:    types.ScalarAttributeTypeS,
			KeyType: types.KeyTypeHash,
		},
		dynamox.KeyAttr{
			Name:    &keyAttr,
			Type:    types.ScalarAttributeTypeB,
			KeyType: types.KeyTypeRange,
		},
	)
}

// encodeKey prepends a constant marker byte to k.
//
// DynamoDB rejects zero-length binary sort keys, which would otherwise make
// the empty key unrepresentable. A constant prefix preserves the relative
// order of encoded keys.
func encodeKey(k []byte) []byte {
	return append([]byte{0}, k...)
}

// decodeKey strips the marker byte prepended by [encodeKey].
func decodeKey(k []byte) []byte {
	return k[1:]
}
