package dynamotree

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/dogmatiq/treekit/internal/syncx"
	"github.com/dogmatiq/treekit/tree"
)

// store is an implementation of [tree.Store] that persists to a DynamoDB
// table.
type store struct {
	Client    *dynamodb.Client
	Table     string
	Merge     tree.MergeFunc
	OnRequest func(any) []func(*dynamodb.Options)

	createTableOnce syncx.SucceedOnce
}

// NewStore returns a new [tree.Store] that uses the given DynamoDB client to
// store trees in the given table.
func NewStore(
	client *dynamodb.Client,
	table string,
	options ...Option,
) tree.Store {
	if table == "" {
		panic("table name must not be empty")
	}

	s := &store{
		Client: client,
		Table:  table,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Option is a functional option that changes the behavior of [NewStore].
type Option func(*store)

// WithMerge is an [Option] that configures fn as the merge function applied by
// [tree.Tree.Merge].
func WithMerge(fn tree.MergeFunc) Option {
	return func(s *store) {
		s.Merge = fn
	}
}

// WithRequestHook is an [Option] that configures fn as a pre-request hook.
//
// Before each DynamoDB API request, fn is passed a pointer to the input struct,
// e.g. [dynamodb.GetItemInput], which it may modify in-place. It may be called
// with any DynamoDB request type. The types of requests used may change in any
// version without notice.
//
// Any functions returned by fn will be applied to the request's options before
// the request is sent.
func WithRequestHook(fn func(any) []func(*dynamodb.Options)) Option {
	return func(s *store) {
		s.OnRequest = fn
	}
}

// Open returns the tree with the given name.
func (s *store) Open(ctx context.Context, name string) (tree.Tree, error) {
	if err := s.createTableOnce.Do(ctx, s.createTable); err != nil {
		return nil, err
	}

	t := &dynatree{
		Client:    s.Client,
		MergeFunc: s.Merge,
		OnRequest: s.OnRequest,
		name:      name,
		table:     s.Table,
	}

	t.attr.Tree.Value = name
	t.prepareRequests()

	return t, nil
}
