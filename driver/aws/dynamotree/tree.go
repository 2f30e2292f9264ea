package dynamotree

import (
	"bytes"
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dogmatiq/treekit/driver/aws/internal/awsx"
	"github.com/dogmatiq/treekit/driver/aws/internal/dynamox"
	"github.com/dogmatiq/treekit/tree"
)

type dynatree struct {
	Client    *dynamodb.Client
	MergeFunc tree.MergeFunc
	OnRequest func(any) []func(*dynamodb.Options)

	name  string
	table string

	attr struct {
		Tree  types.AttributeValueMemberS
		Key   types.AttributeValueMemberB
		Value types.AttributeValueMemberB
	}

	request struct {
		Get    dynamodb.GetItemInput
		Put    dynamodb.PutItemInput
		Delete dynamodb.DeleteItemInput
		Range  dynamodb.QueryInput
	}
}

func (t *dynatree) prepareRequests() {
	key := map[string]types.AttributeValue{
		treeAttr: &t.attr.Tree,
		keyAttr:  &t.attr.Key,
	}

	// Get fetches the value associated with t.attr.Key.
	t.request.Get = dynamodb.GetItemInput{
		TableName:            &t.table,
		Key:                  key,
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String(`#V`),
		ExpressionAttributeNames: map[string]string{
			"#V": valueAttr,
		},
	}

	// Put sets the value associated with t.attr.Key to t.attr.Value, and
	// reports the displaced item.
	t.request.Put = dynamodb.PutItemInput{
		TableName: &t.table,
		Item: map[string]types.AttributeValue{
			treeAttr:  &t.attr.Tree,
			keyAttr:   &t.attr.Key,
			valueAttr: &t.attr.Value,
		},
		ReturnValues: types.ReturnValueAllOld,
	}

	// Delete removes t.attr.Key, and reports the displaced item.
	t.request.Delete = dynamodb.DeleteItemInput{
		TableName:    &t.table,
		Key:          key,
		ReturnValues: types.ReturnValueAllOld,
	}

	// Range fetches all entries in the tree, in ascending key order.
	t.request.Range = dynamodb.QueryInput{
		TableName:              &t.table,
		KeyConditionExpression: aws.String(`#T = :T`),
		ProjectionExpression:   aws.String(`#K, #V`),
		ConsistentRead:         aws.Bool(true),
		ExpressionAttributeNames: map[string]string{
			"#T": treeAttr,
			"#K": keyAttr,
			"#V": valueAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":T": &t.attr.Tree,
		},
	}
}

func (t *dynatree) Name() string {
	return t.name
}

func (t *dynatree) Get(ctx context.Context, k []byte) ([]byte, bool, error) {
	t.attr.Key.Value = encodeKey(k)

	out, err := awsx.Do(
		ctx,
		t.Client.GetItem,
		t.OnRequest,
		&t.request.Get,
	)
	if err != nil || out.Item == nil {
		return nil, false, err
	}

	v, err := dynamox.AttrAs[*types.AttributeValueMemberB](out.Item, valueAttr)
	if err != nil {
		return nil, false, err
	}

	return v.Value, true, nil
}

func (t *dynatree) Set(ctx context.Context, k, v []byte) ([]byte, bool, error) {
	t.attr.Key.Value = encodeKey(k)
	t.attr.Value.Value = v

	out, err := awsx.Do(
		ctx,
		t.Client.PutItem,
		t.OnRequest,
		&t.request.Put,
	)
	if err != nil {
		return nil, false, err
	}

	return displacedValue(out.Attributes)
}

func (t *dynatree) Delete(ctx context.Context, k []byte) ([]byte, bool, error) {
	t.attr.Key.Value = encodeKey(k)

	out, err := awsx.Do(
		ctx,
		t.Client.DeleteItem,
		t.OnRequest,
		&t.request.Delete,
	)
	if err != nil {
		return nil, false, err
	}

	return displacedValue(out.Attributes)
}

func (t *dynatree) CompareAndSwap(ctx context.Context, k []byte, expected, proposed tree.Value) error {
	if !expected.IsPresent() && !proposed.IsPresent() {
		// There is nothing to write; the swap succeeds if the key is absent.
		v, ok, err := t.Get(ctx, k)
		if err != nil || !ok {
			return err
		}

		return tree.ConflictError{
			Tree:    t.name,
			Key:     k,
			Current: tree.Present(v),
		}
	}

	var (
		condition string
		names     = map[string]string{}
		values    map[string]types.AttributeValue
	)

	if expected.IsPresent() {
		condition = `#V = :expected`
		names["#V"] = valueAttr
		values = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberB{
				Value: expected.Bytes(),
			},
		}
	} else {
		condition = `attribute_not_exists(#K)`
		names["#K"] = keyAttr
	}

	item := map[string]types.AttributeValue{
		treeAttr: &types.AttributeValueMemberS{Value: t.name},
		keyAttr:  &types.AttributeValueMemberB{Value: encodeKey(k)},
	}

	var err error
	if proposed.IsPresent() {
		item[valueAttr] = &types.AttributeValueMemberB{
			Value: proposed.Bytes(),
		}

		_, err = awsx.Do(
			ctx,
			t.Client.PutItem,
			t.OnRequest,
			&dynamodb.PutItemInput{
				TableName:                           &t.table,
				Item:                                item,
				ConditionExpression:                 &condition,
				ExpressionAttributeNames:            names,
				ExpressionAttributeValues:           values,
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
			},
		)
	} else {
		delete(item, valueAttr)

		_, err = awsx.Do(
			ctx,
			t.Client.DeleteItem,
			t.OnRequest,
			&dynamodb.DeleteItemInput{
				TableName:                           &t.table,
				Key:                                 item,
				ConditionExpression:                 &condition,
				ExpressionAttributeNames:            names,
				ExpressionAttributeValues:           values,
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
			},
		)
	}

	return t.conflict(k, err)
}

// conflict converts a conditional check failure into a [tree.ConflictError]
// that describes the current state of the key.
func (t *dynatree) conflict(k []byte, err error) error {
	var failed *types.ConditionalCheckFailedException
	if !errors.As(err, &failed) {
		return err
	}

	current := tree.Absent()
	if failed.Item != nil {
		v, err := dynamox.AttrAs[*types.AttributeValueMemberB](failed.Item, valueAttr)
		if err != nil {
			return err
		}
		current = tree.Present(v.Value)
	}

	return tree.ConflictError{
		Tree:    t.name,
		Key:     k,
		Current: current,
	}
}

func (t *dynatree) Merge(ctx context.Context, k, operand []byte) ([]byte, bool, error) {
	return tree.Merge(ctx, t, t.MergeFunc, k, operand)
}

// Flush is a no-op; each write is durable before its response is returned.
func (t *dynatree) Flush(ctx context.Context) error {
	return ctx.Err()
}

func (t *dynatree) Max(ctx context.Context) (tree.Entry, bool, error) {
	return t.lookup(ctx, `#T = :T`, nil, false)
}

func (t *dynatree) Pred(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return t.lookup(ctx, `#T = :T AND #K < :K`, encodeKey(k), false)
}

func (t *dynatree) PredInclusive(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return t.lookup(ctx, `#T = :T AND #K <= :K`, encodeKey(k), false)
}

func (t *dynatree) Succ(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return t.lookup(ctx, `#T = :T AND #K > :K`, encodeKey(k), true)
}

func (t *dynatree) SuccInclusive(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return t.lookup(ctx, `#T = :T AND #K >= :K`, encodeKey(k), true)
}

// lookup returns the first entry produced by a query over the tree's keys in
// either direction. k is the encoded key bound to :K, or nil if the condition
// has no key operand.
func (t *dynatree) lookup(
	ctx context.Context,
	condition string,
	k []byte,
	forward bool,
) (tree.Entry, bool, error) {
	in := &dynamodb.QueryInput{
		TableName:              &t.table,
		KeyConditionExpression: &condition,
		ProjectionExpression:   aws.String(`#K, #V`),
		ConsistentRead:         aws.Bool(true),
		ScanIndexForward:       aws.Bool(forward),
		Limit:                  aws.Int32(1),
		ExpressionAttributeNames: map[string]string{
			"#T": treeAttr,
			"#K": keyAttr,
			"#V": valueAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":T": &types.AttributeValueMemberS{Value: t.name},
		},
	}

	if k != nil {
		in.ExpressionAttributeValues[":K"] = &types.AttributeValueMemberB{
			Value: k,
		}
	}

	out, err := awsx.Do(ctx, t.Client.Query, t.OnRequest, in)
	if err != nil {
		return tree.Entry{}, false, err
	}

	if len(out.Items) == 0 {
		return tree.Entry{}, false, nil
	}

	e, err := decodeEntry(out.Items[0])
	if err != nil {
		return tree.Entry{}, false, err
	}

	return e, true, nil
}

func (t *dynatree) Range(ctx context.Context, fn tree.RangeFunc) error {
	return dynamox.Range(
		ctx,
		t.Client,
		t.OnRequest,
		&t.request.Range,
		func(ctx context.Context, item map[string]types.AttributeValue) (bool, error) {
			e, err := decodeEntry(item)
			if err != nil {
				return false, err
			}
			return fn(ctx, e.Key, e.Value)
		},
	)
}

func (t *dynatree) RangeFrom(ctx context.Context, k []byte, fn tree.RangeFunc) error {
	return t.rangeFrom(ctx, k, nil, fn)
}

func (t *dynatree) RangeBetween(ctx context.Context, start, end []byte, fn tree.RangeFunc) error {
	if bytes.Compare(start, end) >= 0 {
		return nil
	}

	return t.rangeFrom(ctx, start, end, fn)
}

// rangeFrom queries all entries with keys greater than or equal to start.
//
// Key conditions cannot express a half-open interval, so the exclusive upper
// bound is applied on the client by stopping at the first key that reaches
// end.
func (t *dynatree) rangeFrom(
	ctx context.Context,
	start, end []byte,
	fn tree.RangeFunc,
) error {
	in := &dynamodb.QueryInput{
		TableName:              &t.table,
		KeyConditionExpression: aws.String(`#T = :T AND #K >= :K`),
		ProjectionExpression:   aws.String(`#K, #V`),
		ConsistentRead:         aws.Bool(true),
		ExpressionAttributeNames: map[string]string{
			"#T": treeAttr,
			"#K": keyAttr,
			"#V": valueAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":T": &types.AttributeValueMemberS{Value: t.name},
			":K": &types.AttributeValueMemberB{Value: encodeKey(start)},
		},
	}

	return dynamox.Range(
		ctx,
		t.Client,
		t.OnRequest,
		in,
		func(ctx context.Context, item map[string]types.AttributeValue) (bool, error) {
			e, err := decodeEntry(item)
			if err != nil {
				return false, err
			}

			if end != nil && bytes.Compare(e.Key, end) >= 0 {
				return false, nil
			}

			return fn(ctx, e.Key, e.Value)
		},
	)
}

func (t *dynatree) Close() error {
	return nil
}

// displacedValue extracts the value displaced by a write from the item
// reported by a request with ReturnValues set to ALL_OLD.
func displacedValue(item map[string]types.AttributeValue) ([]byte, bool, error) {
	if item == nil {
		return nil, false, nil
	}

	v, err := dynamox.AttrAs[*types.AttributeValueMemberB](item, valueAttr)
	if err != nil {
		return nil, false, err
	}

	return v.Value, true, nil
}

func decodeEntry(item map[string]types.AttributeValue) (tree.Entry, error) {
	k, err := dynamox.AttrAs[*types.AttributeValueMemberB](item, keyAttr)
	if err != nil {
		return tree.Entry{}, err
	}

	v, err := dynamox.AttrAs[*types.AttributeValueMemberB](item, valueAttr)
	if err != nil {
		return tree.Entry{}, err
	}

	return tree.Entry{
		Key:   decodeKey(k.Value),
		Value: v.Value,
	}, nil
}
