package dynamox

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// KeyAttr describes one attribute of a table's primary key.
type KeyAttr struct {
	Name    *string
	Type    types.ScalarAttributeType
	KeyType types.KeyType
}

// CreateTableIfNotExists creates a DynamoDB table with the given primary key
// if it does not already exist, and blocks until it is ready for use.
func CreateTableIfNotExists(
	ctx context.Context,
	client *dynamodb.Client,
	table string,
	m func(any) []func(*dynamodb.Options),
	attrs ...KeyAttr,
) error {
	in := &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
	}

	for _, a := range attrs {
		in.AttributeDefinitions = append(
			in.AttributeDefinitions,
			types.AttributeDefinition{
				AttributeName: a.Name,
				AttributeType: a.Type,
			},
		)
		in.KeySchema = append(
			in.KeySchema,
			types.KeySchemaElement{
				AttributeName: a.Name,
				KeyType:       a.KeyType,
			},
		)
	}

	var options []func(*dynamodb.Options)
	if m != nil {
		options = m(in)
	}

	if _, err := client.CreateTable(ctx, in, options...); err != nil {
		if !errors.As(err, new(*types.ResourceInUseException)) {
			return err
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(client)

	return waiter.Wait(
		ctx,
		&dynamodb.DescribeTableInput{
			TableName: aws.String(table),
		},
		30*time.Second,
	)
}

// DeleteTableIfExists deletes a DynamoDB table if it exists.
func DeleteTableIfExists(
	ctx context.Context,
	client *dynamodb.Client,
	table string,
) error {
	if _, err := client.DeleteTable(
		ctx,
		&dynamodb.DeleteTableInput{
			TableName: aws.String(table),
		},
	); err != nil {
		if !errors.As(err, new(*types.ResourceNotFoundException)) {
			return err
		}
	}

	return nil
}
