package s3x

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dogmatiq/treekit/driver/aws/internal/awsx"
)

// CreateBucketIfNotExists creates an S3 bucket if it does not already exist.
func CreateBucketIfNotExists(
	ctx context.Context,
	client *s3.Client,
	bucket string,
	onRequest func(any) []func(*s3.Options),
) error {
	_, err := awsx.Do(
		ctx,
		client.CreateBucket,
		onRequest,
		&s3.CreateBucketInput{
			Bucket: aws.String(bucket),
		},
	)
	return IgnoreAlreadyExists(err)
}

// DeleteBucketIfExists deletes an S3 bucket and its contents, if it exists.
func DeleteBucketIfExists(
	ctx context.Context,
	client *s3.Client,
	bucket string,
	onRequest func(any) []func(*s3.Options),
) error {
	for {
		if _, err := awsx.Do(
			ctx,
			client.DeleteBucket,
			onRequest,
			&s3.DeleteBucketInput{
				Bucket: aws.String(bucket),
			},
		); IgnoreNotExists(err) == nil {
			return nil
		}

		// The bucket could not be deleted, most likely because it is not
		// empty.
		res, err := awsx.Do(
			ctx,
			client.ListObjectsV2,
			onRequest,
			&s3.ListObjectsV2Input{
				Bucket: aws.String(bucket),
			},
		)
		if err != nil {
			return IgnoreNotExists(err)
		}

		for _, obj := range res.Contents {
			if _, err := awsx.Do(
				ctx,
				client.DeleteObject,
				onRequest,
				&s3.DeleteObjectInput{
					Bucket: aws.String(bucket),
					Key:    obj.Key,
				},
			); err != nil {
				return IgnoreNotExists(err)
			}
		}
	}
}
