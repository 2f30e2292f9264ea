// Package s3snapshot persists tree snapshots as objects in an S3 bucket.
package s3snapshot

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dogmatiq/treekit/driver/aws/internal/awsx"
	"github.com/dogmatiq/treekit/driver/aws/internal/s3x"
	"github.com/dogmatiq/treekit/internal/errorx"
	"github.com/dogmatiq/treekit/internal/syncx"
	"github.com/dogmatiq/treekit/snapshot"
	"github.com/dogmatiq/treekit/tree"
)

// Repository stores tree snapshots in an S3 bucket, one object per tree, keyed
// by the tree's name.
type Repository struct {
	client    *s3.Client
	bucket    string
	onRequest func(any) []func(*s3.Options)

	createBucketOnce syncx.SucceedOnce
}

// NewRepository returns a new [Repository] that uses the given S3 client to
// store snapshots in the given bucket.
func NewRepository(
	client *s3.Client,
	bucket string,
	options ...Option,
) *Repository {
	if bucket == "" {
		panic("bucket name must not be empty")
	}

	r := &Repository{
		client: client,
		bucket: bucket,
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Option is a functional option that changes the behavior of [NewRepository].
type Option func(*Repository)

// WithRequestHook is an [Option] that configures fn as a pre-request hook.
//
// Before each S3 API request, fn is passed a pointer to the input struct, e.g.
// [s3.PutObjectInput], which it may modify in-place. It may be called with any
// S3 request type. The types of requests used may change in any version
// without notice.
//
// Any functions returned by fn will be applied to the request's options before
// the request is sent.
func WithRequestHook(fn func(any) []func(*s3.Options)) Option {
	return func(r *Repository) {
		r.onRequest = fn
	}
}

// Save writes a snapshot of every entry in t to the bucket, replacing any
// existing snapshot of a tree with the same name.
func (r *Repository) Save(ctx context.Context, t tree.Tree) (err error) {
	defer errorx.Wrap(&err, "unable to save snapshot of the %q tree", t.Name())

	if err := r.createBucketOnce.Do(ctx, r.createBucket); err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	if err := snapshot.Write(ctx, buf, t); err != nil {
		return err
	}

	_, err = awsx.Do(
		ctx,
		r.client.PutObject,
		r.onRequest,
		&s3.PutObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(t.Name()),
			Body:   s3x.NewReadSeeker(buf.Bytes()),
		},
	)

	return err
}

// Load restores the most recent snapshot of the tree named t.Name() into t.
//
// It returns false if there is no snapshot of the tree.
func (r *Repository) Load(ctx context.Context, t tree.Tree) (ok bool, err error) {
	defer errorx.Wrap(&err, "unable to load snapshot of the %q tree", t.Name())

	out, err := awsx.Do(
		ctx,
		r.client.GetObject,
		r.onRequest,
		&s3.GetObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(t.Name()),
		},
	)
	if s3x.IsNotExists(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer out.Body.Close()

	if err := snapshot.Restore(ctx, out.Body, t); err != nil {
		return false, err
	}

	return true, nil
}

func (r *Repository) createBucket(ctx context.Context) error {
	return s3x.CreateBucketIfNotExists(ctx, r.client, r.bucket, r.onRequest)
}
