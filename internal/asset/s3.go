package asset

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/warpack/internal/xerrors"
)

// GetObjectAPI is the subset of the S3 client used by S3Object.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Object is content read from s3://bucket/key when opened.
type S3Object struct {
	client GetObjectAPI
	bucket string
	key    string
}

func NewS3Object(client GetObjectAPI, bucket, key string) *S3Object {
	return &S3Object{client: client, bucket: bucket, key: key}
}

// Name is the trailing segment of the key.
func (o *S3Object) Name() string { return NameForResource(o.key) }

func (o *S3Object) Open(ctx context.Context) (io.ReadCloser, error) {
	if o.client == nil {
		return nil, xerrors.Newf("s3://%s/%s: no S3 client configured", o.bucket, o.key)
	}
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", o.bucket, o.key)
	}
	return out.Body, nil
}

func (o *S3Object) String() string { return "s3://" + o.bucket + "/" + o.key }
