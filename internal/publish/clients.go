package publish

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/warpack/internal/xerrors"
)

// DefaultMaxArchiveSize caps published archives (50MB).
const DefaultMaxArchiveSize = 50 * 1024 * 1024

const signatureSuffix = ".sig"

// subsets of the AWS APIs used here, so tests run without credentials
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// Signer produces a detached signature over archive bytes. cryptoutil.KMSSigner implements it.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	KeyID() string
}

// Verifier checks a detached signature. cryptoutil.KMSVerifier implements it.
type Verifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

// Location names where archives and the current-release pointer live.
type Location struct {
	// SSM parameter containing the current archive SHA256 hash
	SSMParam string

	// S3 location for archives: s3://{bucket}/{prefix}/{hash}.war
	S3Bucket string
	S3Prefix string
}

func (l Location) validate() error {
	if l.SSMParam == "" {
		return xerrors.New("SSMParam is required")
	}
	if l.S3Bucket == "" {
		return xerrors.New("S3Bucket is required")
	}
	return nil
}

// key returns the S3 object key for a given hash
func (l Location) key(hash string) string {
	if l.S3Prefix != "" {
		return fmt.Sprintf("%s/%s.war", l.S3Prefix, hash)
	}
	return fmt.Sprintf("%s.war", hash)
}

func loadAWSConfig(ctx context.Context, cfg *aws.Config) (aws.Config, error) {
	if cfg != nil {
		return *cfg, nil
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, xerrors.Wrap(err, "load AWS config")
	}
	return awsCfg, nil
}
