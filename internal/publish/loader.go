package publish

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/warpack/internal/archive"
	"github.com/keithlinneman/warpack/internal/cryptoutil"
	"github.com/keithlinneman/warpack/internal/log"
	"github.com/keithlinneman/warpack/internal/xerrors"
)

type LoaderOptions struct {
	Logger log.Logger
	Location

	// Verifier is optional; when set every archive must carry a valid signature
	Verifier Verifier

	// MaxSize caps downloads; zero uses DefaultMaxArchiveSize
	MaxSize int64

	// Archive options applied to imported archives (logger, recorder)
	ArchiveOptions []archive.Option

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

type Loader struct {
	opts   LoaderOptions
	s3     s3API
	ssm    ssmAPI
	logger log.Logger
}

// NewLoader creates a new archive Loader with the given options
func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if err := opts.Location.validate(); err != nil {
		return nil, err
	}
	awsCfg, err := loadAWSConfig(ctx, opts.AWSConfig)
	if err != nil {
		return nil, err
	}
	return newLoader(opts, s3.NewFromConfig(awsCfg), ssm.NewFromConfig(awsCfg)), nil
}

func newLoader(opts LoaderOptions, s3c s3API, ssmc ssmAPI) *Loader {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxArchiveSize
	}
	return &Loader{opts: opts, s3: s3c, ssm: ssmc, logger: opts.Logger}
}

// FetchCurrentHash gets the current archive hash from SSM
func (l *Loader) FetchCurrentHash(ctx context.Context) (string, error) {
	out, err := l.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	hash := strings.TrimSpace(*out.Parameter.Value)
	if hash == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", l.opts.SSMParam)
	}
	// the hash becomes part of an S3 key, so it must be exactly a digest
	if !cryptoutil.IsSHA256Hex(hash) {
		return "", xerrors.Newf("SSM parameter %s is not a sha256 hex digest", l.opts.SSMParam)
	}
	return hash, nil
}

// Download fetches an archive by hash and verifies its digest and, when a
// verifier is configured, its signature. It also returns the stored archive name.
func (l *Loader) Download(ctx context.Context, hash string) ([]byte, string, error) {
	key := l.opts.key(hash)

	l.logger.Info(ctx, "downloading archive",
		"bucket", l.opts.S3Bucket,
		"key", key,
		"expected_hash", hash,
	)

	data, meta, err := l.getObject(ctx, key)
	if err != nil {
		return nil, "", err
	}

	// our policy is to always use cryptoutil.HashEqual for comparing hashes
	actual := cryptoutil.SHA256Hex(data)
	if !cryptoutil.HashEqual(actual, hash) {
		return nil, "", xerrors.Newf("checksum mismatch: expected %s, got %s", hash, actual)
	}

	if l.opts.Verifier != nil {
		sig, _, err := l.getObject(ctx, key+signatureSuffix)
		if err != nil {
			return nil, "", xerrors.Wrap(err, "fetch signature")
		}
		if err := l.opts.Verifier.VerifySignature(ctx, data, sig); err != nil {
			return nil, "", xerrors.Wrapf(err, "verify signature of %s", hash)
		}
	}

	name := meta["archive-name"]
	if name == "" {
		name = hash + ".war"
	}
	l.logger.Info(ctx, "downloaded archive",
		"bytes", len(data),
		"name", name,
		"signature_verified", l.opts.Verifier != nil,
	)
	return data, name, nil
}

func (l *Loader) getObject(ctx context.Context, key string) ([]byte, map[string]string, error) {
	out, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	limit := l.opts.MaxSize
	if out.ContentLength != nil && *out.ContentLength > limit {
		return nil, nil, xerrors.Wrapf(archive.ErrTooLarge, "s3://%s/%s is %d bytes (max %d)", l.opts.S3Bucket, key, *out.ContentLength, limit)
	}
	data, err := io.ReadAll(io.LimitReader(out.Body, limit+1))
	if err != nil {
		return nil, nil, xerrors.Wrapf(err, "read s3://%s/%s", l.opts.S3Bucket, key)
	}
	if int64(len(data)) > limit {
		return nil, nil, xerrors.Wrapf(archive.ErrTooLarge, "s3://%s/%s exceeds %d bytes", l.opts.S3Bucket, key, limit)
	}
	return data, out.Metadata, nil
}

// Load fetches the current release and returns a Snapshot
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	hash, err := l.FetchCurrentHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}

// LoadHash fetches a specific archive by hash and returns a Snapshot
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Snapshot, error) {
	loadedAt := time.Now().UTC()

	data, name, err := l.Download(ctx, hash)
	if err != nil {
		return nil, err
	}
	ar, err := l.Import(data, name)
	if err != nil {
		return nil, err
	}
	snap, err := NewSnapshot(ctx, ar, SourceS3, hash)
	if err != nil {
		return nil, err
	}
	snap.LoadedAt = loadedAt

	l.logger.Info(ctx, "loaded archive",
		"name", name,
		"hash", hash,
		"entries", len(snap.Entries),
	)
	return snap, nil
}

// Import parses downloaded bytes into an archive tree.
func (l *Loader) Import(data []byte, name string) (*archive.Archive, error) {
	ar, err := archive.ReadZip(data, name, l.opts.ArchiveOptions...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "import %s", name)
	}
	return ar, nil
}
