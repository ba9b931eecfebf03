package publish

import (
	"bytes"
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/warpack/internal/archive"
	"github.com/keithlinneman/warpack/internal/cryptoutil"
	"github.com/keithlinneman/warpack/internal/log"
	"github.com/keithlinneman/warpack/internal/war"
	"github.com/keithlinneman/warpack/internal/xerrors"
)

type PublisherOptions struct {
	Logger log.Logger
	Location

	// Signer is optional; when set a detached signature is uploaded beside the archive
	Signer Signer

	// MaxSize caps the exported archive; zero uses DefaultMaxArchiveSize
	MaxSize int64

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

// PublisherMetrics is implemented by the metrics package.
type PublisherMetrics interface {
	ObservePublish(outcome string, bytes int64, seconds float64)
}

type Publisher struct {
	opts    PublisherOptions
	s3      s3API
	ssm     ssmAPI
	logger  log.Logger
	metrics PublisherMetrics
}

// Result describes a completed publish.
type Result struct {
	SHA256       string
	Bucket       string
	Key          string
	SignatureKey string
	Size         int64
	PublishedAt  time.Time
}

func NewPublisher(ctx context.Context, opts PublisherOptions) (*Publisher, error) {
	if err := opts.Location.validate(); err != nil {
		return nil, err
	}
	awsCfg, err := loadAWSConfig(ctx, opts.AWSConfig)
	if err != nil {
		return nil, err
	}
	return newPublisher(opts, s3.NewFromConfig(awsCfg), ssm.NewFromConfig(awsCfg)), nil
}

func newPublisher(opts PublisherOptions, s3c s3API, ssmc ssmAPI) *Publisher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxArchiveSize
	}
	return &Publisher{opts: opts, s3: s3c, ssm: ssmc, logger: opts.Logger}
}

// WithMetrics attaches a metrics sink and returns p.
func (p *Publisher) WithMetrics(m PublisherMetrics) *Publisher {
	p.metrics = m
	return p
}

// Publish exports w, uploads it content-addressed, signs it when a signer is
// configured, and finally points the SSM parameter at the new hash. The
// pointer only moves once every upload succeeded.
func (p *Publisher) Publish(ctx context.Context, w *war.Archive) (*Result, error) {
	if w == nil {
		return nil, xerrors.MissingArgument("Archive should be specified")
	}
	start := time.Now()

	res, err := p.publish(ctx, w)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if p.metrics != nil {
		var n int64
		if res != nil {
			n = res.Size
		}
		p.metrics.ObservePublish(outcome, n, time.Since(start).Seconds())
	}
	return res, err
}

func (p *Publisher) publish(ctx context.Context, w *war.Archive) (*Result, error) {
	data, err := w.Bytes(ctx)
	if err != nil {
		return nil, xerrors.Wrapf(err, "export %s", w.Name())
	}
	if int64(len(data)) > p.opts.MaxSize {
		return nil, xerrors.Wrapf(archive.ErrTooLarge, "archive %s is %d bytes (max %d)", w.Name(), len(data), p.opts.MaxSize)
	}

	hash := cryptoutil.SHA256Hex(data)
	key := p.opts.key(hash)
	res := &Result{
		SHA256: hash,
		Bucket: p.opts.S3Bucket,
		Key:    key,
		Size:   int64(len(data)),
	}

	p.logger.Info(ctx, "uploading archive",
		"archive", w.Name(),
		"bucket", p.opts.S3Bucket,
		"key", key,
		"bytes", len(data),
	)
	if _, err := p.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.opts.S3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/java-archive"),
		Metadata: map[string]string{
			"sha256":       hash,
			"archive-name": w.Name(),
		},
	}); err != nil {
		return nil, xerrors.Wrapf(err, "put S3 object s3://%s/%s", p.opts.S3Bucket, key)
	}

	if p.opts.Signer != nil {
		sig, err := p.opts.Signer.Sign(ctx, data)
		if err != nil {
			return nil, xerrors.Wrapf(err, "sign archive %s", hash)
		}
		sigKey := key + signatureSuffix
		if _, err := p.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.opts.S3Bucket),
			Key:         aws.String(sigKey),
			Body:        bytes.NewReader(sig),
			ContentType: aws.String("application/octet-stream"),
			Metadata: map[string]string{
				"sha256":     hash,
				"kms-key-id": p.opts.Signer.KeyID(),
			},
		}); err != nil {
			return nil, xerrors.Wrapf(err, "put S3 object s3://%s/%s", p.opts.S3Bucket, sigKey)
		}
		res.SignatureKey = sigKey
	}

	if _, err := p.ssm.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(p.opts.SSMParam),
		Value:     aws.String(hash),
		Type:      ssmtypes.ParameterTypeString,
		Overwrite: aws.Bool(true),
	}); err != nil {
		return nil, xerrors.Wrapf(err, "put SSM parameter %s", p.opts.SSMParam)
	}

	res.PublishedAt = time.Now().UTC()
	p.logger.Info(ctx, "published archive",
		"archive", w.Name(),
		"sha256", hash,
		"signed", res.SignatureKey != "",
		"ssm_param", p.opts.SSMParam,
	)
	return res, nil
}
