package asset

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/warpack/internal/log"
	"github.com/keithlinneman/warpack/internal/xerrors"
)

// ErrTooLarge is returned when fetched content exceeds the configured limit.
var ErrTooLarge = errors.New("content exceeds size limit")

const (
	defaultFetchTimeout  = 30 * time.Second
	defaultFetchRetries  = 3
	defaultFetchMaxBytes = 10 * 1024 * 1024 // 10MB, same as the per-entry archive limit
)

type FetcherOptions struct {
	Logger log.Logger

	// Timeout bounds a single attempt; 0 means 30s
	Timeout time.Duration

	// RetryMax is the number of retries after the first attempt; negative disables retries
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RequestsPerSecond throttles all fetches made through this Fetcher; 0 disables the limiter
	RequestsPerSecond float64
	Burst             int

	// MaxBytes caps a single response body; 0 means 10MB
	MaxBytes int64

	// Transport is the base round tripper, wrapped with otelhttp; nil uses http.DefaultTransport
	Transport http.RoundTripper

	UserAgent string
}

// Fetcher retrieves URL assets. It is safe for concurrent use.
type Fetcher struct {
	client    *retryablehttp.Client
	limiter   *rate.Limiter
	maxBytes  int64
	userAgent string
	logger    log.Logger
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultFetchMaxBytes
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	c := retryablehttp.NewClient()
	c.HTTPClient = &http.Client{
		Timeout:   opts.Timeout,
		Transport: otelhttp.NewTransport(base),
	}
	// silence the default stderr logger, attempts are logged through our logger below
	c.Logger = nil
	switch {
	case opts.RetryMax < 0:
		c.RetryMax = 0
	case opts.RetryMax == 0:
		c.RetryMax = defaultFetchRetries
	default:
		c.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		c.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		c.RetryWaitMax = opts.RetryWaitMax
	}
	L := opts.Logger
	c.RequestLogHook = func(_ retryablehttp.Logger, r *http.Request, attempt int) {
		if attempt > 0 {
			L.Warn(r.Context(), "retrying asset fetch", "url", r.URL.Redacted(), "attempt", attempt)
		}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Fetcher{client: c, limiter: limiter, maxBytes: opts.MaxBytes, userAgent: opts.UserAgent, logger: L}
}

// DefaultFetcher is used by URL assets created without an explicit Fetcher.
var DefaultFetcher = NewFetcher(FetcherOptions{})

// Get fetches u and returns the response body. Non-2xx responses are errors.
func (f *Fetcher) Get(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if u == nil {
		return nil, xerrors.MissingArgument("URL should be specified")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, xerrors.Newf("unsupported URL scheme %q (want http or https)", u.Scheme)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, xerrors.Wrap(err, "wait for fetch rate limiter")
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, xerrors.Wrapf(err, "build request for %s", u.Redacted())
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrapf(err, "fetch %s", u.Redacted())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, xerrors.Newf("fetch %s: unexpected status %d", u.Redacted(), resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		resp.Body.Close()
		return nil, xerrors.Wrapf(ErrTooLarge, "fetch %s: %d bytes, limit %d", u.Redacted(), resp.ContentLength, f.maxBytes)
	}

	f.logger.Debug(ctx, "fetched asset", "url", u.Redacted(), "status", resp.StatusCode)
	return &limitedBody{r: io.LimitReader(resp.Body, f.maxBytes+1), c: resp.Body, limit: f.maxBytes}, nil
}

// limitedBody fails the read that crosses limit instead of silently truncating
type limitedBody struct {
	r     io.Reader
	c     io.Closer
	n     int64
	limit int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.n += int64(n)
	if b.n > b.limit {
		return n, xerrors.Wrapf(ErrTooLarge, "response body exceeds %d bytes", b.limit)
	}
	return n, err
}

func (b *limitedBody) Close() error { return b.c.Close() }
