package asset

import (
	"context"
	"io"
	"net/url"
	"path"
)

// URL is content fetched over http(s) when opened.
type URL struct {
	u       *url.URL
	fetcher *Fetcher
}

// NewURL returns an asset for u. A nil fetcher uses DefaultFetcher.
func NewURL(u *url.URL, fetcher *Fetcher) *URL {
	if fetcher == nil {
		fetcher = DefaultFetcher
	}
	return &URL{u: u, fetcher: fetcher}
}

func (a *URL) URL() *url.URL { return a.u }

// Name returns the trailing segment of the URL path, or "" when the path
// has none (e.g. "https://example.com/").
func (a *URL) Name() string {
	if a.u == nil {
		return ""
	}
	p := a.u.Path
	if p == "" || p == "/" {
		return ""
	}
	name := path.Base(p)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

func (a *URL) Open(ctx context.Context) (io.ReadCloser, error) {
	return a.fetcher.Get(ctx, a.u)
}

func (a *URL) String() string {
	if a.u == nil {
		return "url:<nil>"
	}
	return "url:" + a.u.Redacted()
}
