package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keithlinneman/warpack/internal/archive"
	"github.com/keithlinneman/warpack/internal/asset"
	"github.com/keithlinneman/warpack/internal/cfg"
	"github.com/keithlinneman/warpack/internal/container"
	"github.com/keithlinneman/warpack/internal/cryptoutil"
	"github.com/keithlinneman/warpack/internal/descriptor"
	"github.com/keithlinneman/warpack/internal/log"
	"github.com/keithlinneman/warpack/internal/metrics"
	"github.com/keithlinneman/warpack/internal/publish"
	v "github.com/keithlinneman/warpack/internal/version"
	"github.com/keithlinneman/warpack/internal/war"
	"github.com/keithlinneman/warpack/internal/webassets"
)

// build assembles the archive from the descriptor first, then the CLI
// inputs, so flags can override descriptor entries at the same path.
func build(ctx context.Context, conf cfg.App, vi v.Info, m *metrics.ServerMetrics) (*war.Archive, error) {
	L := log.FromContext(ctx)

	var desc *descriptor.Descriptor
	if conf.Descriptor != "" {
		d, err := descriptor.Load(conf.Descriptor)
		if err != nil {
			return nil, err
		}
		desc = d
	}

	name := conf.Name
	if name == "" && desc != nil {
		name = desc.Name
	}

	// named resources resolve against -resource-dir, else the descriptor's directory
	resDir := conf.ResourceDir
	if resDir == "" && desc != nil {
		resDir = desc.BaseDir()
	}
	if resDir == "" {
		resDir = "."
	}

	fetcher := asset.NewFetcher(asset.FetcherOptions{
		Logger:            L,
		RetryMax:          retries(conf.FetchRetries),
		RequestsPerSecond: conf.FetchRPS,
		Burst:             max(1, int(conf.FetchRPS)),
		MaxBytes:          conf.FetchMaxBytes,
		UserAgent:         vi.UserAgent(),
	})

	w := war.New(name, war.Options{
		Archive: []archive.Option{archive.WithLogger(L), archive.WithRecorder(m)},
		Container: []container.Option{
			container.WithResources(os.DirFS(resDir)),
			container.WithFetcher(fetcher),
			container.WithLogger(L),
		},
	})

	if desc != nil {
		if err := desc.Apply(w); err != nil {
			return nil, err
		}
	}
	if conf.WebXML != "" {
		w.SetWebXMLFile(conf.WebXML)
	}
	if conf.ResourceDir != "" {
		w.AddWebResources("**")
	}
	for _, spec := range conf.Resources {
		addResource(w, spec)
	}
	if err := w.Err(); err != nil {
		return nil, err
	}

	// fall back to the embedded descriptors so the archive is always deployable
	if !w.Archive().Contains(w.WebPath().Child(webassets.WebXMLName)) {
		L.Info(ctx, "no web.xml supplied, using default")
		w.SetWebXMLAsset(asset.FromBytes(webassets.DefaultWebXML()))
	}
	if !w.Archive().Contains(w.ManifestPath().Child(webassets.ManifestName)) {
		w.SetManifestAsset(asset.FromBytes(webassets.DefaultManifest()))
	}
	if err := w.Err(); err != nil {
		return nil, err
	}

	L.Info(ctx, "archive built", "archive", w.Name(), "entries", w.Archive().Len())
	return w, nil
}

// addResource handles one -resource value: a file path or http(s) URL with
// an optional "=target".
func addResource(w *war.Archive, spec string) {
	src, target := cfg.ParseResource(spec)
	if isURL(src) {
		u, err := url.Parse(src)
		if err != nil {
			w.Fail(fmt.Errorf("invalid resource url %q: %w", src, err))
			return
		}
		if target == "" {
			w.AddWebResourceURL(u)
		} else {
			w.AddWebResourceURLAs(u, target)
		}
		return
	}
	if target == "" {
		w.AddWebResourceFile(src)
	} else {
		w.AddWebResourceFileAs(src, target)
	}
}

func isURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// cfg uses 0 for "no retries"; the fetcher reserves 0 for its default
func retries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// writeOut exports w to path, writing a temp file first so a failed export
// never leaves a truncated archive behind.
func writeOut(ctx context.Context, w *war.Archive, path string) error {
	L := log.FromContext(ctx)

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	switch cfg.OutputFormat(path) {
	case "tar.gz":
		err = w.WriteTarGz(ctx, f)
	default:
		err = w.WriteZip(ctx, f)
	}
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}

	L.Info(ctx, "archive written", "archive", w.Name(), "path", path)
	return nil
}

func publishArchive(ctx context.Context, conf cfg.App, awsCfg *aws.Config, w *war.Archive, m *metrics.ServerMetrics) (*publish.Result, error) {
	L := log.FromContext(ctx)

	var signer publish.Signer
	if conf.SigningKeyARN != "" {
		signer = cryptoutil.NewKMSSigner(kms.NewFromConfig(*awsCfg), conf.SigningKeyARN)
	}

	p, err := publish.NewPublisher(ctx, publish.PublisherOptions{
		Logger:    L,
		Location:  location(conf),
		Signer:    signer,
		AWSConfig: awsCfg,
	})
	if err != nil {
		return nil, err
	}

	res, err := p.WithMetrics(m).Publish(ctx, w)
	if err != nil {
		return nil, err
	}
	L.Info(ctx, "archive published",
		"archive", w.Name(),
		"sha256", res.SHA256,
		"s3_key", res.Key,
		"signed", res.SignatureKey != "",
		"ssm_param", conf.SSMParam,
	)
	return res, nil
}

func location(conf cfg.App) publish.Location {
	return publish.Location{
		SSMParam: conf.SSMParam,
		S3Bucket: conf.S3Bucket,
		S3Prefix: conf.S3Prefix,
	}
}
