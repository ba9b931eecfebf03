package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/keithlinneman/warpack/internal/cfg"
	"github.com/keithlinneman/warpack/internal/log"
	"github.com/keithlinneman/warpack/internal/metrics"
	"github.com/keithlinneman/warpack/internal/otelx"
	"github.com/keithlinneman/warpack/internal/prof"
	v "github.com/keithlinneman/warpack/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	// Setup logging, levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()

	component := "cli"
	if conf.Serve {
		component = "preview"
	}
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	L.Debug(ctx, "starting",
		"version", vi.Version,
		"commit", vi.ShortCommit(),
		"go_version", vi.GoVersion,
		"descriptor", conf.Descriptor,
		"resources", len(conf.Resources),
		"resource_dir", conf.ResourceDir,
		"out", conf.Out,
		"publish", conf.Publish,
		"serve", conf.Serve,
		"watch", conf.Watch,
		"ssm_param", conf.SSMParam,
		"s3_bucket", conf.S3Bucket,
		"s3_prefix", conf.S3Prefix,
		"signing_key_arn", conf.SigningKeyARN,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	if err := run(ctx, conf, vi, component); err != nil {
		L.Error(ctx, err, "warpack failed")
		lg.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, conf cfg.App, vi v.Info, component string) error {
	L := log.FromContext(ctx)

	// Insecure is true because traces go to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: component,
		Version:   vi.Version,
	})
	if err != nil {
		// tracing is optional, keep going without it
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownOTEL(context.Background()); err != nil {
			L.Warn(context.Background(), "otel shutdown", "error", err)
		}
	}()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)

	// profiling only makes sense for the long-running preview server
	if conf.Serve {
		stopProf, err := prof.Start(ctx, prof.Options{
			Enabled:       conf.EnablePyroscope,
			AppName:       v.AppName,
			ServerAddress: conf.PyroServer,
			TenantID:      conf.PyroTenantID,
			Tags: map[string]string{
				"component": component,
				"version":   vi.Version,
				"commit":    vi.ShortCommit(),
			},
			OnChange: m.SetProfilingActive,
		})
		if err != nil {
			L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
		}
		defer stopProf()
	}

	var awsCfg *aws.Config
	if conf.Publish || conf.Watch {
		c, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = &c
	}

	if conf.Watch {
		return serveWatched(ctx, conf, awsCfg, m)
	}

	w, err := build(ctx, conf, vi, m)
	if err != nil {
		return err
	}

	if conf.Out != "" {
		if err := writeOut(ctx, w, conf.Out); err != nil {
			return err
		}
	}

	var hash string
	if conf.Publish {
		res, err := publishArchive(ctx, conf, awsCfg, w, m)
		if err != nil {
			return err
		}
		hash = res.SHA256
	}

	if conf.Serve {
		return serveLocal(ctx, conf, w, hash, m)
	}
	return nil
}
