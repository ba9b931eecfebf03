package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/warpack/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names: -s3-bucket reads WARPACK_S3_BUCKET.
const EnvPrefix = "WARPACK_"

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	// build inputs
	Descriptor  string
	Name        string
	WebXML      string
	Resources   ResourceList
	ResourceDir string

	// outputs
	Out     string
	Publish bool
	Serve   bool
	Watch   bool

	HTTPPort     int
	PollInterval time.Duration

	SSMParam       string
	S3Bucket       string
	S3Prefix       string
	SigningKeyARN  string
	RequireSigning bool

	FetchRPS      float64
	FetchRetries  int
	FetchMaxBytes int64

	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
}

// ResourceList collects repeated -resource flags. Each value is "src" or
// "src=target"; a comma-separated env value adds several.
type ResourceList []string

func (l *ResourceList) String() string { return strings.Join(*l, ",") }

func (l *ResourceList) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

// ParseResource splits "src=target". target is empty when omitted.
//
// File sources split on the first "=". For http(s) sources the target
// follows the last "=", and only when every query parameter before it is
// a complete key=value pair, so "https://cdn/app.js?v=2" has no target
// while "https://cdn/app.js?v=2=js/app.js" does.
func ParseResource(spec string) (src, target string) {
	spec = strings.TrimSpace(spec)
	if !hasHTTPScheme(spec) {
		src, target, _ = strings.Cut(spec, "=")
		return strings.TrimSpace(src), strings.TrimSpace(target)
	}

	i := strings.LastIndex(spec, "=")
	if i < 0 {
		return spec, ""
	}
	head, tail := spec[:i], spec[i+1:]
	if strings.ContainsAny(tail, "&?#") {
		return spec, ""
	}
	if _, query, ok := strings.Cut(head, "?"); ok {
		query, _, _ = strings.Cut(query, "#")
		for _, kv := range strings.Split(query, "&") {
			if !strings.Contains(kv, "=") {
				return spec, ""
			}
		}
	}
	return strings.TrimSpace(head), strings.TrimSpace(tail)
}

func hasHTTPScheme(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")

	fs.StringVar(&c.Descriptor, "descriptor", "", "YAML build descriptor (warpack.yaml)")
	fs.StringVar(&c.Name, "name", "", "archive name (defaults to descriptor name or a random id); .war is appended")
	fs.StringVar(&c.WebXML, "web-xml", "", "file to store as WEB-INF/web.xml")
	fs.Var(&c.Resources, "resource", "web resource `src[=target]` stored under WEB-INF (repeatable)")
	fs.StringVar(&c.ResourceDir, "resource-dir", "", "directory whose files are stored under WEB-INF, keeping relative paths")

	fs.StringVar(&c.Out, "out", "", "write the archive to this path (.war/.zip or .tar.gz/.tgz)")
	fs.BoolVar(&c.Publish, "publish", false, "upload to S3 and point the SSM parameter at it")
	fs.BoolVar(&c.Serve, "serve", false, "serve the archive on -http-port until interrupted")
	fs.BoolVar(&c.Watch, "watch", false, "with -serve, follow the published archive named by -ssm-param")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "preview listen TCP port (1..65535)")
	fs.DurationVar(&c.PollInterval, "poll-interval", 30*time.Second, "SSM poll interval for -watch")

	fs.StringVar(&c.SSMParam, "ssm-param", "", "ssm parameter holding the current archive hash")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "s3 bucket for published archives")
	fs.StringVar(&c.S3Prefix, "s3-prefix", "", "s3 key prefix for published archives")
	fs.StringVar(&c.SigningKeyARN, "signing-key-arn", "", "KMS key ARN used to sign (publish) and verify (watch) archives")
	fs.BoolVar(&c.RequireSigning, "require-signing", false, "fail unless -signing-key-arn is set for publish and watch")

	fs.Float64Var(&c.FetchRPS, "fetch-rps", 10, "max URL resource fetches per second (0 disables limiting)")
	fs.IntVar(&c.FetchRetries, "fetch-retries", 3, "retries for failed URL resource fetches (0..10)")
	fs.Int64Var(&c.FetchMaxBytes, "fetch-max-bytes", 10<<20, "max size of a fetched URL resource")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 1.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server (serve mode)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// something to do, and something to do it with
	if c.Out == "" && !c.Publish && !c.Serve {
		errs = append(errs, fmt.Errorf("nothing to do: set OUT, PUBLISH, or SERVE"))
	}
	if !c.Watch && !c.hasInputs() {
		errs = append(errs, fmt.Errorf("no inputs: set DESCRIPTOR, WEB_XML, RESOURCE, or RESOURCE_DIR"))
	}
	if c.Out != "" && OutputFormat(c.Out) == "" {
		errs = append(errs, fmt.Errorf("OUT %q must end in .war, .zip, .tar.gz, or .tgz", c.Out))
	}
	for _, r := range c.Resources {
		if src, _ := ParseResource(r); src == "" {
			errs = append(errs, fmt.Errorf("RESOURCE %q has no source", r))
		}
	}

	if c.Serve && (c.HTTPPort < 1 || c.HTTPPort > 65535) {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.Watch {
		if !c.Serve {
			errs = append(errs, fmt.Errorf("WATCH requires SERVE"))
		}
		if c.hasInputs() {
			errs = append(errs, fmt.Errorf("WATCH serves the published archive and cannot be combined with build inputs"))
		}
		if c.PollInterval < time.Second {
			errs = append(errs, fmt.Errorf("POLL_INTERVAL must be at least 1s (got %s)", c.PollInterval))
		}
	}

	// S3/SSM location
	if c.Publish || c.Watch {
		if c.SSMParam == "" {
			errs = append(errs, fmt.Errorf("SSM_PARAM is required for PUBLISH and WATCH"))
		}
		if c.S3Bucket == "" {
			errs = append(errs, fmt.Errorf("S3_BUCKET is required for PUBLISH and WATCH"))
		}
		if c.RequireSigning && c.SigningKeyARN == "" {
			errs = append(errs, fmt.Errorf("SIGNING_KEY_ARN is required when REQUIRE_SIGNING=true"))
		}
	}

	if c.FetchRPS < 0 {
		errs = append(errs, fmt.Errorf("invalid FETCH_RPS %.3f (must be >= 0)", c.FetchRPS))
	}
	if c.FetchRetries < 0 || c.FetchRetries > 10 {
		errs = append(errs, fmt.Errorf("FETCH_RETRIES must be 0..10 (got %d)", c.FetchRetries))
	}
	if c.FetchMaxBytes < 1 {
		errs = append(errs, fmt.Errorf("FETCH_MAX_BYTES must be positive (got %d)", c.FetchMaxBytes))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
	}

	return errors.Join(errs...)
}

func (c App) hasInputs() bool {
	return c.Descriptor != "" || c.WebXML != "" || len(c.Resources) > 0 || c.ResourceDir != ""
}

// OutputFormat maps an output path to "zip" or "tar.gz", or "" when unsupported.
func OutputFormat(path string) string {
	p := strings.ToLower(path)
	switch {
	case strings.HasSuffix(p, ".war"), strings.HasSuffix(p, ".zip"):
		return "zip"
	case strings.HasSuffix(p, ".tar.gz"), strings.HasSuffix(p, ".tgz"):
		return "tar.gz"
	}
	return ""
}
