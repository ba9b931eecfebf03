// Package descriptor loads YAML build descriptors and applies them to a
// war.Archive.
//
//	name: shop.war
//	webXml: {resource: web.xml}
//	resources:
//	  - {resource: css/site.css}
//	  - {file: ./index.jsp, target: index.jsp}
//	  - {url: "https://cdn.example.com/x.js", target: js/x.js}
//	  - {glob: "static/**"}
//	manifest: {inline: "Manifest-Version: 1.0\n"}
//
// Relative file paths resolve against the descriptor's directory.
package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/warpack/internal/asset"
	"github.com/keithlinneman/warpack/internal/war"
	"github.com/keithlinneman/warpack/internal/xerrors"
)

// maxDescriptorSize caps descriptor files; they are small hand-written YAML.
const maxDescriptorSize = 1 << 20

// Source names exactly one content origin.
type Source struct {
	Resource string `yaml:"resource,omitempty"`
	File     string `yaml:"file,omitempty"`
	URL      string `yaml:"url,omitempty"`
	Inline   string `yaml:"inline,omitempty"`
}

// Resource is one web resource entry. Glob is exclusive with Source and Target.
type Resource struct {
	Source `yaml:",inline"`
	Glob   string `yaml:"glob,omitempty"`
	Target string `yaml:"target,omitempty"`
}

type Descriptor struct {
	Name      string     `yaml:"name,omitempty"`
	WebXML    *Source    `yaml:"webXml,omitempty"`
	Resources []Resource `yaml:"resources,omitempty"`
	Manifest  *Source    `yaml:"manifest,omitempty"`

	baseDir string
}

// Load reads and validates the descriptor at path.
func Load(path string) (*Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat descriptor %s", path)
	}
	if info.Size() > maxDescriptorSize {
		return nil, xerrors.Newf("descriptor %s too large (%d bytes, max %d)", path, info.Size(), maxDescriptorSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read descriptor %s", path)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, xerrors.Wrapf(err, "descriptor %s", path)
	}
	d.baseDir = filepath.Dir(path)
	return d, nil
}

// Parse decodes and validates descriptor YAML. Unknown keys are rejected.
func Parse(data []byte) (*Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		return nil, xerrors.Wrap(err, "parse descriptor")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate reports every problem in one joined error.
func (d *Descriptor) Validate() error {
	var errs []error

	if d.WebXML != nil {
		if err := d.WebXML.validate(); err != nil {
			errs = append(errs, fmt.Errorf("webXml: %w", err))
		}
	}
	if d.Manifest != nil {
		if err := d.Manifest.validate(); err != nil {
			errs = append(errs, fmt.Errorf("manifest: %w", err))
		}
	}
	for i, r := range d.Resources {
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Errorf("resources[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (s Source) kinds() int {
	n := 0
	for _, v := range []string{s.Resource, s.File, s.URL, s.Inline} {
		if v != "" {
			n++
		}
	}
	return n
}

func (s Source) validate() error {
	if s.kinds() != 1 {
		return fmt.Errorf("exactly one of resource, file, url, inline must be set")
	}
	if s.URL != "" {
		if _, err := parseURL(s.URL); err != nil {
			return err
		}
	}
	return nil
}

func (r Resource) validate() error {
	if r.Glob != "" {
		if r.kinds() != 0 || r.Target != "" {
			return fmt.Errorf("glob cannot be combined with a source or target")
		}
		if !doublestar.ValidatePattern(r.Glob) {
			return fmt.Errorf("invalid glob %q", r.Glob)
		}
		return nil
	}
	if err := r.Source.validate(); err != nil {
		return err
	}
	if r.Inline != "" && r.Target == "" {
		return fmt.Errorf("inline resources need a target")
	}
	return nil
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url must be absolute http(s) (got %q)", raw)
	}
	return u, nil
}

// BaseDir is the directory Load read the descriptor from, or "" after Parse.
func (d *Descriptor) BaseDir() string { return d.baseDir }

func (d *Descriptor) path(p string) string {
	if p == "" || filepath.IsAbs(p) || d.baseDir == "" {
		return p
	}
	return filepath.Join(d.baseDir, p)
}

// Apply adds every descriptor entry to w in order and returns w's sticky error.
func (d *Descriptor) Apply(w *war.Archive) error {
	if w == nil {
		return xerrors.MissingArgument("Archive should be specified")
	}

	if s := d.WebXML; s != nil {
		switch {
		case s.Resource != "":
			w.SetWebXML(s.Resource)
		case s.File != "":
			w.SetWebXMLFile(d.path(s.File))
		case s.URL != "":
			u, err := parseURL(s.URL)
			if err != nil {
				return w.Fail(err).Err()
			}
			w.SetWebXMLURL(u)
		default:
			w.SetWebXMLAsset(asset.FromString(s.Inline))
		}
	}

	for _, r := range d.Resources {
		if err := d.applyResource(w, r); err != nil {
			return w.Fail(err).Err()
		}
	}

	if s := d.Manifest; s != nil {
		switch {
		case s.Resource != "":
			w.SetManifest(s.Resource)
		case s.File != "":
			w.SetManifestFile(d.path(s.File))
		case s.URL != "":
			u, err := parseURL(s.URL)
			if err != nil {
				return w.Fail(err).Err()
			}
			w.SetManifestAsset(w.URLAsset(u))
		default:
			w.SetManifestAsset(asset.FromString(s.Inline))
		}
	}
	return w.Err()
}

func (d *Descriptor) applyResource(w *war.Archive, r Resource) error {
	switch {
	case r.Glob != "":
		w.AddWebResources(r.Glob)
	case r.Resource != "" && r.Target == "":
		w.AddWebResource(r.Resource)
	case r.Resource != "":
		w.AddWebResourceAs(r.Resource, r.Target)
	case r.File != "" && r.Target == "":
		w.AddWebResourceFile(d.path(r.File))
	case r.File != "":
		w.AddWebResourceFileAs(d.path(r.File), r.Target)
	case r.URL != "":
		u, err := parseURL(r.URL)
		if err != nil {
			return err
		}
		if r.Target == "" {
			w.AddWebResourceURL(u)
		} else {
			w.AddWebResourceURLAs(u, r.Target)
		}
	default:
		w.AddWebResourceAsset(asset.FromString(r.Inline), r.Target)
	}
	return nil
}
