package container

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/keithlinneman/warpack/internal/archive"
	"github.com/keithlinneman/warpack/internal/asset"
	"github.com/keithlinneman/warpack/internal/xerrors"
)

// testArchive composes the mixins the same way a concrete archive type does
type testArchive struct {
	*Base[*testArchive]
	*Web[*testArchive]
	*Manifest[*testArchive]
}

func newTestArchive(t *testing.T, opts ...Option) *testArchive {
	t.Helper()
	resources := fstest.MapFS{
		"my-web.xml":                 {Data: []byte("<web-app id=\"res\"/>")},
		"org/acme/web/site.css":      {Data: []byte("body{}")},
		"static/js/app.js":           {Data: []byte("app()")},
		"static/css/a.css":           {Data: []byte("a{}")},
		"static/css/nested/b.css":    {Data: []byte("b{}")},
		"META-INF/context.xml":       {Data: []byte("<Context/>")},
		"manifest/MANIFEST.template": {Data: []byte("Manifest-Version: 1.0\n")},
	}
	ta := &testArchive{}
	ar := archive.New("test.war")
	ta.Base = NewBase(ta, ar, append([]Option{WithResources(resources)}, opts...)...)
	ta.Web = NewWeb(ta.Base, func() archive.Path { return archive.NewPath("/WEB-INF") })
	ta.Manifest = NewManifest(ta.Base, func() archive.Path { return archive.NewPath("/META-INF") })
	return ta
}

func readAt(t *testing.T, ta *testArchive, p string) string {
	t.Helper()
	e, ok := ta.Archive().Get(archive.NewPath(p))
	if !ok {
		var have []string
		for _, e := range ta.Archive().Entries() {
			have = append(have, e.Path.String())
		}
		t.Fatalf("no entry at %s, have %v", p, have)
	}
	data, err := asset.ReadAll(context.Background(), e.Asset)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(data)
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func contentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestSetWebXML_AllFormsStoreAtWebXML(t *testing.T) {
	srv := contentServer(t)
	filePath := writeTemp(t, "local-web.xml", "<web-app id=\"file\"/>")

	tests := []struct {
		name string
		set  func(ta *testArchive) *testArchive
		want string
	}{
		{"resource", func(ta *testArchive) *testArchive { return ta.SetWebXML("my-web.xml") }, "<web-app id=\"res\"/>"},
		{"file", func(ta *testArchive) *testArchive { return ta.SetWebXMLFile(filePath) }, "<web-app id=\"file\"/>"},
		{"url", func(ta *testArchive) *testArchive { return ta.SetWebXMLURL(mustURL(t, srv.URL+"/descriptors/web.xml")) }, "remote:/descriptors/web.xml"},
		{"asset", func(ta *testArchive) *testArchive { return ta.SetWebXMLAsset(asset.FromString("<web-app id=\"raw\"/>")) }, "<web-app id=\"raw\"/>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestArchive(t)
			if got := tt.set(ta); got != ta {
				t.Fatal("SetWebXML should return the builder itself")
			}
			if err := ta.Err(); err != nil {
				t.Fatalf("Err() = %v", err)
			}
			if ta.Archive().Len() != 1 {
				t.Fatalf("Len() = %d, want 1", ta.Archive().Len())
			}
			if got := readAt(t, ta, "/WEB-INF/web.xml"); got != tt.want {
				t.Fatalf("web.xml = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddWebResource_DerivesTrailingName(t *testing.T) {
	srv := contentServer(t)
	filePath := writeTemp(t, "style.css", "h1{}")

	ta := newTestArchive(t).
		AddWebResource("org/acme/web/site.css").
		AddWebResourceFile(filePath).
		AddWebResourceURL(mustURL(t, srv.URL+"/cdn/lib.js?v=3"))
	if err := ta.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}

	if got := readAt(t, ta, "/WEB-INF/site.css"); got != "body{}" {
		t.Fatalf("site.css = %q", got)
	}
	if got := readAt(t, ta, "/WEB-INF/style.css"); got != "h1{}" {
		t.Fatalf("style.css = %q", got)
	}
	if got := readAt(t, ta, "/WEB-INF/lib.js"); got != "remote:/cdn/lib.js" {
		t.Fatalf("lib.js = %q", got)
	}
}

func TestAddWebResource_ExplicitTargets(t *testing.T) {
	srv := contentServer(t)
	filePath := writeTemp(t, "index.jsp", "<%= 1 %>")

	ta := newTestArchive(t).
		AddWebResourceAs("org/acme/web/site.css", "css/site.css").
		AddWebResourceFileAs(filePath, "/jsp/index.jsp").
		AddWebResourceURLAs(mustURL(t, srv.URL+"/"), "remote/root.txt").
		AddWebResourceAsset(asset.FromString("k=v"), "classes/app.properties").
		AddWebResourceAt("static/js/app.js", archive.NewPath("js/app.js")).
		AddWebResourceFileAt(filePath, archive.NewPath("copy.jsp")).
		AddWebResourceURLAt(mustURL(t, srv.URL+"/x"), archive.JoinPath(archive.Root, "remote", "x")).
		AddWebResourceAssetAt(asset.FromString("raw"), archive.NewPath("raw.txt"))
	if err := ta.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}

	want := map[string]string{
		"/WEB-INF/css/site.css":           "body{}",
		"/WEB-INF/jsp/index.jsp":          "<%= 1 %>",
		"/WEB-INF/remote/root.txt":        "remote:/",
		"/WEB-INF/classes/app.properties": "k=v",
		"/WEB-INF/js/app.js":              "app()",
		"/WEB-INF/copy.jsp":               "<%= 1 %>",
		"/WEB-INF/remote/x":               "remote:/x",
		"/WEB-INF/raw.txt":                "raw",
	}
	if ta.Archive().Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", ta.Archive().Len(), len(want))
	}
	for p, content := range want {
		if got := readAt(t, ta, p); got != content {
			t.Errorf("%s = %q, want %q", p, got, content)
		}
	}
}

func TestMissingArguments_NoMutation(t *testing.T) {
	tests := []struct {
		name string
		call func(ta *testArchive) *testArchive
	}{
		{"SetWebXML empty", func(ta *testArchive) *testArchive { return ta.SetWebXML("") }},
		{"SetWebXMLFile empty", func(ta *testArchive) *testArchive { return ta.SetWebXMLFile("") }},
		{"SetWebXMLURL nil", func(ta *testArchive) *testArchive { return ta.SetWebXMLURL(nil) }},
		{"SetWebXMLAsset nil", func(ta *testArchive) *testArchive { return ta.SetWebXMLAsset(nil) }},
		{"AddWebResource empty", func(ta *testArchive) *testArchive { return ta.AddWebResource("") }},
		{"AddWebResource root", func(ta *testArchive) *testArchive { return ta.AddWebResource("/") }},
		{"AddWebResourceFile empty", func(ta *testArchive) *testArchive { return ta.AddWebResourceFile("") }},
		{"AddWebResourceURL nil", func(ta *testArchive) *testArchive { return ta.AddWebResourceURL(nil) }},
		{"AddWebResourceURL no name", func(ta *testArchive) *testArchive {
			return ta.AddWebResourceURL(mustURL(t, "https://cdn.example.com/"))
		}},
		{"AddWebResourceAs empty target", func(ta *testArchive) *testArchive { return ta.AddWebResourceAs("my-web.xml", "") }},
		{"AddWebResourceAs empty name", func(ta *testArchive) *testArchive { return ta.AddWebResourceAs("", "x") }},
		{"AddWebResourceFileAs empty", func(ta *testArchive) *testArchive { return ta.AddWebResourceFileAs("", "x") }},
		{"AddWebResourceURLAs nil", func(ta *testArchive) *testArchive { return ta.AddWebResourceURLAs(nil, "x") }},
		{"AddWebResourceAsset nil", func(ta *testArchive) *testArchive { return ta.AddWebResourceAsset(nil, "x") }},
		{"AddWebResourceAsset typed nil", func(ta *testArchive) *testArchive {
			return ta.AddWebResourceAsset((*asset.Bytes)(nil), "x")
		}},
		{"SetWebXMLAsset typed nil", func(ta *testArchive) *testArchive { return ta.SetWebXMLAsset((*asset.Bytes)(nil)) }},
		{"AddWebResourceAsset empty target", func(ta *testArchive) *testArchive {
			return ta.AddWebResourceAsset(asset.FromString("x"), "")
		}},
		{"AddWebResourceAt root", func(ta *testArchive) *testArchive { return ta.AddWebResourceAt("my-web.xml", archive.Root) }},
		{"AddWebResourceAssetAt root", func(ta *testArchive) *testArchive {
			return ta.AddWebResourceAssetAt(asset.FromString("x"), archive.Root)
		}},
		{"AddWebResources empty", func(ta *testArchive) *testArchive { return ta.AddWebResources("") }},
		{"SetManifest empty", func(ta *testArchive) *testArchive { return ta.SetManifest("") }},
		{"SetManifestAsset nil", func(ta *testArchive) *testArchive { return ta.SetManifestAsset(nil) }},
		{"AddManifestResourceAsset empty target", func(ta *testArchive) *testArchive {
			return ta.AddManifestResourceAsset(asset.FromString("x"), "")
		}},
		{"AddAt empty target", func(ta *testArchive) *testArchive { return ta.AddAt(asset.FromString("x"), "") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestArchive(t)
			if got := tt.call(ta); got != ta {
				t.Fatal("failed call should still return the builder itself")
			}
			if !xerrors.IsMissingArgument(ta.Err()) {
				t.Fatalf("Err() = %v, want missing argument", ta.Err())
			}
			if ta.Archive().Len() != 0 {
				t.Fatalf("archive mutated: Len() = %d", ta.Archive().Len())
			}
		})
	}
}

func TestStickyError(t *testing.T) {
	ta := newTestArchive(t)
	ta.AddWebResource("").
		SetWebXML("my-web.xml").
		AddWebResourceAsset(nil, "x")

	if !xerrors.IsMissingArgument(ta.Err()) {
		t.Fatalf("Err() = %v", ta.Err())
	}
	if ta.Err().Error() != "ResourceName should be specified" {
		t.Fatalf("first error should be kept, got %q", ta.Err())
	}
	if ta.Archive().Len() != 0 {
		t.Fatal("calls after a failure must be no-ops")
	}
}

func TestStorageErrorSurfacesUnchanged(t *testing.T) {
	ta := newTestArchive(t).AddWebResourceAs("my-web.xml", "../../etc/passwd")
	if !errors.Is(ta.Err(), archive.ErrInvalidPath) {
		t.Fatalf("Err() = %v, want ErrInvalidPath", ta.Err())
	}
	if xerrors.IsMissingArgument(ta.Err()) {
		t.Fatal("storage error should not be reported as a missing argument")
	}
}

func TestChaining_SameInstance(t *testing.T) {
	ta := newTestArchive(t)
	got := ta.AddWebResource("my-web.xml").AddWebResource("static/js/app.js")
	if got != ta {
		t.Fatal("chained calls should return the same builder")
	}
	if ta.Archive().Len() != 2 {
		t.Fatalf("both mutations should apply, Len() = %d", ta.Archive().Len())
	}
}

func TestAddWebResources_Glob(t *testing.T) {
	ta := newTestArchive(t).AddWebResources("static/css/**/*.css")
	if err := ta.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	if got := readAt(t, ta, "/WEB-INF/static/css/a.css"); got != "a{}" {
		t.Fatalf("a.css = %q", got)
	}
	if got := readAt(t, ta, "/WEB-INF/static/css/nested/b.css"); got != "b{}" {
		t.Fatalf("b.css = %q", got)
	}
	if ta.Archive().Len() != 2 {
		t.Fatalf("Len() = %d, want 2", ta.Archive().Len())
	}
}

func TestAddWebResources_Errors(t *testing.T) {
	ta := newTestArchive(t).AddWebResources("nothing/**")
	if !errors.Is(ta.Err(), fs.ErrNotExist) {
		t.Fatalf("Err() = %v, want ErrNotExist", ta.Err())
	}

	ta = newTestArchive(t).AddWebResources("static/[")
	if ta.Err() == nil {
		t.Fatal("expected invalid pattern error")
	}
}

func TestManifest(t *testing.T) {
	filePath := writeTemp(t, "MANIFEST.MF", "Manifest-Version: 1.0\nCreated-By: test\n")

	ta := newTestArchive(t).
		AddManifestResource("META-INF/context.xml").
		AddManifestResourceAsset(asset.FromString("svc"), "services/org.acme.Plugin")
	if got := readAt(t, ta, "/META-INF/context.xml"); got != "<Context/>" {
		t.Fatalf("context.xml = %q", got)
	}
	if got := readAt(t, ta, "/META-INF/services/org.acme.Plugin"); got != "svc" {
		t.Fatalf("service file = %q", got)
	}

	ta.SetManifest("manifest/MANIFEST.template")
	if got := readAt(t, ta, "/META-INF/MANIFEST.MF"); got != "Manifest-Version: 1.0\n" {
		t.Fatalf("MANIFEST.MF = %q", got)
	}
	// replaces the previous manifest
	ta.SetManifestFile(filePath)
	if got := readAt(t, ta, "/META-INF/MANIFEST.MF"); got != "Manifest-Version: 1.0\nCreated-By: test\n" {
		t.Fatalf("MANIFEST.MF = %q", got)
	}
	if err := ta.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
}

func TestBase_AddAtRoot(t *testing.T) {
	ta := newTestArchive(t).AddAt(asset.FromString("<html/>"), "index.html")
	if got := readAt(t, ta, "/index.html"); got != "<html/>" {
		t.Fatalf("index.html = %q", got)
	}
	ta.Add(asset.FromString("x"), archive.Root)
	if !xerrors.IsMissingArgument(ta.Err()) {
		t.Fatalf("Add at root: Err() = %v", ta.Err())
	}
}

func TestBase_DefaultResourcesDir(t *testing.T) {
	ta := &testArchive{}
	ta.Base = NewBase(ta, archive.New("x.war"))
	if ta.Resources() == nil {
		t.Fatal("default resource filesystem should be set")
	}
}
