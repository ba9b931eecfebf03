package webassets

import (
	"bytes"
	"encoding/xml"
	"io/fs"
	"strings"
	"testing"
)

func TestDefaultsFS_Files(t *testing.T) {
	fsys := DefaultsFS()
	for _, name := range []string{WebXMLName, ManifestName} {
		info, err := fs.Stat(fsys, name)
		if err != nil {
			t.Fatalf("%s not found: %v", name, err)
		}
		if info.IsDir() || info.Size() == 0 {
			t.Fatalf("%s: dir=%v size=%d", name, info.IsDir(), info.Size())
		}
	}
}

func TestDefaultsFS_NoParentEscape(t *testing.T) {
	if _, err := fs.Stat(DefaultsFS(), "../defaults"); err == nil {
		t.Fatal("should not be able to escape to parent via ../")
	}
}

func TestDefaultWebXML_WellFormed(t *testing.T) {
	var doc struct {
		XMLName xml.Name
		Welcome []string `xml:"welcome-file-list>welcome-file"`
	}
	if err := xml.Unmarshal(DefaultWebXML(), &doc); err != nil {
		t.Fatalf("default web.xml does not parse: %v", err)
	}
	if doc.XMLName.Local != "web-app" {
		t.Fatalf("root element = %q, want web-app", doc.XMLName.Local)
	}
	if len(doc.Welcome) == 0 || doc.Welcome[0] != "index.html" {
		t.Fatalf("welcome files = %v", doc.Welcome)
	}
}

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()
	if !bytes.HasPrefix(m, []byte("Manifest-Version: 1.0\r\n")) {
		t.Fatalf("manifest must start with the version header, got %q", m)
	}
	// jar manifests end with an empty line
	if !strings.HasSuffix(string(m), "\r\n\r\n") {
		t.Fatalf("manifest must end with a blank line, got %q", m)
	}
}

func TestDefaults_ReturnCopies(t *testing.T) {
	a := DefaultWebXML()
	a[0] = 'X'
	if DefaultWebXML()[0] == 'X' {
		t.Fatal("DefaultWebXML must not share its backing array")
	}
}
