package publish

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/keithlinneman/warpack/internal/archive"
	"github.com/keithlinneman/warpack/internal/asset"
	"github.com/keithlinneman/warpack/internal/container"
	"github.com/keithlinneman/warpack/internal/cryptoutil"
	"github.com/keithlinneman/warpack/internal/war"
	"github.com/keithlinneman/warpack/internal/xerrors"
)

var testLocation = Location{SSMParam: "/warpack/shop/current", S3Bucket: "releases", S3Prefix: "shop"}

func sampleWar(t *testing.T) *war.Archive {
	t.Helper()
	w := war.New("shop", war.Options{Container: []container.Option{container.WithResources(fstest.MapFS{
		"web.xml": {Data: []byte("<web-app/>")},
	})}}).
		SetWebXML("web.xml").
		AddAt(asset.FromString("<html/>"), "index.html")
	if err := w.Err(); err != nil {
		t.Fatalf("build war: %v", err)
	}
	return w
}

type recordingPublishMetrics struct {
	outcomes []string
	bytes    int64
}

func (r *recordingPublishMetrics) ObservePublish(outcome string, n int64, _ float64) {
	r.outcomes = append(r.outcomes, outcome)
	r.bytes += n
}

func TestPublishThenLoad_RoundTrip(t *testing.T) {
	s3c, ssmc := newFakeS3(), newFakeSSM()
	pm := &recordingPublishMetrics{}
	pub := newPublisher(PublisherOptions{Location: testLocation, Signer: testSigner{}}, s3c, ssmc).WithMetrics(pm)

	res, err := pub.Publish(context.Background(), sampleWar(t))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !cryptoutil.IsSHA256Hex(res.SHA256) {
		t.Fatalf("hash = %q", res.SHA256)
	}
	if res.Key != "shop/"+res.SHA256+".war" || res.SignatureKey != res.Key+".sig" {
		t.Fatalf("keys = %q, %q", res.Key, res.SignatureKey)
	}
	if got := ssmc.params[testLocation.SSMParam]; got != res.SHA256 {
		t.Fatalf("SSM pointer = %q, want %q", got, res.SHA256)
	}
	if len(pm.outcomes) != 1 || pm.outcomes[0] != "ok" || pm.bytes != res.Size {
		t.Fatalf("metrics outcomes=%v bytes=%d", pm.outcomes, pm.bytes)
	}

	ld := newLoader(LoaderOptions{Location: testLocation, Verifier: testVerifier{}}, s3c, ssmc)
	snap, err := ld.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.SHA256 != res.SHA256 || snap.Source != SourceS3 || snap.Name != "shop.war" {
		t.Fatalf("snapshot = %+v", snap)
	}
	data, err := fs.ReadFile(snap.FS, "WEB-INF/web.xml")
	if err != nil || string(data) != "<web-app/>" {
		t.Fatalf("web.xml = %q, %v", data, err)
	}
	if len(snap.Entries) != 2 || snap.Entries[0].Path != "/WEB-INF/web.xml" {
		t.Fatalf("entries = %+v", snap.Entries)
	}
}

func TestPublish_PointerUnchangedOnUploadFailure(t *testing.T) {
	s3c, ssmc := newFakeS3(), newFakeSSM()
	ssmc.set(testLocation.SSMParam, "previous")
	s3c.putErr = errors.New("AccessDenied")

	pm := &recordingPublishMetrics{}
	pub := newPublisher(PublisherOptions{Location: testLocation}, s3c, ssmc).WithMetrics(pm)
	if _, err := pub.Publish(context.Background(), sampleWar(t)); err == nil {
		t.Fatal("expected upload error")
	}
	if ssmc.params[testLocation.SSMParam] != "previous" {
		t.Fatal("SSM pointer must not move when the upload fails")
	}
	if len(pm.outcomes) != 1 || pm.outcomes[0] != "error" {
		t.Fatalf("metrics outcomes = %v", pm.outcomes)
	}
}

func TestPublish_SignerFailureStopsBeforePointer(t *testing.T) {
	s3c, ssmc := newFakeS3(), newFakeSSM()
	pub := newPublisher(PublisherOptions{Location: testLocation, Signer: testSigner{err: errors.New("kms down")}}, s3c, ssmc)
	if _, err := pub.Publish(context.Background(), sampleWar(t)); err == nil {
		t.Fatal("expected signing error")
	}
	if _, ok := ssmc.params[testLocation.SSMParam]; ok {
		t.Fatal("SSM pointer must not be written when signing fails")
	}
}

func TestPublish_Errors(t *testing.T) {
	pub := newPublisher(PublisherOptions{Location: testLocation, MaxSize: 16}, newFakeS3(), newFakeSSM())
	if _, err := pub.Publish(context.Background(), sampleWar(t)); !errors.Is(err, archive.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := pub.Publish(context.Background(), nil); !xerrors.IsMissingArgument(err) {
		t.Fatalf("Publish(nil) = %v", err)
	}

	broken := war.New("broken", war.Options{}).SetWebXML("")
	if _, err := pub.Publish(context.Background(), broken); !xerrors.IsMissingArgument(err) {
		t.Fatalf("Publish(broken) = %v, want the sticky builder error", err)
	}
}

func TestLoader_ChecksumMismatch(t *testing.T) {
	s3c, ssmc := newFakeS3(), newFakeSSM()
	res, err := newPublisher(PublisherOptions{Location: testLocation}, s3c, ssmc).Publish(context.Background(), sampleWar(t))
	if err != nil {
		t.Fatal(err)
	}

	// tamper with the stored object
	k := testLocation.S3Bucket + "/" + res.Key
	obj := s3c.objects[k]
	obj.data = append([]byte(nil), obj.data...)
	obj.data[len(obj.data)-1] ^= 0xff
	s3c.objects[k] = obj

	_, err = newLoader(LoaderOptions{Location: testLocation}, s3c, ssmc).Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestLoader_RequiresSignatureWhenVerifying(t *testing.T) {
	s3c, ssmc := newFakeS3(), newFakeSSM()
	// published unsigned
	if _, err := newPublisher(PublisherOptions{Location: testLocation}, s3c, ssmc).Publish(context.Background(), sampleWar(t)); err != nil {
		t.Fatal(err)
	}
	_, err := newLoader(LoaderOptions{Location: testLocation, Verifier: testVerifier{}}, s3c, ssmc).Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "fetch signature") {
		t.Fatalf("expected missing signature error, got %v", err)
	}
}

func TestLoader_FetchCurrentHash(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		set     bool
		wantErr string
	}{
		{"missing", "", false, "get SSM parameter"},
		{"empty", "  ", true, "is empty"},
		{"not a digest", "../../etc/passwd", true, "not a sha256"},
		{"ok", cryptoutil.SHA256Hex([]byte("x")), true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ssmc := newFakeSSM()
			if tt.set {
				ssmc.set(testLocation.SSMParam, tt.value)
			}
			hash, err := newLoader(LoaderOptions{Location: testLocation}, newFakeS3(), ssmc).FetchCurrentHash(context.Background())
			if tt.wantErr == "" {
				if err != nil || hash != tt.value {
					t.Fatalf("FetchCurrentHash = %q, %v", hash, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_SizeLimit(t *testing.T) {
	s3c, ssmc := newFakeS3(), newFakeSSM()
	if _, err := newPublisher(PublisherOptions{Location: testLocation}, s3c, ssmc).Publish(context.Background(), sampleWar(t)); err != nil {
		t.Fatal(err)
	}
	_, err := newLoader(LoaderOptions{Location: testLocation, MaxSize: 16}, s3c, ssmc).Load(context.Background())
	if !errors.Is(err, archive.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestLocation_Validate(t *testing.T) {
	if err := (Location{S3Bucket: "b"}).validate(); err == nil {
		t.Fatal("expected SSMParam error")
	}
	if err := (Location{SSMParam: "/p"}).validate(); err == nil {
		t.Fatal("expected S3Bucket error")
	}
	if got := (Location{SSMParam: "/p", S3Bucket: "b"}).key("abc"); got != "abc.war" {
		t.Fatalf("key without prefix = %q", got)
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	if err := m.ReadyErr(); err == nil {
		t.Fatal("empty manager should not be ready")
	}
	if m.Source() != SourceUnknown || m.Hash() != "" {
		t.Fatal("empty manager should report unknown source and empty hash")
	}

	snap, err := NewSnapshot(context.Background(), sampleWar(t).Archive(), SourceLocal, "")
	if err != nil {
		t.Fatal(err)
	}
	m.Set(*snap)
	got, ok := m.Get()
	if !ok || got == snap || got.Source != SourceLocal {
		t.Fatalf("Get() = %+v, %v; Set should store a copy", got, ok)
	}
	if err := m.ReadyErr(); err != nil {
		t.Fatalf("ReadyErr() = %v", err)
	}
}
