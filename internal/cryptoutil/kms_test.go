package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

const testKeyARN = "arn:aws:kms:us-east-2:000000000000:key/test-key-id"

func generateTestRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return key
}

func generateTestECKey(t *testing.T, curve elliptic.Curve) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("generate ECDSA key: %v", err)
	}
	return key
}

// newTestVerifier creates a KMSVerifier with a pre-cached public key.
func newTestVerifier(t *testing.T, pub crypto.PublicKey) *KMSVerifier {
	t.Helper()
	v := &KMSVerifier{keyARN: testKeyARN}
	v.pubKey = pub
	return v
}

// fakeKMS signs digests with a local key and serves its public key
type fakeKMS struct {
	ec       *ecdsa.PrivateKey
	rsa      *rsa.PrivateKey
	usage    kmstypes.KeyUsageType
	err      error
	lastSign *kms.SignInput
	getCalls int
}

func (f *fakeKMS) Sign(_ context.Context, in *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	f.lastSign = in
	if f.err != nil {
		return nil, f.err
	}
	var sig []byte
	var err error
	switch {
	case f.ec != nil:
		sig, err = ecdsa.SignASN1(rand.Reader, f.ec, in.Message)
	case f.rsa != nil:
		sig, err = rsa.SignPSS(rand.Reader, f.rsa, crypto.SHA256, in.Message, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	}
	if err != nil {
		return nil, err
	}
	return &kms.SignOutput{Signature: sig}, nil
}

func (f *fakeKMS) GetPublicKey(_ context.Context, _ *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	f.getCalls++
	if f.err != nil {
		return nil, f.err
	}
	var pub crypto.PublicKey
	if f.ec != nil {
		pub = &f.ec.PublicKey
	} else {
		pub = &f.rsa.PublicKey
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &kms.GetPublicKeyOutput{PublicKey: der, KeyUsage: f.usage}, nil
}

func TestVerifySignature(t *testing.T) {
	p384 := generateTestECKey(t, elliptic.P384())
	p256 := generateTestECKey(t, elliptic.P256())
	other := generateTestECKey(t, elliptic.P256())
	rsaKey := generateTestRSAKey(t)

	message := []byte("archive bytes")
	d384 := sha512.Sum384(message)
	d256 := sha256.Sum256(message)

	sig384, _ := ecdsa.SignASN1(rand.Reader, p384, d384[:])
	sig256, _ := ecdsa.SignASN1(rand.Reader, p256, d256[:])
	sigPSS, _ := rsa.SignPSS(rand.Reader, rsaKey, crypto.SHA256, d256[:], nil)
	sigPKCS, _ := rsa.SignPKCS1v15(rand.Reader, rsaKey, crypto.SHA256, d256[:])

	corrupted := append([]byte(nil), sig256...)
	corrupted[0] ^= 0xff

	tests := []struct {
		name      string
		pub       crypto.PublicKey
		allowPKCS bool
		msg       []byte
		sig       []byte
		wantErr   bool
	}{
		{"ecdsa p384", &p384.PublicKey, false, message, sig384, false},
		{"ecdsa p256", &p256.PublicKey, false, message, sig256, false},
		{"ecdsa wrong message", &p256.PublicKey, false, []byte("other"), sig256, true},
		{"ecdsa wrong key", &other.PublicKey, false, message, sig256, true},
		{"ecdsa corrupted", &p256.PublicKey, false, message, corrupted, true},
		{"ecdsa empty sig", &p256.PublicKey, false, message, nil, true},
		{"rsa pss", &rsaKey.PublicKey, false, message, sigPSS, false},
		{"rsa pkcs1v15 rejected", &rsaKey.PublicKey, false, message, sigPKCS, true},
		{"rsa pkcs1v15 fallback", &rsaKey.PublicKey, true, message, sigPKCS, false},
		{"unsupported key", "not-a-key", false, message, sig256, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(t, tt.pub)
			v.AllowPKCS1v15 = tt.allowPKCS
			err := v.VerifySignature(t.Context(), tt.msg, tt.sig)
			if (err != nil) != tt.wantErr {
				t.Fatalf("VerifySignature err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublicKey_FetchesOnceAndCaches(t *testing.T) {
	fk := &fakeKMS{ec: generateTestECKey(t, elliptic.P256()), usage: kmstypes.KeyUsageTypeSignVerify}
	v := &KMSVerifier{client: fk, keyARN: testKeyARN}

	for i := 0; i < 3; i++ {
		pub, err := v.PublicKey(t.Context())
		if err != nil {
			t.Fatalf("PublicKey: %v", err)
		}
		if _, ok := pub.(*ecdsa.PublicKey); !ok {
			t.Fatalf("expected *ecdsa.PublicKey, got %T", pub)
		}
	}
	if fk.getCalls != 1 {
		t.Fatalf("GetPublicKey calls = %d, want 1", fk.getCalls)
	}
}

func TestPublicKey_RejectsWrongUsage(t *testing.T) {
	fk := &fakeKMS{ec: generateTestECKey(t, elliptic.P256()), usage: kmstypes.KeyUsageTypeEncryptDecrypt}
	v := &KMSVerifier{client: fk, keyARN: testKeyARN}
	if _, err := v.PublicKey(t.Context()); err == nil {
		t.Fatal("expected error for ENCRYPT_DECRYPT key")
	}
}

func TestPublicKey_NilClient_FailsOnCacheMiss(t *testing.T) {
	v := &KMSVerifier{keyARN: testKeyARN}
	if _, err := v.PublicKey(t.Context()); err == nil {
		t.Fatal("expected error when client is nil and cache is empty")
	}
}

func TestKMSSigner_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		fk   *fakeKMS
		alg  kmstypes.SigningAlgorithmSpec
	}{
		{"ecdsa p256", &fakeKMS{ec: generateTestECKey(t, elliptic.P256())}, kmstypes.SigningAlgorithmSpecEcdsaSha256},
		{"ecdsa p384", &fakeKMS{ec: generateTestECKey(t, elliptic.P384())}, kmstypes.SigningAlgorithmSpecEcdsaSha384},
		{"rsa pss", &fakeKMS{rsa: generateTestRSAKey(t)}, kmstypes.SigningAlgorithmSpecRsassaPssSha256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fk.usage = kmstypes.KeyUsageTypeSignVerify
			s := &KMSSigner{client: tt.fk, keyID: testKeyARN, Algorithm: tt.alg}

			message := []byte("PK\x03\x04 war bytes")
			sig, err := s.Sign(t.Context(), message)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if tt.fk.lastSign.MessageType != kmstypes.MessageTypeDigest {
				t.Fatalf("MessageType = %s, want DIGEST", tt.fk.lastSign.MessageType)
			}

			v := &KMSVerifier{client: tt.fk, keyARN: testKeyARN}
			if err := v.VerifySignature(t.Context(), message, sig); err != nil {
				t.Fatalf("VerifySignature: %v", err)
			}
			if err := v.VerifySignature(t.Context(), []byte("tampered"), sig); err == nil {
				t.Fatal("expected verification failure for tampered message")
			}
		})
	}
}

func TestKMSSigner_Errors(t *testing.T) {
	s := &KMSSigner{keyID: testKeyARN}
	if _, err := s.Sign(t.Context(), []byte("x")); err == nil {
		t.Fatal("expected error without client")
	}

	boom := errors.New("throttled")
	s = &KMSSigner{client: &fakeKMS{err: boom}, keyID: testKeyARN}
	if _, err := s.Sign(t.Context(), []byte("x")); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped kms error, got %v", err)
	}

	s = &KMSSigner{client: &fakeKMS{}, keyID: testKeyARN, Algorithm: "SM2DSA"}
	if _, err := s.Sign(t.Context(), []byte("x")); err == nil {
		t.Fatal("expected unsupported algorithm error")
	}
}
