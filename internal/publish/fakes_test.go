package publish

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type storedObject struct {
	data []byte
	meta map[string]string
}

// fakeS3 is an in-memory bucket store
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]storedObject
	putErr  error
	puts    []string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]storedObject{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[k] = storedObject{data: data, meta: in.Metadata}
	f.puts = append(f.puts, k)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
		Metadata:      obj.meta,
	}, nil
}

// fakeSSM stores parameters in memory
type fakeSSM struct {
	mu     sync.Mutex
	params map[string]string
	getErr error
}

func newFakeSSM() *fakeSSM { return &fakeSSM{params: map[string]string{}} }

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.params[aws.ToString(in.Name)]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(v)}}, nil
}

func (f *fakeSSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !aws.ToBool(in.Overwrite) {
		if _, exists := f.params[aws.ToString(in.Name)]; exists {
			return nil, errors.New("ParameterAlreadyExists")
		}
	}
	f.params[aws.ToString(in.Name)] = aws.ToString(in.Value)
	return &ssm.PutParameterOutput{}, nil
}

func (f *fakeSSM) set(name, value string) {
	f.mu.Lock()
	f.params[name] = value
	f.mu.Unlock()
}

// testSigner "signs" by prefixing the first bytes of the message
type testSigner struct{ err error }

func (s testSigner) Sign(_ context.Context, message []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]byte("sig:"), message[:8]...), nil
}

func (testSigner) KeyID() string { return "alias/warpack-test" }

type testVerifier struct{}

func (testVerifier) VerifySignature(_ context.Context, message, signature []byte) error {
	want := append([]byte("sig:"), message[:8]...)
	if !bytes.Equal(want, signature) {
		return errors.New("signature mismatch")
	}
	return nil
}
