package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// apiError implements smithy.APIError.
type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var (
	errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}
	errNotFound  = &apiError{code: "NotFound", msg: "not found"}
)

// mockS3 is an in-memory S3 backend.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	lengths map[string]int64

	putErr  error
	headErr error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte), lengths: make(map[string]int64)}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	if in.ContentLength != nil {
		m.lengths[*in.Key] = *in.ContentLength
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, errNotFound
	}
	return &s3.HeadObjectOutput{}, nil
}

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	s, err := NewLocal(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	return s
}

func TestLocalWriteAndRead(t *testing.T) {
	t.Parallel()

	s := newTestLocal(t)
	ctx := context.Background()

	if err := WriteFile(ctx, s, "mix/a_0.wav", []byte("RIFF")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := ReadFile(ctx, s, "mix/a_0.wav")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "RIFF" {
		t.Errorf("Expected %q, got %q", "RIFF", got)
	}

	if _, err := os.Stat(filepath.Join(s.Root(), "mix", "a_0.wav")); err != nil {
		t.Errorf("Expected file on disk: %v", err)
	}

	// Overwrite truncates.
	if err := WriteFile(ctx, s, "mix/a_0.wav", []byte("X")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if got, _ := ReadFile(ctx, s, "mix/a_0.wav"); string(got) != "X" {
		t.Errorf("Expected %q after overwrite, got %q", "X", got)
	}
}

func TestLocalWriteIsAtomic(t *testing.T) {
	t.Parallel()

	s := newTestLocal(t)
	ctx := context.Background()

	w, err := s.Write(ctx, "a.wav")
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ok, err := s.Exists(ctx, "a.wav")
	if err != nil || ok {
		t.Errorf("Expected no visible file before Close, got %v, %v", ok, err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	ok, err = s.Exists(ctx, "a.wav")
	if err != nil || !ok {
		t.Errorf("Expected file after Close, got %v, %v", ok, err)
	}

	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only the final file, got %d entries", len(entries))
	}
}

func TestLocalReadNotExist(t *testing.T) {
	t.Parallel()

	s := newTestLocal(t)
	if _, err := s.Read(context.Background(), "missing.wav"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}

func TestS3WriteAndRead(t *testing.T) {
	t.Parallel()

	mock := newMockS3()
	store := NewS3(mock, "bucket", "runs/1")
	ctx := context.Background()

	data := []byte("some wav bytes")
	if err := WriteFile(ctx, store, "mix/a_0.wav", data); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, ok := mock.objects["runs/1/mix/a_0.wav"]; !ok {
		t.Fatalf("Expected prefixed key, have %v", mock.objects)
	}
	if n := mock.lengths["runs/1/mix/a_0.wav"]; n != int64(len(data)) {
		t.Errorf("Expected ContentLength %d, got %d", len(data), n)
	}

	got, err := ReadFile(ctx, store, "mix/a_0.wav")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Expected %q, got %q", data, got)
	}
}

func TestS3NotFound(t *testing.T) {
	t.Parallel()

	store := NewS3(newMockS3(), "bucket", "")
	ctx := context.Background()

	if _, err := store.Read(ctx, "missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}

	ok, err := store.Exists(ctx, "missing")
	if err != nil || ok {
		t.Errorf("Expected (false, nil), got (%v, %v)", ok, err)
	}
}

func TestS3Errors(t *testing.T) {
	t.Parallel()

	mock := newMockS3()
	mock.putErr = errors.New("access denied")
	mock.headErr = errors.New("network timeout")
	store := NewS3(mock, "bucket", "")
	ctx := context.Background()

	if err := WriteFile(ctx, store, "a.wav", []byte("x")); err == nil || errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected upload error, got %v", err)
	}
	if _, err := store.Exists(ctx, "a.wav"); err == nil {
		t.Error("Expected HeadObject error to surface")
	}

	w, _ := store.Write(ctx, "b.wav")
	w.Close()
	if _, err := w.Write([]byte("late")); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Expected os.ErrClosed, got %v", err)
	}
}

func TestNewS3Client(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	c := NewS3Client(S3Config{Region: "eu-central-1", Endpoint: "http://localhost:9000"})
	opts := c.Options()
	if opts.Region != "eu-central-1" {
		t.Errorf("Expected region eu-central-1, got %q", opts.Region)
	}
	if !opts.UsePathStyle || opts.BaseEndpoint == nil || *opts.BaseEndpoint != "http://localhost:9000" {
		t.Error("Expected path-style requests against the custom endpoint")
	}
}
