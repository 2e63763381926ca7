package imagestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore_Put(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), "scans/user-1/abc.jpg", []byte("jpeg-bytes"))

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scans", "user-1", "abc.jpg"), ref)
	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "scans", "user-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestDiskStore_KeyCannotEscape(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(filepath.Join(dir, "images"))
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), "../../etc/passwd", []byte("x"))

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "images", "etc", "passwd"), ref)

	_, err = store.Put(context.Background(), "  ", []byte("x"))
	assert.Error(t, err)
}

func TestDiskStore_CanceledContext(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Put(ctx, "a.jpg", []byte("x"))

	assert.ErrorIs(t, err, context.Canceled)
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_Put(t *testing.T) {
	fake := &fakeS3{}
	store := newS3Store(fake, "foodwise-scans", "https://cdn.example.test/")

	ref, err := store.Put(context.Background(), "/scans/user-1/abc.jpg", []byte("jpeg-bytes"))

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.test/scans/user-1/abc.jpg", ref)
	assert.Equal(t, "foodwise-scans", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "scans/user-1/abc.jpg", aws.ToString(fake.input.Key))
	assert.Equal(t, "image/jpeg", aws.ToString(fake.input.ContentType))
	assert.Equal(t, "jpeg-bytes", string(fake.body))
}

func TestS3Store_PutError(t *testing.T) {
	store := newS3Store(&fakeS3{err: fmt.Errorf("access denied")}, "b", "https://cdn.example.test")

	_, err := store.Put(context.Background(), "a.jpg", []byte("x"))

	assert.ErrorContains(t, err, "access denied")
}

func TestNew(t *testing.T) {
	store, err := New(context.Background(), Config{Backend: "none"})
	assert.NoError(t, err)
	assert.Nil(t, store)

	store, err = New(context.Background(), Config{Backend: "disk", Dir: t.TempDir()})
	assert.NoError(t, err)
	assert.IsType(t, &DiskStore{}, store)

	_, err = New(context.Background(), Config{Backend: "s3"})
	assert.ErrorContains(t, err, "bucket")

	_, err = New(context.Background(), Config{Backend: "ftp"})
	assert.ErrorContains(t, err, "unsupported")
}
