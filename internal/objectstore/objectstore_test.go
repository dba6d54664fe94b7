package objectstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"derbyflow/internal/asset"
	"derbyflow/internal/objectstore"
	"derbyflow/internal/services"
)

func TestFileStoreUploadAndDownload(t *testing.T) {
	root := t.TempDir()
	store := objectstore.NewFileStore(root)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(src, []byte("video-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	loc := asset.Location{Bucket: "b", Key: "project/x/split/x_0.mp4"}
	if err := store.Upload(ctx, src, loc); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "b", "project", "x", "split", "x_0.mp4")); err != nil {
		t.Fatalf("expected object on disk: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "nested", "copy.mp4")
	if err := objectstore.Download(ctx, store, loc, dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "video-bytes" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestFileStoreMissingAndInvalid(t *testing.T) {
	store := objectstore.NewFileStore(t.TempDir())
	ctx := context.Background()
	if _, err := store.Open(ctx, asset.Location{Bucket: "b", Key: "nope"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	p, err := store.Path(asset.Location{Bucket: "b", Key: "../../etc/passwd"})
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if filepath.Dir(filepath.Dir(p)) != filepath.Join(store.Root, "b") {
		t.Fatalf("expected traversal clamped under bucket, got %q", p)
	}
	if _, err := store.Path(asset.Location{Bucket: "../b", Key: "k"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for bad bucket, got %v", err)
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{}}
	store := objectstore.NewS3(api)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "result.json")
	if err := os.WriteFile(src, []byte(`{"fps":25}`), 0o644); err != nil {
		t.Fatal(err)
	}
	loc := asset.Location{Bucket: "b", Key: "project/x/detect/x_0.json"}
	if err := store.Upload(ctx, src, loc); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if string(api.objects["b/project/x/detect/x_0.json"]) != `{"fps":25}` {
		t.Fatalf("unexpected stored object: %q", api.objects)
	}

	if _, err := store.Open(ctx, asset.Location{Bucket: "b", Key: "missing"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
