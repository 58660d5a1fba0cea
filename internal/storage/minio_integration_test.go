//go:build integration

package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

// TestMinioStore_RoundTrip runs the adapter against a real MinIO container.
// Requires Docker: go test -tags integration ./internal/storage
func TestMinioStore_RoundTrip(t *testing.T) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("could not connect to docker: %v", err)
	}

	tag := os.Getenv("MD_MINIO_TEST_TAG")
	if tag == "" {
		tag = "RELEASE.2024-01-31T20-20-33Z"
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "minio/minio",
		Tag:        tag,
		Cmd:        []string{"server", "/data"},
		Env: []string{
			"MINIO_ROOT_USER=minio",
			"MINIO_ROOT_PASSWORD=minio-secret",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
	})
	if err != nil {
		t.Fatalf("could not start minio: %v", err)
	}
	defer func() { _ = pool.Purge(resource) }()

	endpoint := "localhost:" + resource.GetPort("9000/tcp")
	pool.MaxWait = 60 * time.Second

	admin, err := minio.New(endpoint, &minio.Options{Creds: credentials.NewStaticV4("minio", "minio-secret", "")})
	if err != nil {
		t.Fatalf("minio client: %v", err)
	}
	if err := pool.Retry(func() error {
		return admin.MakeBucket(context.Background(), "models", minio.MakeBucketOptions{})
	}); err != nil {
		t.Fatalf("could not create bucket: %v", err)
	}

	ctx := context.Background()
	store, err := NewMinioStore(ctx, Options{
		Endpoint:  "http://" + endpoint,
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Bucket:    "models",
	})
	if err != nil {
		t.Fatalf("NewMinioStore: %v", err)
	}

	body := "solid cube\nendsolid cube\n"
	if err := store.Put(ctx, "cube.stl", strings.NewReader(body), int64(len(body)), "model/stl"); err != nil {
		t.Fatalf("put: %v", err)
	}

	objs, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objs) != 1 || objs[0].Key != "cube.stl" {
		t.Fatalf("unexpected listing: %+v", objs)
	}

	signed, err := store.PresignGet(ctx, "cube.stl", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	resp, err := http.Get(signed)
	if err != nil {
		t.Fatalf("get signed url: %v", err)
	}
	got, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(got) != body {
		t.Fatalf("signed download: status=%d body=%q", resp.StatusCode, got)
	}

	if want := fmt.Sprintf("http://%s/models/cube.stl", endpoint); store.ObjectURL("cube.stl") != want {
		t.Errorf("ObjectURL = %q, want %q", store.ObjectURL("cube.stl"), want)
	}

	if err := store.Delete(ctx, "cube.stl"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "cube.stl"); err != nil {
		t.Fatalf("second delete should be idempotent: %v", err)
	}
	objs, _ = store.List(ctx, "")
	if len(objs) != 0 {
		t.Fatalf("expected empty bucket, got %+v", objs)
	}
}
