// Package storage adapts object-storage backends (MinIO, AWS S3, memory) to
// the small set of operations the model API needs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// Supported values for Options.Provider.
const (
	ProviderMinio  = "minio"
	ProviderS3     = "s3"
	ProviderMemory = "memory"
)

// Object is a listing entry returned by Store.List.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the object-storage surface used by the HTTP handlers.
// Delete of a key that does not exist must succeed.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// ObjectURL returns the unsigned URL of key. It does not check existence.
	ObjectURL(key string) string
	// Ping verifies the bucket is reachable.
	Ping(ctx context.Context) error
}

// Options selects and configures a backend.
type Options struct {
	Provider  string
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	// PathStyle forces path-style addressing on the s3 provider.
	PathStyle bool
}

// ErrUnknownProvider is returned by New for an unsupported Options.Provider.
var ErrUnknownProvider = errors.New("unknown storage provider")

// New builds the Store selected by opts.Provider.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Provider {
	case ProviderMinio:
		return NewMinioStore(ctx, opts)
	case ProviderS3:
		return NewS3Store(ctx, opts)
	case ProviderMemory:
		return NewMemory("memory://" + opts.Bucket), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
}

// normaliseEndpoint accepts either "minio:9000" or "http://minio:9000" / "https://minio:9000".
func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// No scheme provided, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}

// EscapeKey path-escapes every segment of an object key for use in a URL.
func EscapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
