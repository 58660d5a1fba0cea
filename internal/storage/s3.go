package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store stores models in AWS S3 (or an S3-compatible endpoint) using
// aws-sdk-go-v2.
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	region    string
	endpoint  string // scheme://host, empty for AWS
	pathStyle bool
}

// NewS3Store builds an S3 client from static credentials. An empty
// opts.Endpoint targets AWS itself.
func NewS3Store(ctx context.Context, opts Options) (*S3Store, error) {
	if opts.AccessKey == "" || opts.SecretKey == "" || opts.Bucket == "" || opts.Region == "" {
		return nil, fmt.Errorf("s3 configuration incomplete")
	}

	var endpoint string
	if opts.Endpoint != "" {
		host, secure, err := normaliseEndpoint(opts.Endpoint)
		if err != nil {
			return nil, err
		}
		scheme := "http"
		if secure {
			scheme = "https"
		}
		endpoint = scheme + "://" + host
	}

	creds := aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     opts.AccessKey,
			SecretAccessKey: opts.SecretKey,
			Source:          "modeldrop",
		}, nil
	}))

	client := s3.New(s3.Options{
		Region:       opts.Region,
		Credentials:  creds,
		UsePathStyle: opts.PathStyle,
	}, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	s := &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    opts.Bucket,
		region:    opts.Region,
		endpoint:  endpoint,
		pathStyle: opts.PathStyle,
	}

	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	objects := []Object{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			o := Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			objects = append(objects, o)
		}
	}
	return objects, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *S3Store) ObjectURL(key string) string {
	return s3ObjectURL(s.endpoint, s.bucket, s.region, s.pathStyle, key)
}

func (s *S3Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s: %w", s.bucket, err)
	}
	return nil
}

func s3ObjectURL(endpoint, bucket, region string, pathStyle bool, key string) string {
	key = EscapeKey(key)
	if endpoint == "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
	}
	if pathStyle {
		return fmt.Sprintf("%s/%s/%s", endpoint, bucket, key)
	}
	scheme, host, _ := strings.Cut(endpoint, "://")
	return fmt.Sprintf("%s://%s.%s/%s", scheme, bucket, host, key)
}
