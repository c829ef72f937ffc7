// Package s3 stores survey photos in S3-compatible object storage.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
)

// Config holds the settings shared by every provider preset.
type Config struct {
	Endpoint      string // host[:port], optionally with an http(s) scheme
	BucketName    string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	PathStyle     bool   // endpoint/bucket/key instead of bucket.endpoint/key
	PublicBaseURL string // CDN or custom domain serving the bucket's objects
}

// Store is a BlobStore backed by minio-go.
type Store struct {
	client     *minio.Client
	bucket     string
	publicBase string
	pathStyle  bool
}

// terminalCodes are S3 error codes a retry cannot fix.
var terminalCodes = map[string]bool{
	"EntityTooLarge":    true,
	"InvalidObjectName": true,
	"InvalidArgument":   true,
	"KeyTooLongError":   true,
	"MetadataTooLarge":  true,
}

// New creates a Store from cfg.
func New(cfg Config) (*Store, error) {
	if cfg.BucketName == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "bucket name is required")
	}
	host, secure, err := ParseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	lookup := minio.BucketLookupDNS
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid object storage configuration", err)
	}

	return &Store{
		client:     client,
		bucket:     cfg.BucketName,
		publicBase: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		pathStyle:  cfg.PathStyle,
	}, nil
}

// ParseEndpoint splits an endpoint into the host minio-go expects and
// whether TLS is used. An explicit scheme wins over useSSL.
func ParseEndpoint(endpoint string, useSSL bool) (host string, secure bool, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, apperrors.New(apperrors.ErrInvalid, "endpoint cannot be empty")
	}

	secure = useSSL
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		secure = true
		endpoint = strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		secure = false
		endpoint = strings.TrimPrefix(endpoint, "http://")
	}
	endpoint = strings.TrimSuffix(endpoint, "/")
	if strings.Contains(endpoint, "/") {
		return "", false, apperrors.New(apperrors.ErrInvalid,
			fmt.Sprintf("endpoint %q must not contain a path", endpoint))
	}
	return endpoint, secure, nil
}

// Put uploads data under key, overwriting any existing object, and
// returns the object's URL.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", classify("upload "+key, err)
	}
	return s.URL(key), nil
}

// Remove deletes the object under key. Removing a missing object succeeds.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return classify("remove "+key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrUploadFailed, "object storage unreachable", err)
	}
	if !ok {
		return apperrors.New(apperrors.ErrSyncNotConfigured, fmt.Sprintf("bucket %q does not exist", s.bucket))
	}
	return nil
}

// URL returns the address an uploaded object is served from.
func (s *Store) URL(key string) string {
	escaped := escapeKey(key)
	if s.publicBase != "" {
		return s.publicBase + "/" + escaped
	}

	u := s.client.EndpointURL()
	if s.pathStyle {
		return fmt.Sprintf("%s://%s/%s/%s", u.Scheme, u.Host, s.bucket, escaped)
	}
	return fmt.Sprintf("%s://%s.%s/%s", u.Scheme, s.bucket, u.Host, escaped)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// classify maps a minio error onto an UPLOAD_FAILED error, terminal when
// the request itself was rejected.
func classify(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	if terminalCodes[resp.Code] {
		return apperrors.WrapTerminal(apperrors.ErrUploadFailed, op+" rejected", err)
	}
	return apperrors.Wrap(apperrors.ErrUploadFailed, op+" failed", err)
}
