package s3

import (
	"fmt"
	"strings"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
)

// Provider names accepted by NewForProvider.
const (
	ProviderMinIO   = "minio"
	ProviderAWS     = "aws"
	ProviderR2      = "r2"
	ProviderGeneric = "generic"
)

// NewForProvider builds a Store through the preset named by provider.
// For r2, cfg.Endpoint may hold the bare account ID. For aws the endpoint
// is derived from cfg.Region.
func NewForProvider(provider string, cfg Config) (*Store, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderMinIO, "":
		return NewMinIOStore(&MinIOConfig{
			Endpoint:      cfg.Endpoint,
			BucketName:    cfg.BucketName,
			AccessKey:     cfg.AccessKey,
			SecretKey:     cfg.SecretKey,
			UseSSL:        cfg.UseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
		})
	case ProviderAWS:
		return NewAWSStore(&AWSConfig{
			BucketName:    cfg.BucketName,
			AccessKey:     cfg.AccessKey,
			SecretKey:     cfg.SecretKey,
			Region:        cfg.Region,
			PublicBaseURL: cfg.PublicBaseURL,
		})
	case ProviderR2:
		if !IsValidR2AccountID(cfg.Endpoint) {
			cfg.Region = "auto"
			cfg.PathStyle = true
			return New(cfg)
		}
		return NewR2Store(&R2Config{
			AccountID:     cfg.Endpoint,
			BucketName:    cfg.BucketName,
			AccessKey:     cfg.AccessKey,
			SecretKey:     cfg.SecretKey,
			PublicBaseURL: cfg.PublicBaseURL,
		})
	case ProviderGeneric:
		return New(cfg)
	default:
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown object storage provider %q", provider))
	}
}
