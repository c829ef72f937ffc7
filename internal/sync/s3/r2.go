package s3

import (
	"fmt"
	"strings"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
)

// R2Config holds Cloudflare R2-specific configuration.
type R2Config struct {
	AccountID  string // Cloudflare account ID (32 hex characters)
	BucketName string
	AccessKey  string
	SecretKey  string
	// PublicBaseURL is the custom domain or r2.dev URL bound to the
	// bucket. R2's S3 API does not serve public reads.
	PublicBaseURL string
}

// NewR2Store creates a Store configured for Cloudflare R2.
func NewR2Store(config *R2Config) (*Store, error) {
	if !IsValidR2AccountID(config.AccountID) {
		return nil, apperrors.New(apperrors.ErrInvalid, "R2 account ID must be 32 hex characters")
	}

	return New(Config{
		Endpoint:      R2EndpointForAccount(config.AccountID),
		BucketName:    config.BucketName,
		AccessKey:     config.AccessKey,
		SecretKey:     config.SecretKey,
		Region:        "auto", // R2 doesn't use regions like AWS
		UseSSL:        true,
		PathStyle:     true,
		PublicBaseURL: config.PublicBaseURL,
	})
}

// R2EndpointForAccount returns the R2 endpoint for a given account ID.
func R2EndpointForAccount(accountID string) string {
	return fmt.Sprintf("%s.r2.cloudflarestorage.com", accountID)
}

// IsValidR2AccountID performs basic validation of a Cloudflare Account ID.
func IsValidR2AccountID(accountID string) bool {
	if len(accountID) != 32 {
		return false
	}
	for _, c := range accountID {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
