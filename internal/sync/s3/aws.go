package s3

import (
	"fmt"
	"sort"
)

// Default AWS S3 endpoints by region.
var awsEndpoints = map[string]string{
	"us-east-1":      "s3.amazonaws.com",
	"us-east-2":      "s3.us-east-2.amazonaws.com",
	"us-west-1":      "s3.us-west-1.amazonaws.com",
	"us-west-2":      "s3.us-west-2.amazonaws.com",
	"eu-west-1":      "s3.eu-west-1.amazonaws.com",
	"eu-west-2":      "s3.eu-west-2.amazonaws.com",
	"eu-west-3":      "s3.eu-west-3.amazonaws.com",
	"eu-central-1":   "s3.eu-central-1.amazonaws.com",
	"eu-north-1":     "s3.eu-north-1.amazonaws.com",
	"eu-south-1":     "s3.eu-south-1.amazonaws.com",
	"ap-northeast-1": "s3.ap-northeast-1.amazonaws.com",
	"ap-southeast-1": "s3.ap-southeast-1.amazonaws.com",
	"ap-southeast-2": "s3.ap-southeast-2.amazonaws.com",
	"ap-south-1":     "s3.ap-south-1.amazonaws.com",
	"ca-central-1":   "s3.ca-central-1.amazonaws.com",
	"sa-east-1":      "s3.sa-east-1.amazonaws.com",
	"af-south-1":     "s3.af-south-1.amazonaws.com",
}

// AWSConfig holds AWS S3-specific configuration.
type AWSConfig struct {
	BucketName    string
	AccessKey     string
	SecretKey     string
	Region        string // Default: us-east-1
	PublicBaseURL string
}

// NewAWSStore creates a Store configured for AWS S3 with virtual-host
// style URLs (bucket.s3.<region>.amazonaws.com).
func NewAWSStore(config *AWSConfig) (*Store, error) {
	region := config.Region
	if region == "" {
		region = "us-east-1"
	}
	endpoint, err := AWSEndpointForRegion(region)
	if err != nil {
		return nil, err
	}

	return New(Config{
		Endpoint:      endpoint,
		BucketName:    config.BucketName,
		AccessKey:     config.AccessKey,
		SecretKey:     config.SecretKey,
		Region:        region,
		UseSSL:        true,
		PublicBaseURL: config.PublicBaseURL,
	})
}

// AWSEndpointForRegion returns the S3 endpoint for a region.
func AWSEndpointForRegion(region string) (string, error) {
	endpoint, ok := awsEndpoints[region]
	if !ok {
		return "", fmt.Errorf("unsupported AWS region: %s", region)
	}
	return endpoint, nil
}

// SupportedAWSRegions returns the known regions in sorted order.
func SupportedAWSRegions() []string {
	regions := make([]string, 0, len(awsEndpoints))
	for r := range awsEndpoints {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	return regions
}
