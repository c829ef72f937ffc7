package s3

// MinIOConfig holds MinIO-specific configuration.
type MinIOConfig struct {
	Endpoint      string // MinIO server endpoint (e.g., "localhost:9000" or "https://minio.example.com")
	BucketName    string
	AccessKey     string // MinIO Root Username or access key
	SecretKey     string // MinIO Root Password or secret key
	UseSSL        bool   // Use HTTPS connection (default: false for development)
	PublicBaseURL string
}

// NewMinIOStore creates a Store configured for MinIO.
// MinIO requires path-style URLs (endpoint/bucket/key).
//
// Example:
//
//	store, err := NewMinIOStore(&MinIOConfig{
//	    Endpoint:   "localhost:9000",
//	    BucketName: "survey-photos",
//	    AccessKey:  "minioadmin",
//	    SecretKey:  "minioadmin",
//	})
func NewMinIOStore(config *MinIOConfig) (*Store, error) {
	return New(Config{
		Endpoint:      config.Endpoint,
		BucketName:    config.BucketName,
		AccessKey:     config.AccessKey,
		SecretKey:     config.SecretKey,
		Region:        "us-east-1", // MinIO doesn't use regions, default required
		UseSSL:        config.UseSSL,
		PathStyle:     true,
		PublicBaseURL: config.PublicBaseURL,
	})
}

// MinIODefaultCredentials returns the default MinIO credentials.
// WARNING: Only use for local development, never in production.
func MinIODefaultCredentials() (accessKey, secretKey string) {
	return "minioadmin", "minioadmin"
}

// MinIOLocalEndpoint returns the default local MinIO endpoint.
func MinIOLocalEndpoint() string {
	return "localhost:9000"
}
