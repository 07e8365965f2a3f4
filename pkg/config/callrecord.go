package config

import (
	"fmt"
	"runtime"
)

// CallRecordType selects the call-record backend
type CallRecordType string

const (
	// CallRecordLocal writes records to the local filesystem
	CallRecordLocal CallRecordType = "local"
	// CallRecordS3 uploads records to S3-compatible object storage
	CallRecordS3 CallRecordType = "s3"
	// CallRecordHTTP posts records to an HTTP endpoint
	CallRecordHTTP CallRecordType = "http"
)

// S3Vendor identifies the object storage provider behind an S3 endpoint
type S3Vendor string

const (
	S3VendorAliyun       S3Vendor = "aliyun"
	S3VendorTencent      S3Vendor = "tencent"
	S3VendorMinio        S3Vendor = "minio"
	S3VendorAWS          S3Vendor = "aws"
	S3VendorGCP          S3Vendor = "gcp"
	S3VendorAzure        S3Vendor = "azure"
	S3VendorDigitalOcean S3Vendor = "digitalocean"
)

// ValidS3Vendors lists all recognised vendors
var ValidS3Vendors = []S3Vendor{
	S3VendorAliyun, S3VendorTencent, S3VendorMinio, S3VendorAWS,
	S3VendorGCP, S3VendorAzure, S3VendorDigitalOcean,
}

// IsValid checks if a vendor string is recognised
func (v S3Vendor) IsValid() bool {
	for _, valid := range ValidS3Vendors {
		if v == valid {
			return true
		}
	}
	return false
}

// CallRecordConfig is a tagged variant: Type selects which of the remaining
// fields are meaningful.
//
//	local: Root
//	s3:    Vendor, Bucket, Region, AccessKey, SecretKey, Endpoint, Root, WithMedia
//	http:  URL, Headers, WithMedia
type CallRecordConfig struct {
	Type CallRecordType `toml:"type" yaml:"type"`

	Root string `toml:"root" yaml:"root"`

	Vendor    S3Vendor `toml:"vendor,omitempty" yaml:"vendor,omitempty"`
	Bucket    string   `toml:"bucket,omitempty" yaml:"bucket,omitempty"`
	Region    string   `toml:"region,omitempty" yaml:"region,omitempty"`
	AccessKey string   `toml:"access_key,omitempty" yaml:"access_key,omitempty"`
	SecretKey string   `toml:"secret_key,omitempty" yaml:"secret_key,omitempty"`
	Endpoint  string   `toml:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	URL     string            `toml:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `toml:"headers,omitempty" yaml:"headers,omitempty"`

	WithMedia *bool `toml:"with_media,omitempty" yaml:"with_media,omitempty"`
}

// DefaultCallRecord returns the local backend rooted at the platform default
func DefaultCallRecord() *CallRecordConfig {
	root := "/tmp/cdr"
	if runtime.GOOS == "windows" {
		root = "./cdr"
	}
	return &CallRecordConfig{Type: CallRecordLocal, Root: root}
}

// UploadMedia reports whether recorder files travel with the record
func (c *CallRecordConfig) UploadMedia() bool {
	return c.WithMedia != nil && *c.WithMedia
}

// Validate checks the variant tag and the fields it requires
func (c *CallRecordConfig) Validate() error {
	switch c.Type {
	case CallRecordLocal:
		if c.Root == "" {
			return fmt.Errorf("%w: local root is required", ErrInvalidCallRecord)
		}
	case CallRecordS3:
		if !c.Vendor.IsValid() {
			return fmt.Errorf("%w: unknown s3 vendor %q", ErrInvalidCallRecord, c.Vendor)
		}
		if c.Bucket == "" {
			return fmt.Errorf("%w: s3 bucket is required", ErrInvalidCallRecord)
		}
		if c.Endpoint == "" {
			return fmt.Errorf("%w: s3 endpoint is required", ErrInvalidCallRecord)
		}
		if c.Region == "" {
			return fmt.Errorf("%w: s3 region is required", ErrInvalidCallRecord)
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			return fmt.Errorf("%w: s3 access_key and secret_key are required", ErrInvalidCallRecord)
		}
	case CallRecordHTTP:
		if c.URL == "" {
			return fmt.Errorf("%w: http url is required", ErrInvalidCallRecord)
		}
	default:
		return fmt.Errorf("%w: unknown type %q (must be local, s3, or http)", ErrInvalidCallRecord, c.Type)
	}
	return nil
}
