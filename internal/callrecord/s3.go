package callrecord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-voice-backend/pkg/config"
)

// objectStore is the subset of *minio.Client the saver needs
type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Saver uploads records (and optionally their media) to an S3-compatible bucket
type S3Saver struct {
	client    objectStore
	bucket    string
	root      string
	withMedia bool
	logger    *zap.Logger
}

// NewS3Saver creates a saver for the s3 callrecord variant
func NewS3Saver(cfg *config.CallRecordConfig, logger *zap.Logger) (*S3Saver, error) {
	host, secure, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: bucketLookup(cfg.Vendor),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return newS3Saver(client, cfg, logger), nil
}

func newS3Saver(client objectStore, cfg *config.CallRecordConfig, logger *zap.Logger) *S3Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Saver{
		client:    client,
		bucket:    cfg.Bucket,
		root:      strings.Trim(cfg.Root, "/"),
		withMedia: cfg.UploadMedia(),
		logger:    logger,
	}
}

// parseEndpoint accepts either a bare host[:port] or a URL; a bare host
// defaults to TLS.
func parseEndpoint(endpoint string) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(endpoint, "/"), true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid s3 endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid s3 endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

// Aliyun OSS and Tencent COS only accept virtual-hosted style requests
func bucketLookup(vendor config.S3Vendor) minio.BucketLookupType {
	switch vendor {
	case config.S3VendorAliyun, config.S3VendorTencent:
		return minio.BucketLookupDNS
	case config.S3VendorMinio:
		return minio.BucketLookupPath
	default:
		return minio.BucketLookupAuto
	}
}

func (s *S3Saver) Name() string { return "s3" }

func (s *S3Saver) Save(ctx context.Context, rec *CallRecord) error {
	if err := rec.checkID(); err != nil {
		return err
	}
	out := *rec
	out.Recorder = append([]Media(nil), rec.Recorder...)

	if s.withMedia {
		for i, m := range out.Recorder {
			key := out.objectKey(s.root, "_"+m.TrackID+filepath.Ext(m.Path))
			uploaded, err := s.uploadFile(ctx, key, m.Path, m.ContentType)
			if err != nil {
				return err
			}
			if uploaded {
				out.Recorder[i].Path = key
			}
		}
		if out.DumpEventFile != "" {
			key := out.objectKey(s.root, ".events.jsonl")
			uploaded, err := s.uploadFile(ctx, key, out.DumpEventFile, "application/x-ndjson")
			if err != nil {
				// event dump upload is best-effort
				s.logger.Warn("Failed to upload event dump",
					zap.String("call_id", out.CallID), zap.Error(err))
			} else if uploaded {
				out.DumpEventFile = key
			}
		}
	}

	data, err := out.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode call record: %w", err)
	}

	key := out.objectKey(s.root, ".json")
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// uploadFile reports false without error when the local file does not exist
func (s *S3Saver) uploadFile(ctx context.Context, key, path, contentType string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Media file missing, skipping upload", zap.String("path", path))
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return false, fmt.Errorf("put object %s/%s: %w", s.bucket, key, err)
	}
	return true, nil
}
