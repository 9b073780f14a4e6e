package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig configures an S3-compatible profile sink, the same
// shape as internal/checkpoint.ObjectStoreConfig: this repo's two
// object-store consumers (checkpoint events, the profile document) are
// grounded on the same worker/internal/executor.Executor minio setup.
type ObjectStoreConfig struct {
	Endpoint string
	AccessKey string
	SecretKey string
	Bucket string
	UseSSL bool
	Key string // object key the document is stored under
}

// ObjectStore reads and writes the profile document as a single object,
// unlike ObjectStoreCheckpointManager's one-object-per-event log: a profile
// has no append-only ordering to preserve, it is one JSON document
// overwritten in place on every Save.
type ObjectStore struct {
	client *minio.Client
	bucket string
	key string
}

func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("profile: object store endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("profile: minio client: %w", err)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "compss-checkpoints"
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("profile: bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("profile: make bucket: %w", err)
		}
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = "profile.json"
	}
	return &ObjectStore{client: client, bucket: bucket, key: key}, nil
}

func (s *ObjectStore) Load(ctx context.Context) (*Document, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("profile: get object: %w", err)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		if resp, ok := minioErrorResponse(err); ok && resp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("profile: read object: %w", err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	doc := &Document{}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("profile: parse object: %w", err)
	}
	return doc, nil
}

func (s *ObjectStore) Save(ctx context.Context, doc *Document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("profile: marshal: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.key, bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("profile: put object: %w", err)
	}
	return nil
}

func minioErrorResponse(err error) (minio.ErrorResponse, bool) {
	resp := minio.ToErrorResponse(err)
	return resp, resp.Code != ""
}

var _ Store = (*ObjectStore)(nil)
