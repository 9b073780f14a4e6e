package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig configures an S3-compatible checkpoint sink. Grounded
// on worker/internal/executor.Executor's minio setup (endpoint/access
// key/secret/bucket/useSSL), generalized from an artifact-upload path into
// a checkpoint-event sink.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// ObjectStoreCheckpointManager uploads one object per event to an
// S3-compatible bucket, keyed by sequence number so the ordering survives
// even though objects, unlike a JSONL file, have no total order of their
// own.
type ObjectStoreCheckpointManager struct {
	client *minio.Client
	bucket string
	prefix string

	mu  sync.Mutex
	seq uint64
}

func NewObjectStoreCheckpointManager(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStoreCheckpointManager, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("checkpoint: object store endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: minio client: %w", err)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "compss-checkpoints"
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("checkpoint: make bucket: %w", err)
		}
	}
	return &ObjectStoreCheckpointManager{client: client, bucket: bucket, prefix: cfg.Prefix}, nil
}

func (m *ObjectStoreCheckpointManager) put(ctx context.Context, kind string, e event) {
	m.mu.Lock()
	m.seq++
	e.Seq = m.seq
	m.mu.Unlock()
	e.Kind = kind
	e.CreatedAt = time.Now().UTC()
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s%020d-%s.json", m.prefix, e.Seq, kind)
	_, _ = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{ContentType: "application/json"})
}

func (m *ObjectStoreCheckpointManager) NewTask(ctx context.Context, taskID uint64, coreID int, appID string) {
	m.put(ctx, "new_task", event{TaskID: taskID, CoreID: coreID, AppID: appID})
}

func (m *ObjectStoreCheckpointManager) EndTask(ctx context.Context, taskID uint64, state string) {
	m.put(ctx, "end_task", event{TaskID: taskID, State: state})
}

func (m *ObjectStoreCheckpointManager) MainAccess(ctx context.Context, dataID uint64, renaming string) {
	m.put(ctx, "main_access", event{DataID: dataID, Renaming: renaming})
}

func (m *ObjectStoreCheckpointManager) DeletedData(ctx context.Context, dataID uint64) {
	m.put(ctx, "deleted_data", event{DataID: dataID})
}

var _ Manager = (*ObjectStoreCheckpointManager)(nil)
