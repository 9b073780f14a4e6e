// Package config loads runtime configuration from the environment,
// grounded on worker/internal/config.FromEnv's getenv/getenvInt/getenvBool
// helper trio, generalized from a single worker's settings into the
// runtime core's own knobs.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// AppThrottle bounds how many tasks an application may have submitted
	// and not yet terminal at once, for a registration that names no
	// throttle of its own.
	AppThrottle int

	SchedulerPolicy string // currently only "orderstrict"

	DispatchQueueBackend string // memory|redis
	RedisAddr string
	RedisPassword string
	RedisDB int

	DataStoreBackend string // memory|postgres
	PostgresDSN string

	CheckpointBackend string // none|file|objectstore
	CheckpointPath string

	ObjectStoreEndpoint string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreBucket string
	ObjectStoreUseSSL bool

	// ProfileStoreBackend selects where INPUT_PROFILE/OUTPUT_PROFILE persist
	// execution-profile metrics: none|file|objectstore.
	ProfileStoreBackend string
	InputProfile string
	OutputProfile string
	ProfileObjectKey string

	// DefaultWallClockLimit, when nonzero, seeds RegisterApplication's
	// deadline for callers that do not name their own.
	DefaultWallClockLimit time.Duration

	PolicyFile string
	RoutingFile string

	RequeueInterval time.Duration
	BarrierTimeout time.Duration

	MaxCloudNodes int

	HTTPAddr string
}

func FromEnv() Config {
	return Config{
		AppThrottle: getenvInt("COMPSS_APP_THROTTLE", 100),

		SchedulerPolicy: getenv("COMPSS_SCHEDULER_POLICY", "orderstrict"),

		DispatchQueueBackend: getenv("COMPSS_DISPATCH_QUEUE_BACKEND", "memory"),
		RedisAddr: getenv("COMPSS_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("COMPSS_REDIS_PASSWORD", ""),
		RedisDB: getenvInt("COMPSS_REDIS_DB", 0),

		DataStoreBackend: getenv("COMPSS_DATASTORE_BACKEND", "memory"),
		PostgresDSN: getenv("COMPSS_POSTGRES_DSN", ""),

		CheckpointBackend: getenv("COMPSS_CHECKPOINT_BACKEND", "none"),
		CheckpointPath: getenv("COMPSS_CHECKPOINT_PATH", "/tmp/compss-checkpoint.jsonl"),

		ObjectStoreEndpoint: getenv("COMPSS_OBJECTSTORE_ENDPOINT", ""),
		ObjectStoreAccessKey: getenv("COMPSS_OBJECTSTORE_ACCESS_KEY", ""),
		ObjectStoreSecretKey: getenv("COMPSS_OBJECTSTORE_SECRET_KEY", ""),
		ObjectStoreBucket: getenv("COMPSS_OBJECTSTORE_BUCKET", "compss-checkpoints"),
		ObjectStoreUseSSL: getenvBool("COMPSS_OBJECTSTORE_USE_SSL", false),

		ProfileStoreBackend: getenv("COMPSS_PROFILE_STORE_BACKEND", "none"),
		InputProfile: getenv("COMPSS_INPUT_PROFILE", ""),
		OutputProfile: getenv("COMPSS_OUTPUT_PROFILE", ""),
		ProfileObjectKey: getenv("COMPSS_PROFILE_OBJECT_KEY", "profile.json"),
		DefaultWallClockLimit: getenvDuration("COMPSS_WALLCLOCK_LIMIT", 0),

		PolicyFile: getenv("COMPSS_POLICY_FILE", ""),
		RoutingFile: getenv("COMPSS_ROUTING_FILE", ""),

		RequeueInterval: time.Duration(getenvInt("COMPSS_REQUEUE_INTERVAL_SECONDS", 30)) * time.Second,
		BarrierTimeout: time.Duration(getenvInt("COMPSS_BARRIER_TIMEOUT_SECONDS", 0)) * time.Second,

		MaxCloudNodes: getenvInt("COMPSS_MAX_CLOUD_NODES", 0),

		HTTPAddr: getenv("COMPSS_HTTP_ADDR", ":8080"),
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}
