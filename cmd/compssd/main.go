package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Minimega12121/compss/internal/app"
	"github.com/Minimega12121/compss/internal/checkpoint"
	"github.com/Minimega12121/compss/internal/config"
	"github.com/Minimega12121/compss/internal/dip"
	"github.com/Minimega12121/compss/internal/jobmanager"
	"github.com/Minimega12121/compss/internal/observability"
	"github.com/Minimega12121/compss/internal/policy"
	"github.com/Minimega12121/compss/internal/profile"
	"github.com/Minimega12121/compss/internal/resource"
	"github.com/Minimega12121/compss/internal/runtime"
)

// accessTokens lets HTTP callers reference a *dip.AccessID by an opaque
// string across the AccessData -> SubmitTask request pair, since an
// AccessID cannot be re-derived from JSON once WillAccess has consumed it.
type accessTokens struct {
	mu sync.Mutex
	next uint64
	byID map[string]*dip.AccessID
}

func newAccessTokens() *accessTokens {
	return &accessTokens{byID: make(map[string]*dip.AccessID)}
}

func (t *accessTokens) put(a *dip.AccessID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	token := fmt.Sprintf("acc:%d", t.next)
	t.byID[token] = a
	return token
}

func (t *accessTokens) take(token string) (*dip.AccessID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.byID[token]
	delete(t.byID, token)
	return a, ok
}

func main() {
	cfg := config.FromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTrace, err := observability.InitTracingFromEnv("compssd")
	if err != nil {
		logger.Error("init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	ckpt, err := buildCheckpointManager(context.Background(), cfg)
	if err != nil {
		logger.Error("build checkpoint manager", "error", err)
		os.Exit(1)
	}

	profileStore, err := buildProfileStore(context.Background(), cfg)
	if err != nil {
		logger.Error("build profile store", "error", err)
		os.Exit(1)
	}
	var initialProfile *profile.Document
	if profileStore != nil {
		initialProfile, err = profileStore.Load(context.Background())
		if err != nil {
			logger.Error("load initial profile", "error", err)
			os.Exit(1)
		}
	}

	dataStore, err := buildDataStore(context.Background(), cfg)
	if err != nil {
		logger.Error("build data store", "error", err)
		os.Exit(1)
	}
	initialDataInfos, err := loadDataInfos(context.Background(), dataStore)
	if err != nil {
		logger.Error("load initial data infos", "error", err)
		os.Exit(1)
	}

	dispatchQueue, err := buildDispatchQueue(cfg)
	if err != nil {
		logger.Error("build dispatch queue", "error", err)
		os.Exit(1)
	}

	pol, err := policy.LoadFromEnv()
	if err != nil {
		logger.Error("load policy", "error", err)
		os.Exit(1)
	}

	router, err := resource.LoadRouterFromEnv()
	if err != nil {
		logger.Error("load router", "error", err)
		os.Exit(1)
	}

	adapter := jobmanager.NewLocalAdapter(func(ctx context.Context, job *jobmanager.Job, payload []byte) ([]byte, error) {
		// no external worker transport is wired in-process; a
		// locally-run task is treated as immediately successful.
		return payload, nil
	})

	rt := runtime.New(runtime.Options{
		Config: cfg,
		Logger: logger,
		Adapter: adapter,
		Queue: dispatchQueue,
		DataStore: dataStore,
		InitialDataInfos: initialDataInfos,
		Checkpoint: ckpt,
		Policy: pol,
		Router: router,
		ProfileStore: profileStore,
		InitialProfile: initialProfile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("start runtime", "error", err)
		os.Exit(1)
	}
	rt.RunAdapterPool(ctx, 4, "compssd-local", nil)

	tokens := newAccessTokens()
	mux := buildMux(rt, tokens)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if err := rt.SaveProfile(shutdownCtx); err != nil {
			logger.Error("save profile", "error", err)
		}
		rt.Stop()
	}()

	logger.Info("compssd listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("compssd failed", "error", err)
		os.Exit(1)
	}
	if err := rt.Wait(); err != nil && err != context.Canceled {
		logger.Error("runtime stopped with error", "error", err)
	}
	logger.Info("compssd shutting down")
}

func buildCheckpointManager(ctx context.Context, cfg config.Config) (checkpoint.Manager, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.CheckpointBackend)) {
	case "", "none":
		return checkpoint.NoopManager{}, nil
	case "file":
		return checkpoint.NewFileCheckpointManager(cfg.CheckpointPath)
	case "objectstore":
		return checkpoint.NewObjectStoreCheckpointManager(ctx, checkpoint.ObjectStoreConfig{
			Endpoint: cfg.ObjectStoreEndpoint,
			AccessKey: cfg.ObjectStoreAccessKey,
			SecretKey: cfg.ObjectStoreSecretKey,
			Bucket: cfg.ObjectStoreBucket,
			UseSSL: cfg.ObjectStoreUseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
}

// buildDataStore selects the DIP's persistence backend. "memory" (the
// default) keeps DataInfo bookkeeping in the runtime's own map only, the
// same as before this backend existed; "postgres" additionally durably
// records every version transition so a restarted master reloads it via
// loadDataInfos rather than starting from an empty registry.
func buildDataStore(ctx context.Context, cfg config.Config) (dip.DataStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DataStoreBackend)) {
	case "", "memory":
		return nil, nil
	case "postgres":
		return dip.NewPostgresDataStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown data store backend %q", cfg.DataStoreBackend)
	}
}

// loadDataInfos reloads every persisted DataInfo snapshot ahead of Runtime
// construction. Restored entries carry a nil Owner: the Application that
// registered them does not survive a restart either (RegisterApplication
// state is not persisted), so nothing will ever call RegisterData/
// UnregisterData on their behalf again, which DataInfo already tolerates
// (see the Owner nil-checks in internal/dip/provider.go).
func loadDataInfos(ctx context.Context, store dip.DataStore) (map[dip.DataID]*dip.DataInfo, error) {
	if store == nil {
		return nil, nil
	}
	snaps, err := store.ListDataInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("list data info: %w", err)
	}
	out := make(map[dip.DataID]*dip.DataInfo, len(snaps))
	for _, snap := range snaps {
		out[snap.ID] = dip.Restore(snap, nil)
	}
	return out, nil
}

// buildDispatchQueue selects the Job Manager's DispatchQueue backend.
// "memory" (the default) keeps dispatch state in the process; "redis" lets
// the adapter pool span multiple compssd processes pulling from the same
// queue.
func buildDispatchQueue(cfg config.Config) (jobmanager.DispatchQueue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DispatchQueueBackend)) {
	case "", "memory":
		return nil, nil
	case "redis":
		return jobmanager.NewRedisDispatchQueue(jobmanager.RedisConfig{
			Addr: cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB: cfg.RedisDB,
		}), nil
	default:
		return nil, fmt.Errorf("unknown dispatch queue backend %q", cfg.DispatchQueueBackend)
	}
}

// splitPathProfileStore reads INPUT_PROFILE and writes OUTPUT_PROFILE, which
// may name different files: a run can seed itself from one experiment's
// accumulated profile and leave a fresh one behind for the next.
type splitPathProfileStore struct {
	load *profile.FileStore
	save *profile.FileStore
}

func (s splitPathProfileStore) Load(ctx context.Context) (*profile.Document, error) {
	if s.load == nil {
		return nil, nil
	}
	return s.load.Load(ctx)
}

func (s splitPathProfileStore) Save(ctx context.Context, doc *profile.Document) error {
	if s.save == nil {
		return nil
	}
	return s.save.Save(ctx, doc)
}

func buildProfileStore(ctx context.Context, cfg config.Config) (profile.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ProfileStoreBackend)) {
	case "", "none":
		return nil, nil
	case "file":
		s := splitPathProfileStore{}
		if strings.TrimSpace(cfg.InputProfile) != "" {
			s.load = profile.NewFileStore(cfg.InputProfile)
		}
		if strings.TrimSpace(cfg.OutputProfile) != "" {
			s.save = profile.NewFileStore(cfg.OutputProfile)
		}
		return s, nil
	case "objectstore":
		return profile.NewObjectStore(ctx, profile.ObjectStoreConfig{
			Endpoint: cfg.ObjectStoreEndpoint,
			AccessKey: cfg.ObjectStoreAccessKey,
			SecretKey: cfg.ObjectStoreSecretKey,
			Bucket: cfg.ObjectStoreBucket,
			UseSSL: cfg.ObjectStoreUseSSL,
			Key: cfg.ProfileObjectKey,
		})
	default:
		return nil, fmt.Errorf("unknown profile store backend %q", cfg.ProfileStoreBackend)
	}
}

type registerApplicationRequestBody struct {
	Throttle int `json:"throttle"`
	Priority string `json:"priority"`
	// DeadlineSeconds, if positive, is a wall-clock run-time limit starting
	// from registration: past it, the runtime cancels every task the
	// application still owns. Zero falls back to the runtime's configured
	// COMPSS_WALLCLOCK_LIMIT; with that unset too, there is no deadline.
	DeadlineSeconds int `json:"deadline_seconds"`
}

type registerApplicationResponse struct {
	ApplicationID string `json:"application_id"`
}

type registerCoreElementRequestBody struct {
	Signature string `json:"signature"`
	Implementations []string `json:"implementations"`
}

type registerCoreElementResponse struct {
	CoreID int `json:"core_id"`
}

type registerResourceRequestBody struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // static|cloud_elastic|http_connection
	CPUCores int `json:"cpu_cores"`
	MemoryMB int `json:"memory_mb"`
	GPU bool `json:"gpu"`
	Implementations []string `json:"implementations"`
	Locality string `json:"locality"`
	MaxConnections int `json:"max_connections"`
}

type openGroupRequestBody struct {
	Name string `json:"name"`
	OnFailure int `json:"on_failure"`
}

type accessDataRequestBody struct {
	DataID uint64 `json:"data_id"`
	Kind string `json:"kind"` // file|object|collection|dict_collection|binding_object|stream
	Direction string `json:"direction"`
}

type accessDataResponse struct {
	AccessToken string `json:"access_token"`
	DataID uint64 `json:"data_id"`
}

type submitTaskParamBody struct {
	DataID uint64 `json:"data_id"`
	Kind string `json:"kind"`
	Direction string `json:"direction"`
	Name string `json:"name"`
	Prefix string `json:"prefix"`
}

type submitTaskRequestBody struct {
	CoreID int `json:"core_id"`
	OnFailure int `json:"on_failure"`
	Params []submitTaskParamBody `json:"params"`
}

type submitTaskResponse struct {
	TaskID uint64 `json:"task_id"`
}

func buildMux(rt *runtime.Runtime, tokens *accessTokens) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/v1/metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, observability.Default.Snapshot())
	})
	mux.HandleFunc("/v1/metrics/prometheus", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
	})

	mux.HandleFunc("/v1/resources", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req registerResourceRequestBody
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if strings.TrimSpace(req.Name) == "" {
				writeError(w, http.StatusBadRequest, "name is required")
				return
			}
			desc := resource.Description{
				Name: req.Name,
				Kind: parseResourceKind(req.Kind),
				CPUCores: req.CPUCores,
				MemoryMB: req.MemoryMB,
				GPU: req.GPU,
				Implementations: req.Implementations,
				Locality: req.Locality,
				MaxConnections: req.MaxConnections,
			}
			rt.Pool().Add(resource.New(desc))
			writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
		case http.MethodGet:
			list := rt.Pool().List()
			out := make([]map[string]any, 0, len(list))
			for _, res := range list {
				out = append(out, map[string]any{
					"description": res.Description(),
					"profile": res.Profile(),
				})
			}
			writeJSON(w, http.StatusOK, out)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	mux.HandleFunc("/v1/core-elements", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req registerCoreElementRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		id := rt.RegisterCoreElement(req.Signature, req.Implementations)
		writeJSON(w, http.StatusCreated, registerCoreElementResponse{CoreID: id})
	})

	mux.HandleFunc("/v1/applications", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req registerApplicationRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		var deadline time.Time
		switch {
		case req.DeadlineSeconds > 0:
			deadline = time.Now().Add(time.Duration(req.DeadlineSeconds) * time.Second)
		case rt.DefaultWallClockLimit() > 0:
			deadline = time.Now().Add(rt.DefaultWallClockLimit())
		}
		id, err := rt.RegisterApplication(req.Throttle, req.Priority, deadline)
		if err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, registerApplicationResponse{ApplicationID: string(id)})
	})

	mux.HandleFunc("/v1/applications/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v1/applications/")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) < 2 || parts[0] == "" {
			writeError(w, http.StatusNotFound, "application subresource not found")
			return
		}
		appID := parts[0]
		routeApplicationSubresource(w, r, rt, tokens, appID, parts[1])
	})

	return mux
}

func routeApplicationSubresource(w http.ResponseWriter, r *http.Request, rt *runtime.Runtime, tokens *accessTokens, appIDRaw, sub string) {
	appID := app.ID(appIDRaw)
	switch sub {
	case "groups/open":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req openGroupRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		rt.OpenTaskGroup(appID, req.Name, req.OnFailure)
		writeJSON(w, http.StatusOK, map[string]bool{"opened": true})
	case "groups/close":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := rt.CloseCurrentTaskGroup(appID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"closed": true})
	case "data":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req accessDataRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		access, err := rt.AccessData(appID, runtime.ParamSpec{
			DataID: dip.DataID(req.DataID),
			Kind: parseDataKind(req.Kind),
			Direction: parseDirection(req.Direction),
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		token := tokens.put(access)
		writeJSON(w, http.StatusCreated, accessDataResponse{AccessToken: token, DataID: req.DataID})
	case "tasks":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req submitTaskRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		specs := make([]runtime.ParamSpec, 0, len(req.Params))
		for _, p := range req.Params {
			specs = append(specs, runtime.ParamSpec{
				DataID: dip.DataID(p.DataID),
				Kind: parseDataKind(p.Kind),
				Direction: parseDirection(p.Direction),
				Name: p.Name,
				Prefix: p.Prefix,
			})
		}
		taskID, err := rt.SubmitTask(appID, req.CoreID, specs, req.OnFailure)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, submitTaskResponse{TaskID: uint64(taskID)})
	case "barrier":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		ctx := r.Context()
		if raw := strings.TrimSpace(r.URL.Query().Get("timeout_seconds")); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
				defer cancel()
			}
		}
		if err := rt.Barrier(ctx, appID); err != nil {
			writeError(w, http.StatusRequestTimeout, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"completed": true})
	case "results":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data_ids": rt.GetResultFiles(appID)})
	case "end":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rt.EndApplication(appID)
		writeJSON(w, http.StatusOK, map[string]bool{"ended": true})
	default:
		writeError(w, http.StatusNotFound, "application subresource not found")
	}
}

func parseResourceKind(s string) resource.Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cloud_elastic", "cloud":
		return resource.KindCloudElastic
	case "http_connection", "http":
		return resource.KindHTTPConnection
	default:
		return resource.KindStatic
	}
}

func parseDataKind(s string) dip.Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "object":
		return dip.KindObject
	case "collection":
		return dip.KindCollection
	case "dict_collection":
		return dip.KindDictCollection
	case "binding_object":
		return dip.KindBindingObject
	case "stream":
		return dip.KindStream
	default:
		return dip.KindFile
	}
}

func parseDirection(s string) dip.Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "W":
		return dip.DirW
	case "RW":
		return dip.DirRW
	case "C":
		return dip.DirC
	case "CV":
		return dip.DirCV
	default:
		return dip.DirR
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
