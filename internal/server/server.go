// Package server exposes the read-only data contract, the read API over the
// tag matrix, and the authenticated admin curation API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/config"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/index"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/loader"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
)

// Jobs are the long-running operations the server can trigger. Each runs in
// the background with a bounded context; nil entries disable the trigger.
type Jobs struct {
	// Crawl is the incremental monitor run (POST /api/run-crawl).
	Crawl func(ctx context.Context) error
	// Summary regenerates the AI report (POST /api/run-summary).
	Summary func(ctx context.Context) error
	// ParseAndTag reparses the pasted self-product changelog and tags it
	// (POST /api/admin/changelog).
	ParseAndTag func(ctx context.Context) error
}

// Server routes HTTP traffic to the store, the matrix model and the jobs.
type Server struct {
	cfg      *config.Config
	store    *storage.Store
	loader   *loader.Loader
	index    *index.Index
	jobs     Jobs
	sessions *sessionStore
	runner   *jobRunner
	metrics  *metrics
	log      *zap.Logger
}

func New(cfg *config.Config, store *storage.Store, ldr *loader.Loader, idx *index.Index, jobs Jobs, log *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		loader:   ldr,
		index:    idx,
		jobs:     jobs,
		sessions: newSessionStore(),
		runner:   newJobRunner(log),
		metrics:  newMetrics(),
		log:      log,
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Static document contract
	mux.HandleFunc("GET /data/info/tag.json", s.dataTags)
	mux.HandleFunc("GET /data/info/admin_config.json", s.dataAdminConfig)
	mux.HandleFunc("GET /data/info/summary.json", s.dataSummary)
	mux.HandleFunc("GET /data/storage/{product}", s.dataProduct)
	mux.HandleFunc("GET /data/logs/index.json", s.dataLogIndex)
	mux.HandleFunc("GET /data/logs/{file}", s.dataLogFile)

	// Read API
	mux.HandleFunc("GET /api/matrix", s.getMatrix)
	mux.HandleFunc("GET /api/products", s.listProducts)
	mux.HandleFunc("GET /api/products/{name}", s.getProduct)
	mux.HandleFunc("GET /api/tags/{primary}/{secondary}/features", s.getTagFeatures)

	// Admin API
	mux.HandleFunc("POST /api/admin/login", s.login)
	mux.HandleFunc("POST /api/admin/logout", s.logout)
	mux.HandleFunc("GET /api/admin/others", s.auth(s.adminOthers))
	mux.HandleFunc("GET /api/admin/untagged", s.auth(s.adminUntagged))
	mux.HandleFunc("GET /api/admin/tags", s.auth(s.adminTags))
	mux.HandleFunc("GET /api/admin/used-subtags", s.auth(s.adminUsedSubtags))
	mux.HandleFunc("GET /api/admin/logs", s.auth(s.adminLogs))
	mux.HandleFunc("GET /api/admin/changelog", s.auth(s.adminGetChangelog))
	mux.HandleFunc("POST /api/admin/changelog", s.auth(s.adminPostChangelog))
	mux.HandleFunc("GET /api/admin/config", s.auth(s.adminGetConfig))
	mux.HandleFunc("POST /api/admin/config", s.auth(s.adminPostConfig))
	mux.HandleFunc("POST /api/admin/others/update", s.auth(s.adminOthersUpdate))
	mux.HandleFunc("POST /api/admin/feature/add", s.auth(s.adminFeatureAdd))
	mux.HandleFunc("POST /api/admin/feature/edit", s.auth(s.adminFeatureEdit))
	mux.HandleFunc("POST /api/admin/feature/delete", s.auth(s.adminFeatureDelete))
	mux.HandleFunc("POST /api/admin/feature/update-tags", s.auth(s.adminFeatureUpdateTags))
	mux.HandleFunc("POST /api/admin/feature/mark-none", s.auth(s.adminFeatureMarkNone))
	mux.HandleFunc("POST /api/admin/tag/rename", s.auth(s.adminTagRename))
	mux.HandleFunc("POST /api/admin/features", s.auth(s.adminSearchFeatures))

	// Jobs and status
	mux.HandleFunc("GET /api/status", s.getStatus)
	mux.HandleFunc("POST /api/run-crawl", s.runCrawl)
	mux.HandleFunc("POST /api/run-summary", s.runSummary)

	mux.Handle("GET /metrics", s.metrics.handler())

	return withCORS(s.logged(s.metrics.instrument(mux)))
}

// Run starts the HTTP server on the configured address.
func (s *Server) Run() error {
	s.log.Info("starting server", zap.String("addr", s.cfg.Server.Addr))
	return http.ListenAndServe(s.cfg.Server.Addr, s.Handler())
}

// withCORS adds CORS headers for the frontend dev server.
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

// logged writes one access log line per request.
func (s *Server) logged(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
	})
}

// auth guards admin handlers behind a bearer session. A missing or dead
// token gets a 401, which clients treat as forced logout.
func (s *Server) auth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.sessions.Verify(bearerToken(r)) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(w, r)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return header[len("Bearer "):]
	}
	return ""
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := s.store.AdminConfig()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Password != cfg.Password {
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": s.sessions.Create()})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Delete(bearerToken(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// reload refreshes the loader snapshot after a mutation. Best effort; the
// files on disk are already correct and the next explicit reload catches up.
func (s *Server) reload(r *http.Request) {
	if s.loader == nil {
		return
	}
	if _, err := s.loader.Reload(r.Context()); err != nil {
		s.log.Warn("snapshot reload failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
