package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const jobTimeout = 10 * time.Minute

// jobRunner executes at most one instance of each named job at a time.
type jobRunner struct {
	mu      sync.Mutex
	running map[string]bool
	log     *zap.Logger
	done    func(name string, err error)
}

func newJobRunner(log *zap.Logger) *jobRunner {
	return &jobRunner{running: make(map[string]bool), log: log}
}

// Start launches fn in the background under a 10-minute deadline. Returns
// false without starting when the job is already running.
func (j *jobRunner) Start(name string, fn func(ctx context.Context) error) bool {
	j.mu.Lock()
	if j.running[name] {
		j.mu.Unlock()
		return false
	}
	j.running[name] = true
	j.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		err := fn(ctx)

		j.mu.Lock()
		j.running[name] = false
		j.mu.Unlock()

		if err != nil {
			j.log.Error("job failed", zap.String("job", name), zap.Error(err))
		} else {
			j.log.Info("job finished", zap.String("job", name))
		}
		if j.done != nil {
			j.done(name, err)
		}
	}()
	return true
}

// Running reports whether the named job is in flight.
func (j *jobRunner) Running(name string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running[name]
}

// getStatus reports the persisted last-run timestamps plus the live flags.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.RunStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status.CrawlRunning = s.runner.Running("crawl")
	status.SummaryRunning = s.runner.Running("summary")
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) runCrawl(w http.ResponseWriter, r *http.Request) {
	s.triggerJob(w, "crawl", s.jobs.Crawl, true)
}

func (s *Server) runSummary(w http.ResponseWriter, r *http.Request) {
	s.triggerJob(w, "summary", s.jobs.Summary, false)
}

// triggerJob starts a background job, stamping its last-run time first so
// the status endpoint reflects the attempt even if the job dies.
func (s *Server) triggerJob(w http.ResponseWriter, name string, fn func(ctx context.Context) error, isCrawl bool) {
	if fn == nil {
		writeError(w, http.StatusServiceUnavailable, name+" job not configured")
		return
	}
	if s.runner.Running(name) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_running"})
		return
	}

	now := time.Now().Format(time.RFC3339)
	var err error
	if isCrawl {
		err = s.store.MarkRun(now, "")
	} else {
		err = s.store.MarkRun("", now)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !s.runner.Start(name, func(ctx context.Context) error {
		defer s.metrics.jobDone(name)
		return fn(ctx)
	}) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_running"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}
