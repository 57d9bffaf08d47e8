package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCrawlCommandTriggersAndWaits(t *testing.T) {
	var triggered, polled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/run-crawl":
			triggered = true
			json.NewEncoder(w).Encode(map[string]string{"status": "started"})
		case "/api/status":
			polled = true
			json.NewEncoder(w).Encode(map[string]bool{
				"crawl_running":   false,
				"summary_running": false,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cmd := runCrawlCmd()
	cmd.SetArgs([]string{"--server", srv.URL, "--wait"})
	require.NoError(t, cmd.Execute())
	assert.True(t, triggered)
	assert.True(t, polled)
}

func TestRunSummaryCommandSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "summary job not configured"})
	}))
	defer srv.Close()

	cmd := runSummaryCmd()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetArgs([]string{"--server", srv.URL})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestServerURLDefaultsToConfiguredAddr(t *testing.T) {
	base, err := serverURL("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3003", base)

	base, err = serverURL("http://example.test:9000")
	require.NoError(t, err)
	assert.Equal(t, "http://example.test:9000", base)
}
