package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/migration-orchestrator/internal/logging"
	"github.com/example/migration-orchestrator/internal/migration"
	"github.com/example/migration-orchestrator/internal/testfixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStatus struct{}

func (failingStatus) Status(context.Context) (migration.Status, error) {
	return migration.Status{}, &migration.StorageError{Op: "executed", Err: errors.New("connection refused")}
}

func newEngine(t *testing.T) *migration.Engine {
	t.Helper()
	storage := migration.NewMemoryStorage("001_a")
	engine, err := migration.New(storage, testfixtures.NewJournal().Units("001_a", "002_b"),
		migration.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return engine
}

func TestRouter_Status(t *testing.T) {
	router := NewRouter(RouterConfig{Status: newEngine(t), Logger: logging.Discard()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "001_a", body.Current)
	assert.Equal(t, []string{"001_a"}, body.Executed)
	assert.Equal(t, []string{"002_b"}, body.Pending)
	assert.Empty(t, body.Unknown)
}

func TestRouter_StatusFailure(t *testing.T) {
	router := NewRouter(RouterConfig{Status: failingStatus{}, Logger: logging.Discard()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "storage", body.ErrorKind)
	assert.Contains(t, body.Message, "connection refused")
}

func TestRouter_HealthAndMethods(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "metric 1\n")
	})
	router := NewRouter(RouterConfig{
		Metrics:    metrics,
		Logger:     logging.Discard(),
		Middleware: []func(http.Handler) http.Handler{RequestLogger(logging.Discard())},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "metric 1\n", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListenAndShutdown(t *testing.T) {
	server, err := Listen("127.0.0.1:0", NewRouter(RouterConfig{Logger: logging.Discard()}), logging.Discard())
	require.NoError(t, err)

	resp, err := http.Get("http://" + server.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, server.Shutdown(context.Background()))
}

func TestServer_ShutdownDrainsAfterCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	server, err := Listen("127.0.0.1:0", handler, logging.Discard())
	require.NoError(t, err)

	responses := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + server.Addr() + "/slow")
		if err != nil {
			responses <- 0
			return
		}
		resp.Body.Close()
		responses <- resp.StatusCode
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	shutdown := make(chan error, 1)
	go func() { shutdown <- server.Shutdown(ctx) }()

	select {
	case err := <-shutdown:
		t.Fatalf("shutdown returned before the open request finished: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-shutdown)
	assert.Equal(t, http.StatusNoContent, <-responses)
}
