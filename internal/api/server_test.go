package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/metrics"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/storage/memory"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ReadyzReportsDependencyFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewCheckpointStore(nil)
	server := NewServer(store, nil, func(context.Context) error {
		return errors.New("database is closed")
	}, Config{}, zap.NewNop())

	rec := serve(t, server, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_ListCheckpointsFiltersByStatus(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	server := NewServer(store, nil, nil, Config{}, zap.NewNop())

	rec := serve(t, server, httptest.NewRequest(http.MethodGet, "/v1/checkpoints?status=DONE", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Checkpoints []crawler.CheckpointRecord `json:"checkpoints"`
		Count       int                        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, "g1", body.Checkpoints[0].Key.GroupID)
	require.Equal(t, 37, body.Checkpoints[0].RowCount)

	rec = serve(t, server, httptest.NewRequest(http.MethodGet, "/v1/checkpoints", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Count)
}

func TestServer_ListCheckpointsRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), httptest.NewRequest(http.MethodGet, "/v1/checkpoints?status=LOST", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown checkpoint status")
}

func TestServer_CheckpointStats(t *testing.T) {
	t.Parallel()

	server := NewServer(seededStore(t), nil, nil, Config{}, zap.NewNop())
	rec := serve(t, server, httptest.NewRequest(http.MethodGet, "/v1/checkpoints/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total    int                    `json:"total"`
		Statuses map[crawler.Status]int `json:"statuses"`
		Rows     int                    `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Total)
	require.Equal(t, 1, body.Statuses[crawler.StatusDone])
	require.Equal(t, 1, body.Statuses[crawler.StatusFailed])
	require.Equal(t, 1, body.Statuses[crawler.StatusPending])
	require.Equal(t, 0, body.Statuses[crawler.StatusInProgress])
	require.Equal(t, 37, body.Rows)
}

func TestServer_GetCheckpoint(t *testing.T) {
	t.Parallel()

	server := NewServer(seededStore(t), nil, nil, Config{}, zap.NewNop())

	rec := serve(t, server, httptest.NewRequest(http.MethodGet, "/v1/checkpoints/v1/g2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got crawler.CheckpointRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, crawler.StatusFailed, got.Status)
	require.Equal(t, "pagination exhausted", got.LastError)

	rec = serve(t, server, httptest.NewRequest(http.MethodGet, "/v1/checkpoints/v1/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StoreErrorIsInternal(t *testing.T) {
	t.Parallel()

	server := NewServer(failingStore{}, nil, nil, Config{}, zap.NewNop())
	rec := serve(t, server, httptest.NewRequest(http.MethodGet, "/v1/checkpoints", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.AddRecords(37)
	server := NewServer(memory.NewCheckpointStore(nil), m, nil, Config{}, zap.NewNop())

	serve(t, server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := serve(t, server, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "records_written_total 37")
	require.Contains(t, rec.Body.String(), `route="/healthz"`)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewCheckpointStore(nil), nil, nil, Config{APIKey: "secret"}, zap.NewNop())

	rec := serve(t, server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = serve(t, server, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, httptest.NewRequest(http.MethodGet, "/healthz?api_key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = serve(t, newTestServer(t), req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- newTestServer(t).ListenAndServe(ctx, "127.0.0.1:0")
	}()
	cancel()
	require.NoError(t, <-done)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(memory.NewCheckpointStore(nil), nil, nil, Config{}, zap.NewNop())
}

func serve(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func seededStore(t *testing.T) *memory.CheckpointStore {
	t.Helper()
	ctx := context.Background()
	store := memory.NewCheckpointStore(nil)

	done := crawler.UnitKey{VehicleID: "v1", GroupID: "g1"}
	failed := crawler.UnitKey{VehicleID: "v1", GroupID: "g2"}
	pending := crawler.UnitKey{VehicleID: "v2", GroupID: "g3"}
	for _, key := range []crawler.UnitKey{done, failed, pending} {
		require.NoError(t, store.Register(ctx, key))
	}

	claimed, err := store.Claim(ctx, done)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, store.Complete(ctx, done, 37))

	claimed, err = store.Claim(ctx, failed)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, store.Fail(ctx, failed, "pagination exhausted"))
	return store
}

type failingStore struct {
	crawler.CheckpointStore
}

func (failingStore) List(context.Context, crawler.Status) ([]crawler.CheckpointRecord, error) {
	return nil, errors.New("connection reset")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}
