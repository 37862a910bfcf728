package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientEnqueuesReleaseNotification(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.ReleaseStatusChanged(context.Background(), sampleEvent()))

	pending, err := mr.List("asynq:{" + QueueDefault + "}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestClientReportsEnqueueFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	err = client.ReleaseStatusChanged(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), TaskReleaseStatusChanged)
}

func TestNewWorkerRequiresRedis(t *testing.T) {
	_, err := NewWorker(WorkerConfig{})
	require.Error(t, err)
	_, err = NewClient(nil)
	require.Error(t, err)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func healthRequest(t *testing.T, inspector QueueInspector) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(inspector, nil).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	return rr
}

func TestJobsHealth(t *testing.T) {
	rr := healthRequest(t, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var idle queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &idle))
	assert.Equal(t, QueueDefault, idle.Queue)

	rr = healthRequest(t, stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}})
	require.Equal(t, http.StatusOK, rr.Code)
	var busy queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &busy))
	assert.Equal(t, 3, busy.Pending)
	assert.Equal(t, 1, busy.Retry)

	rr = healthRequest(t, stubInspector{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
