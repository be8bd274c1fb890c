package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/custodian/internal/tasks"
	"github.com/vultisig/custodian/internal/types"
)

type fakeChecker struct {
	failing map[string]bool
	calls   []string
}

func (p *fakeChecker) Check(_ context.Context, url string) error {
	p.calls = append(p.calls, url)
	if p.failing[url] {
		return errors.New("dial tcp: connection refused")
	}
	return nil
}

func newTestWorker(t *testing.T, checker *fakeChecker) (*WorkerService, *EndpointService) {
	t.Helper()
	endpoints, _ := newTestEndpoints(t, nil, 1)
	w := NewWorker(endpoints, nil, nil, time.Second, quietLogger())
	w.checkerFor = func(ecosystem string) (HealthChecker, error) {
		if ecosystem == "bitcoin" {
			return nil, errors.New("unsupported chain")
		}
		return checker, nil
	}
	return w, endpoints
}

func TestHandleHealthCheck(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{failing: map[string]bool{"https://bad.example.com": true}}
	w, endpoints := newTestWorker(t, checker)
	addEndpoint(t, endpoints, "ethereum", "https://good.example.com", 0)
	addEndpoint(t, endpoints, "ethereum", "https://bad.example.com", 0)
	addEndpoint(t, endpoints, "solana", "https://sol.example.com", 0)

	task, err := tasks.NewRpcHealthCheck("ethereum")
	require.NoError(t, err)
	require.NoError(t, w.HandleHealthCheck(ctx, task))
	assert.ElementsMatch(t, []string{"https://good.example.com", "https://bad.example.com"}, checker.calls)

	all, err := endpoints.Endpoints(ctx, "ethereum")
	require.NoError(t, err)
	for _, e := range all {
		switch e.URL {
		case "https://good.example.com":
			assert.NotNil(t, e.AvgResponseMs)
			assert.Zero(t, e.FailureCount)
		case "https://bad.example.com":
			assert.Equal(t, 1, e.FailureCount)
		}
	}
}

func TestHandleHealthCheckSkipsInactiveAndUnknown(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{}
	w, endpoints := newTestWorker(t, checker)
	endpoints.WithPolicy(1, 0)
	addEndpoint(t, endpoints, "ethereum", "https://down.example.com", 0)
	require.NoError(t, endpoints.RecordFailure(ctx, "https://down.example.com"))
	_, err := endpoints.AddEndpoint(ctx, types.AddEndpointRequest{
		ChainKey:  "bitcoin",
		Ecosystem: "bitcoin",
		URL:       "https://btc.example.com",
	})
	require.NoError(t, err)

	require.NoError(t, w.HandleHealthCheck(ctx, asynq.NewTask(tasks.TypeRpcHealthCheck, nil)))
	assert.Empty(t, checker.calls)
}

func TestHandleHealthCheckBadPayload(t *testing.T) {
	w, _ := newTestWorker(t, &fakeChecker{})
	err := w.HandleHealthCheck(context.Background(), asynq.NewTask(tasks.TypeRpcHealthCheck, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleReactivate(t *testing.T) {
	ctx := context.Background()
	w, endpoints := newTestWorker(t, &fakeChecker{})
	endpoints.WithPolicy(1, 0)
	addEndpoint(t, endpoints, "ethereum", "https://a.example.com", 0)
	require.NoError(t, endpoints.RecordFailure(ctx, "https://a.example.com"))
	endpoints.now = func() time.Time { return time.Now().Add(DefaultStaleAfter + time.Hour) }

	task, err := tasks.NewRpcReactivate()
	require.NoError(t, err)
	require.NoError(t, w.HandleReactivate(ctx, task))

	url, err := endpoints.SelectEndpoint(ctx, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.com", url)
}

func TestHandleBackupWithoutStorage(t *testing.T) {
	w, _ := newTestWorker(t, &fakeChecker{})
	task, err := tasks.NewVaultBackup()
	require.NoError(t, err)
	assert.ErrorIs(t, w.HandleBackup(context.Background(), task), asynq.SkipRetry)
}

func TestHandleBackup(t *testing.T) {
	e := newTestEngine(t)
	blobs := newFakeBlobs()
	endpoints, _ := newTestEndpoints(t, nil, 1)
	w := NewWorker(endpoints, NewBackupService(e.store, blobs, quietLogger()), nil, 0, quietLogger())

	task, err := tasks.NewVaultBackup()
	require.NoError(t, err)
	require.NoError(t, w.HandleBackup(context.Background(), task))
	assert.Len(t, blobs.files, 1)
}

func TestHandlersRespectCancellation(t *testing.T) {
	w, _ := newTestWorker(t, &fakeChecker{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, w.HandleReactivate(ctx, asynq.NewTask(tasks.TypeRpcReactivate, nil)))
	assert.Error(t, w.HandleHealthCheck(ctx, asynq.NewTask(tasks.TypeRpcHealthCheck, nil)))
}
