package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/custodian/internal/tasks"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	types []string
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.types = append(f.types, task.Type())
	return &asynq.TaskInfo{ID: "id", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.types...)
}

func TestDefaultJobs(t *testing.T) {
	jobs := DefaultJobs(time.Hour, 5*time.Minute, 0)
	require.Len(t, jobs, 2)
	assert.Equal(t, tasks.TypeRpcReactivate, jobs[0].Name)
	assert.Equal(t, tasks.TypeRpcHealthCheck, jobs[1].Name)

	jobs = DefaultJobs(time.Hour, 5*time.Minute, 24*time.Hour)
	require.Len(t, jobs, 3)
	assert.Equal(t, tasks.TypeVaultBackup, jobs[2].Name)
}

func TestEnqueue(t *testing.T) {
	client := &fakeEnqueuer{}
	s := NewSchedulerService(client, logrus.New())
	for _, job := range DefaultJobs(time.Hour, time.Minute, time.Hour) {
		s.enqueue(job)
	}
	assert.Equal(t, []string{tasks.TypeRpcReactivate, tasks.TypeRpcHealthCheck, tasks.TypeVaultBackup}, client.seen())
}

func TestEnqueueToleratesDuplicates(t *testing.T) {
	client := &fakeEnqueuer{err: asynq.ErrDuplicateTask}
	s := NewSchedulerService(client, logrus.New())
	s.enqueue(DefaultJobs(time.Hour, time.Minute, 0)[0])
	assert.Empty(t, client.seen())

	client.err = errors.New("redis down")
	s.enqueue(DefaultJobs(time.Hour, time.Minute, 0)[0])
	assert.Empty(t, client.seen())
}

func TestStartRunsJobs(t *testing.T) {
	client := &fakeEnqueuer{}
	s := NewSchedulerService(client, logrus.New(), Job{
		Name:     tasks.TypeRpcReactivate,
		Interval: time.Second,
		NewTask:  tasks.NewRpcReactivate,
	}, Job{
		Name:     tasks.TypeVaultBackup,
		Interval: 0,
		NewTask:  tasks.NewVaultBackup,
	})
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return len(client.seen()) > 0
	}, 5*time.Second, 50*time.Millisecond)
	for _, typ := range client.seen() {
		assert.Equal(t, tasks.TypeRpcReactivate, typ)
	}
}
