// Package scheduler enqueues the periodic maintenance tasks handled by the worker.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/custodian/internal/tasks"
)

// Enqueuer is the part of *asynq.Client the scheduler uses.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Job is one periodic task. Unique keeps a second copy from being queued while one is pending.
type Job struct {
	Name     string
	Interval time.Duration
	Unique   time.Duration
	NewTask  func() (*asynq.Task, error)
}

type SchedulerService struct {
	client Enqueuer
	logger *logrus.Entry
	cron   *cron.Cron
	jobs   []Job
}

func NewSchedulerService(client Enqueuer, logger *logrus.Logger, jobs ...Job) *SchedulerService {
	return &SchedulerService{
		client: client,
		logger: logger.WithField("service", "scheduler"),
		cron:   cron.New(),
		jobs:   jobs,
	}
}

// DefaultJobs returns the reactivation sweep, the endpoint health check and, when backupInterval is
// positive, the vault backup.
func DefaultJobs(sweepInterval, checkInterval, backupInterval time.Duration) []Job {
	jobs := []Job{
		{Name: tasks.TypeRpcReactivate, Interval: sweepInterval, Unique: sweepInterval, NewTask: tasks.NewRpcReactivate},
		{Name: tasks.TypeRpcHealthCheck, Interval: checkInterval, Unique: checkInterval, NewTask: func() (*asynq.Task, error) {
			return tasks.NewRpcHealthCheck("")
		}},
	}
	if backupInterval > 0 {
		jobs = append(jobs, Job{Name: tasks.TypeVaultBackup, Interval: backupInterval, Unique: backupInterval, NewTask: tasks.NewVaultBackup})
	}
	return jobs
}

func (s *SchedulerService) Start() error {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.WithField("job", job.Name).Info("job disabled")
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", job.Interval), func() { s.enqueue(job) }); err != nil {
			return fmt.Errorf("fail to schedule %s, err: %w", job.Name, err)
		}
		s.logger.WithFields(logrus.Fields{
			"job":      job.Name,
			"interval": job.Interval,
		}).Info("job scheduled")
	}
	s.cron.Start()
	return nil
}

// Stop waits for running enqueue calls to finish.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
}

func (s *SchedulerService) enqueue(job Job) {
	task, err := job.NewTask()
	if err != nil {
		s.logger.WithError(err).WithField("job", job.Name).Error("fail to build task")
		return
	}
	opts := []asynq.Option{
		asynq.Queue(tasks.QUEUE_NAME),
		asynq.MaxRetry(3),
		asynq.Timeout(5 * time.Minute),
	}
	if job.Unique > 0 {
		opts = append(opts, asynq.Unique(job.Unique))
	}
	info, err := s.client.Enqueue(task, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		s.logger.WithField("job", job.Name).Debug("task already queued")
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("job", job.Name).Error("fail to enqueue task")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"job":     job.Name,
		"task_id": info.ID,
	}).Debug("task enqueued")
}
