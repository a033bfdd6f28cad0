// Package broadcast implements the outbound mass-send path: a bounded queue
// dispatching one message at a time at a fixed rate, with per-job progress
// tracking.
package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/94cram/botcore/internal/metrics"
)

// Sender is the message-send primitive the dispatcher drives. It is expected
// to carry its own timeout; the dispatcher never retries a failed send.
type Sender interface {
	Send(ctx context.Context, recipient int64, payload string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, recipient int64, payload string) error

func (f SenderFunc) Send(ctx context.Context, recipient int64, payload string) error {
	return f(ctx, recipient, payload)
}

var (
	ErrQueueClosed  = errors.New("broadcast queue closed")
	ErrQueueFull    = errors.New("broadcast queue full")
	ErrNoRecipients = errors.New("broadcast has no recipients")
)

// JobStatus is the lifecycle state of one broadcast job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	// JobFailed is reserved: individual recipient failures are counted in
	// Progress but never abort the batch, so no job currently ends here.
	JobFailed JobStatus = "failed"
)

// Progress counts recipient outcomes. The job is terminal once
// Succeeded+Failed == Total.
type Progress struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Job is one broadcast batch. Jobs stay queryable after completion until
// swept.
type Job struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Progress    Progress  `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Config 广播调度配置
type Config struct {
	// TargetRate 每秒发送上限，决定固定派发间隔 1000/TargetRate 毫秒
	TargetRate float64 `yaml:"target_rate" json:"target_rate"`

	// QueueSize 待发送任务的缓冲上限
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// SendTimeout 单次发送超时
	SendTimeout time.Duration `yaml:"send_timeout" json:"send_timeout"`
}

// DefaultConfig returns the production tuning: 25 sends/second.
func DefaultConfig() Config {
	return Config{
		TargetRate:  25,
		QueueSize:   10000,
		SendTimeout: 10 * time.Second,
	}
}

type task struct {
	jobID     string
	recipient int64
	payload   string
}

// Queue schedules broadcast sends. A single dispatcher goroutine pulls tasks
// off a bounded buffer and paces them with a token bucket of burst one, so
// the fixed interval is the only throttle.
type Queue struct {
	sender  Sender
	config  Config
	limiter *rate.Limiter

	mu     sync.Mutex
	jobs   map[string]*Job
	closed bool

	pending chan task
	cancel  context.CancelFunc
	done    chan struct{}

	logger *zap.Logger
	mc     *metrics.Collector
}

// NewQueue creates the dispatcher and starts its worker goroutine.
func NewQueue(sender Sender, config Config, logger *zap.Logger, mc *metrics.Collector) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TargetRate <= 0 {
		config = DefaultConfig()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultConfig().SendTimeout
	}

	interval := time.Duration(float64(time.Second) / config.TargetRate)
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		sender:  sender,
		config:  config,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		jobs:    make(map[string]*Job),
		pending: make(chan task, config.QueueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger.With(zap.String("component", "broadcast")),
		mc:      mc,
	}
	go q.dispatch(ctx)
	return q
}

// Enqueue registers a broadcast job and schedules one send per recipient.
// Returns the job ID for polling.
func (q *Queue) Enqueue(recipients []int64, payload string) (string, error) {
	if len(recipients) == 0 {
		return "", ErrNoRecipients
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	if len(recipients) > cap(q.pending)-len(q.pending) {
		q.mu.Unlock()
		return "", ErrQueueFull
	}

	job := &Job{
		ID:        uuid.NewString(),
		Status:    JobPending,
		Progress:  Progress{Total: len(recipients)},
		CreatedAt: time.Now(),
	}
	q.jobs[job.ID] = job

	// 入队受上面的容量检查保护，不会阻塞
	for _, r := range recipients {
		q.pending <- task{jobID: job.ID, recipient: r, payload: payload}
	}
	q.mu.Unlock()

	q.mc.RecordBroadcastJob()
	q.logger.Info("broadcast enqueued",
		zap.String("job_id", job.ID), zap.Int("recipients", len(recipients)))
	return job.ID, nil
}

// Job returns a snapshot of one job, or nil when unknown.
func (q *Queue) Job(id string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

// Jobs returns snapshots of all known jobs, newest first.
func (q *Queue) Jobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Sweep drops completed jobs finished before olderThan ago and reports how
// many were removed.
func (q *Queue) Sweep(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, job := range q.jobs {
		if job.Status == JobCompleted && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		q.logger.Info("completed jobs swept", zap.Int("removed", removed))
	}
	return removed
}

// Close stops accepting work and shuts down the dispatcher. Pending tasks
// are abandoned; their jobs stay queryable with partial progress.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	<-q.done
}

func (q *Queue) dispatch(ctx context.Context) {
	defer close(q.done)
	for {
		var t task
		select {
		case <-ctx.Done():
			return
		case t = <-q.pending:
		}

		// 固定间隔是唯一的节流手段：burst 1，串行发送
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}

		q.markRunning(t.jobID)

		sendCtx, cancel := context.WithTimeout(ctx, q.config.SendTimeout)
		err := q.sender.Send(sendCtx, t.recipient, t.payload)
		cancel()

		if err != nil {
			q.logger.Warn("broadcast send failed",
				zap.String("job_id", t.jobID),
				zap.Int64("recipient", t.recipient),
				zap.Error(err))
		}
		q.mc.RecordBroadcastSend(err == nil)
		q.recordOutcome(t.jobID, err == nil)
	}
}

func (q *Queue) markRunning(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[jobID]; ok && job.Status == JobPending {
		job.Status = JobRunning
	}
}

func (q *Queue) recordOutcome(jobID string, succeeded bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return
	}
	if succeeded {
		job.Progress.Succeeded++
	} else {
		job.Progress.Failed++
	}
	if job.Progress.Succeeded+job.Progress.Failed == job.Progress.Total {
		job.Status = JobCompleted
		job.CompletedAt = time.Now()
		q.logger.Info("broadcast completed",
			zap.String("job_id", jobID),
			zap.Int("succeeded", job.Progress.Succeeded),
			zap.Int("failed", job.Progress.Failed))
	}
}
