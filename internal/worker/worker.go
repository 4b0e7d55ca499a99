// Package worker runs the long-lived claim loop that executes queued
// retrieval jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexa-labs/ragserver/domain/rag"
	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/internal/queue"
	"github.com/cortexa-labs/ragserver/pkg/logger"
)

// Pipeline is the job execution surface the worker dispatches to
type Pipeline interface {
	Answer(ctx context.Context, question, userID string, opts rag.Options) (*rag.AnswerRecord, error)
	AnswerForFile(ctx context.Context, question, fileID string, opts rag.Options) (*rag.AnswerRecord, error)
}

// Worker claims jobs from its class queue, heartbeats while processing, and
// records results back to the queue. Errors and panics are caught at the
// loop boundary; the worker itself keeps running.
type Worker struct {
	queue    *queue.Client
	pipeline Pipeline
	log      *slog.Logger

	id                string
	class             queue.WorkerClass
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	grace             time.Duration

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(q *queue.Client, pipeline Pipeline, cfg *config.Config, log *slog.Logger) *Worker {
	id := cfg.Worker.ID
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	return &Worker{
		queue:             q,
		pipeline:          pipeline,
		log:               log.With(logger.Scope("worker"), slog.String("worker_id", id)),
		id:                id,
		class:             queue.WorkerClass(cfg.Worker.Type),
		pollInterval:      cfg.Worker.PollInterval(),
		heartbeatInterval: cfg.Worker.HeartbeatInterval(),
		grace:             cfg.Worker.ShutdownGracePeriod,
	}
}

// ID returns the worker's queue identity
func (w *Worker) ID() string {
	return w.id
}

// Start launches the claim loop
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})

	w.log.Info("worker starting",
		slog.String("class", string(w.class)),
		slog.Duration("poll_interval", w.pollInterval))

	go w.run()
	return nil
}

// Stop signals the loop and waits up to the grace period for the in-flight
// job to finish
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	select {
	case <-w.stoppedCh:
		w.log.Info("worker stopped gracefully")
		return nil
	case <-time.After(w.grace):
		w.log.Warn("worker shutdown grace period expired, abandoning in-flight job")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run() {
	defer close(w.stoppedCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		job, err := w.queue.Claim(context.Background(), w.class, w.id)
		if err != nil {
			w.log.Warn("claim failed", logger.Error(err))
			w.sleep()
			continue
		}
		if job == nil {
			w.sleep()
			continue
		}

		w.process(job)
	}
}

func (w *Worker) sleep() {
	select {
	case <-time.After(w.pollInterval):
	case <-w.stopCh:
	}
}

// process runs one claimed job to a terminal state. A panic in the pipeline
// is recorded as a job failure, not a worker crash.
func (w *Worker) process(job *queue.Job) {
	ctx := context.Background()
	log := w.log.With(slog.String("job_id", job.ID), slog.String("task_type", string(job.TaskType)))
	log.Info("processing job")

	stopHeartbeat := w.startHeartbeat(job.ID)
	defer stopHeartbeat()

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", slog.Any("panic", r))
			if err := w.queue.Fail(ctx, job.ID, w.id, fmt.Sprintf("panic: %v", r)); err != nil {
				log.Error("recording panic failure", logger.Error(err))
			}
		}
	}()

	if err := w.queue.UpdateProgress(ctx, job.ID, 10, 0); err != nil {
		log.Warn("updating progress", logger.Error(err))
	}

	record, err := w.dispatch(ctx, job)
	if err != nil {
		log.Warn("job failed", logger.Error(err))
		if failErr := w.queue.Fail(ctx, job.ID, w.id, err.Error()); failErr != nil {
			log.Error("recording failure", logger.Error(failErr))
		}
		return
	}

	if err := w.queue.UpdateProgress(ctx, job.ID, 90, record.Metadata.ChunksUsed); err != nil {
		log.Warn("updating progress", logger.Error(err))
	}

	if err := w.queue.Complete(ctx, job.ID, w.id, record); err != nil {
		log.Error("recording completion", logger.Error(err))
		return
	}
	log.Info("job completed", slog.Int("chunks_used", record.Metadata.ChunksUsed))
}

func (w *Worker) dispatch(ctx context.Context, job *queue.Job) (*rag.AnswerRecord, error) {
	opts := rag.Options{
		SearchMode: rag.SearchMode(job.Payload.SearchMode),
		TopK:       job.Payload.TopK,
		MinScore:   job.Payload.MinScore,
	}

	switch job.TaskType {
	case queue.TaskRAGQuery:
		return w.pipeline.Answer(ctx, job.Payload.Question, job.Payload.UserID, opts)
	case queue.TaskRAGQueryFile:
		return w.pipeline.AnswerForFile(ctx, job.Payload.Question, job.Payload.FileID, opts)
	default:
		return nil, fmt.Errorf("unsupported task type %q", job.TaskType)
	}
}

// startHeartbeat refreshes last_heartbeat on a fixed cadence until the
// returned stop function is called
func (w *Worker) startHeartbeat(jobID string) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := w.queue.Heartbeat(context.Background(), jobID, w.id); err != nil {
					w.log.Warn("heartbeat failed", slog.String("job_id", jobID), logger.Error(err))
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
