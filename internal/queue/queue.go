// Package queue implements the Redis-backed priority job queue shared with
// the polyglot worker fleet.
//
// Storage layout (fixed for cross-language compatibility):
//   - job:<id>           hash of execution state; payload/metadata/result JSON
//   - queue:<class>      sorted set of job IDs scored by priority
//   - running:<workerId> hash of jobId -> claim unix seconds
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cortexa-labs/ragserver/pkg/logger"
)

// ErrUnavailable is returned by every operation while Redis is down. The
// HTTP surface recovers from it with a synchronous fallback; it never
// reaches a client as an error.
var ErrUnavailable = errors.New("queue: redis unavailable")

// ErrNotOwner is returned when a worker reports on a job it does not hold.
var ErrNotOwner = errors.New("queue: job owned by another worker")

// availability is the tri-state connection health cache
type availability int32

const (
	availUnknown availability = iota
	availUp
	availDown
)

// classes are the fixed worker capability queues
var classes = []WorkerClass{ClassCPU, ClassGPU, ClassRAG, ClassAny}

// Client is the queue client used by both the API and the workers
type Client struct {
	rdb *redis.Client
	log *slog.Logger

	mu    sync.Mutex
	state availability
}

// NewClient creates a queue client over an existing Redis connection. The
// connection is probed lazily on first use, not here.
func NewClient(rdb *redis.Client, log *slog.Logger) *Client {
	return &Client{
		rdb:   rdb,
		log:   log.With(logger.Scope("queue")),
		state: availUnknown,
	}
}

func jobKey(id string) string           { return "job:" + id }
func classKey(c WorkerClass) string     { return "queue:" + string(c) }
func runningKey(workerID string) string { return "running:" + workerID }

// Healthy reports whether Redis currently answers. A successful probe flips
// the availability state to up, a failed one to down.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.ensureUp(ctx)
}

// ensureUp gates operations on the cached availability state. When not
// known to be up it probes with PING; transitions are edge-triggered.
func (c *Client) ensureUp(ctx context.Context) bool {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == availUp {
		return true
	}

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.transition(availDown, err)
		return false
	}
	c.transition(availUp, nil)
	return true
}

func (c *Client) transition(to availability, cause error) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}
	switch to {
	case availUp:
		c.log.Info("redis connection up")
	case availDown:
		c.log.Warn("redis connection down", logger.Error(cause))
	}
}

// fail marks the connection down and wraps the error as unavailable
func (c *Client) fail(op string, err error) error {
	c.transition(availDown, err)
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// Enqueue stores the job hash and pushes the ID onto the job's class queue.
// A numerically larger priority is claimed first. Returns the job ID.
func (c *Client) Enqueue(ctx context.Context, job *Job) (string, error) {
	if !c.ensureUp(ctx) {
		return "", ErrUnavailable
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Requires == "" {
		job.Requires = ClassAny
	}
	if job.Metadata.CreatedAt == "" {
		job.Metadata.CreatedAt = timestamp(time.Now())
	}

	envelope, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("enqueue: marshal job: %w", err)
	}
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return "", fmt.Errorf("enqueue: marshal metadata: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), map[string]any{
		"payload":          string(envelope),
		"metadata":         string(metadata),
		"status":           string(StatusQueued),
		"created_at":       job.Metadata.CreatedAt,
		"progress":         0,
		"chunks_processed": 0,
	})
	// Score is the raw priority, popped with ZPOPMAX. Enqueuers in other
	// languages that negate the priority (score=-priority, ZPOPMIN) would
	// silently interleave wrong with this client; everyone on a shared
	// Redis must use the same sign convention.
	pipe.ZAdd(ctx, classKey(job.Requires), redis.Z{
		Score:  float64(job.Priority),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", c.fail("enqueue", err)
	}

	jobsEnqueued.WithLabelValues(string(job.Requires)).Inc()
	c.log.Debug("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("task_type", string(job.TaskType)),
		slog.Int("priority", job.Priority),
	)
	return job.ID, nil
}

// Claim pops the highest-priority job from the worker's native queue, then
// from queue:any, and records ownership. Returns nil when both queues are
// empty.
//
// The pop and the ownership write are not one transaction: a crash between
// them leaks the job until operator tooling reconstructs it from
// running:<workerId> (see ReconstructOrphans).
func (c *Client) Claim(ctx context.Context, workerType WorkerClass, workerID string) (*Job, error) {
	if !c.ensureUp(ctx) {
		return nil, ErrUnavailable
	}

	probes := []WorkerClass{workerType}
	if workerType != ClassAny {
		probes = append(probes, ClassAny)
	}

	for _, class := range probes {
		popped, err := c.rdb.ZPopMax(ctx, classKey(class), 1).Result()
		if err != nil {
			return nil, c.fail("claim", err)
		}
		if len(popped) == 0 {
			continue
		}

		id, _ := popped[0].Member.(string)
		envelope, err := c.rdb.HGet(ctx, jobKey(id), "payload").Result()
		if err == redis.Nil || envelope == "" {
			// Cancelled or expired out from under the queue entry
			c.log.Warn("claimed job has no payload, skipping", slog.String("job_id", id))
			continue
		}
		if err != nil {
			return nil, c.fail("claim", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(envelope), &job); err != nil {
			return nil, fmt.Errorf("claim: malformed job %s: %w", id, err)
		}

		now := time.Now()
		pipe := c.rdb.TxPipeline()
		pipe.HSet(ctx, jobKey(id), map[string]any{
			"status":         string(StatusRunning),
			"started_at":     timestamp(now),
			"worker_id":      workerID,
			"last_heartbeat": timestamp(now),
		})
		pipe.HSet(ctx, runningKey(workerID), id, now.Unix())
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, c.fail("claim", err)
		}

		return &job, nil
	}

	return nil, nil
}

// Heartbeat refreshes last_heartbeat for a running job
func (c *Client) Heartbeat(ctx context.Context, jobID, workerID string) error {
	if !c.ensureUp(ctx) {
		return ErrUnavailable
	}
	if err := c.rdb.HSet(ctx, jobKey(jobID), "last_heartbeat", timestamp(time.Now())).Err(); err != nil {
		return c.fail("heartbeat", err)
	}
	return nil
}

// UpdateProgress writes progress and chunks_processed. Progress never moves
// backwards while a job is running.
func (c *Client) UpdateProgress(ctx context.Context, jobID string, progress, chunksProcessed int) error {
	if !c.ensureUp(ctx) {
		return ErrUnavailable
	}

	current, err := c.rdb.HGet(ctx, jobKey(jobID), "progress").Result()
	if err != nil && err != redis.Nil {
		return c.fail("update progress", err)
	}
	if cur, convErr := strconv.Atoi(current); convErr == nil && progress < cur {
		progress = cur
	}

	if err := c.rdb.HSet(ctx, jobKey(jobID), map[string]any{
		"progress":         progress,
		"chunks_processed": chunksProcessed,
	}).Err(); err != nil {
		return c.fail("update progress", err)
	}
	return nil
}

// Complete records the result, marks the job completed, and releases
// ownership
func (c *Client) Complete(ctx context.Context, jobID, workerID string, result any) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("complete: marshal result: %w", err)
	}
	if err := c.finish(ctx, jobID, workerID, map[string]any{
		"status":       string(StatusCompleted),
		"completed_at": timestamp(time.Now()),
		"result":       string(encoded),
	}); err != nil {
		return err
	}
	jobsCompleted.Inc()
	return nil
}

// Fail records the error, marks the job failed, and releases ownership
func (c *Client) Fail(ctx context.Context, jobID, workerID, errMsg string) error {
	if err := c.finish(ctx, jobID, workerID, map[string]any{
		"status":    string(StatusFailed),
		"failed_at": timestamp(time.Now()),
		"error":     truncateError(errMsg),
	}); err != nil {
		return err
	}
	jobsFailed.Inc()
	return nil
}

// finish applies a terminal update after verifying ownership
func (c *Client) finish(ctx context.Context, jobID, workerID string, fields map[string]any) error {
	if !c.ensureUp(ctx) {
		return ErrUnavailable
	}

	owner, err := c.rdb.HGet(ctx, jobKey(jobID), "worker_id").Result()
	if err == redis.Nil {
		return fmt.Errorf("finish %s: job not found", jobID)
	}
	if err != nil {
		return c.fail("finish", err)
	}
	if owner != workerID {
		return fmt.Errorf("%w: job %s held by %s", ErrNotOwner, jobID, owner)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), fields)
	pipe.HDel(ctx, runningKey(workerID), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return c.fail("finish", err)
	}
	return nil
}

// Status returns the job's execution snapshot, or nil when unknown
func (c *Client) Status(ctx context.Context, jobID string) (*Snapshot, error) {
	if !c.ensureUp(ctx) {
		return nil, ErrUnavailable
	}

	data, err := c.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, c.fail("status", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	snap := &Snapshot{
		JobID:         jobID,
		Status:        Status(data["status"]),
		CreatedAt:     data["created_at"],
		StartedAt:     data["started_at"],
		CompletedAt:   data["completed_at"],
		FailedAt:      data["failed_at"],
		LastHeartbeat: data["last_heartbeat"],
		WorkerID:      data["worker_id"],
		Error:         data["error"],
	}
	snap.Progress, _ = strconv.Atoi(data["progress"])
	snap.ChunksProcessed, _ = strconv.Atoi(data["chunks_processed"])
	if raw := data["result"]; raw != "" {
		snap.Result = json.RawMessage(raw)
	}
	return snap, nil
}

// Stats returns the depth of every class queue
func (c *Client) Stats(ctx context.Context) (map[string]int64, error) {
	if !c.ensureUp(ctx) {
		return nil, ErrUnavailable
	}

	depths := make(map[string]int64, len(classes))
	for _, class := range classes {
		n, err := c.rdb.ZCard(ctx, classKey(class)).Result()
		if err != nil {
			return nil, c.fail("stats", err)
		}
		depths[string(class)] = n
	}
	return depths, nil
}

// ReconstructOrphans lists jobs recorded in running:* hashes whose
// last_heartbeat is older than staleAfter (or whose hash is gone entirely).
// The core never reclaims them; this feeds external reaper tooling.
func (c *Client) ReconstructOrphans(ctx context.Context, staleAfter time.Duration) ([]OrphanJob, error) {
	if !c.ensureUp(ctx) {
		return nil, ErrUnavailable
	}

	var orphans []OrphanJob
	cutoff := time.Now().Add(-staleAfter)

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, "running:*", 100).Result()
		if err != nil {
			return nil, c.fail("reconstruct orphans", err)
		}

		for _, key := range keys {
			workerID := key[len("running:"):]
			held, err := c.rdb.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, c.fail("reconstruct orphans", err)
			}

			for jobID, startedAt := range held {
				heartbeat, err := c.rdb.HGet(ctx, jobKey(jobID), "last_heartbeat").Result()
				if err != nil && err != redis.Nil {
					return nil, c.fail("reconstruct orphans", err)
				}

				stale := err == redis.Nil || heartbeat == ""
				if !stale {
					if ts, parseErr := time.Parse(time.RFC3339, heartbeat); parseErr == nil {
						stale = ts.Before(cutoff)
					}
				}
				if !stale {
					continue
				}

				started, _ := strconv.ParseInt(startedAt, 10, 64)
				orphans = append(orphans, OrphanJob{
					JobID:         jobID,
					WorkerID:      workerID,
					StartedAt:     started,
					LastHeartbeat: heartbeat,
				})
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return orphans, nil
}

// truncateError bounds stored error messages to 500 characters
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
