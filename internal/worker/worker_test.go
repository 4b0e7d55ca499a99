package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexa-labs/ragserver/domain/rag"
	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/internal/queue"
)

// fakePipeline is safe for concurrent use; the worker goroutine calls it
// while tests read and reconfigure it
type fakePipeline struct {
	mu          sync.Mutex
	record      *rag.AnswerRecord
	err         error
	panicValue  any
	gotUserID   string
	gotFileID   string
	gotQuestion string
}

func (f *fakePipeline) set(fn func(*fakePipeline)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakePipeline) got() (question, userID, fileID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gotQuestion, f.gotUserID, f.gotFileID
}

func (f *fakePipeline) Answer(ctx context.Context, question, userID string, opts rag.Options) (*rag.AnswerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotQuestion = question
	f.gotUserID = userID
	if f.panicValue != nil {
		panic(f.panicValue)
	}
	return f.record, f.err
}

func (f *fakePipeline) AnswerForFile(ctx context.Context, question, fileID string, opts rag.Options) (*rag.AnswerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotQuestion = question
	f.gotFileID = fileID
	return f.record, f.err
}

func newTestWorker(t *testing.T, pipeline Pipeline) (*Worker, *queue.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := queue.NewClient(rdb, slog.New(slog.DiscardHandler))
	cfg := &config.Config{
		Worker: config.WorkerConfig{
			ID:                  "w-test",
			Type:                "rag",
			PollIntervalMs:      10,
			HeartbeatMs:         10,
			ShutdownGracePeriod: 2 * time.Second,
		},
	}
	w := New(q, pipeline, cfg, slog.New(slog.DiscardHandler))

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { w.Stop(context.Background()) })
	return w, q
}

func enqueue(t *testing.T, q *queue.Client, job *queue.Job) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), job)
	require.NoError(t, err)
	return id
}

func waitForTerminal(t *testing.T, q *queue.Client, jobID string) *queue.Snapshot {
	t.Helper()
	var snap *queue.Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = q.Status(context.Background(), jobID)
		if err != nil || snap == nil {
			return false
		}
		return snap.Status == queue.StatusCompleted || snap.Status == queue.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestWorkerCompletesJob(t *testing.T) {
	pipeline := &fakePipeline{
		record: &rag.AnswerRecord{
			Answer:   "grounded answer",
			Metadata: rag.AnswerMetadata{ChunksUsed: 3},
		},
	}
	_, q := newTestWorker(t, pipeline)

	jobID := enqueue(t, q, &queue.Job{
		TaskType: queue.TaskRAGQuery,
		Requires: queue.ClassRAG,
		Priority: 5,
		Payload:  queue.Payload{UserID: "u1", Question: "what is bm25?"},
	})

	snap := waitForTerminal(t, q, jobID)
	assert.Equal(t, queue.StatusCompleted, snap.Status)
	assert.Equal(t, "w-test", snap.WorkerID)

	var result rag.AnswerRecord
	require.NoError(t, json.Unmarshal(snap.Result, &result))
	assert.Equal(t, "grounded answer", result.Answer)

	question, userID, _ := pipeline.got()
	assert.Equal(t, "what is bm25?", question)
	assert.Equal(t, "u1", userID)
}

func TestWorkerDispatchesFileScopedJob(t *testing.T) {
	pipeline := &fakePipeline{record: &rag.AnswerRecord{Answer: "file answer"}}
	_, q := newTestWorker(t, pipeline)

	jobID := enqueue(t, q, &queue.Job{
		TaskType: queue.TaskRAGQueryFile,
		Requires: queue.ClassRAG,
		Priority: 5,
		Payload:  queue.Payload{UserID: "u1", Question: "q", FileID: "f1"},
	})

	snap := waitForTerminal(t, q, jobID)
	assert.Equal(t, queue.StatusCompleted, snap.Status)
	_, _, fileID := pipeline.got()
	assert.Equal(t, "f1", fileID)
}

func TestWorkerRecordsFailure(t *testing.T) {
	pipeline := &fakePipeline{err: errors.New("embedding service down")}
	_, q := newTestWorker(t, pipeline)

	jobID := enqueue(t, q, &queue.Job{
		TaskType: queue.TaskRAGQuery,
		Requires: queue.ClassRAG,
		Priority: 5,
		Payload:  queue.Payload{UserID: "u1", Question: "q"},
	})

	snap := waitForTerminal(t, q, jobID)
	assert.Equal(t, queue.StatusFailed, snap.Status)
	assert.Equal(t, "embedding service down", snap.Error)
}

func TestWorkerSurvivesPanic(t *testing.T) {
	pipeline := &fakePipeline{panicValue: "boom"}
	_, q := newTestWorker(t, pipeline)

	first := enqueue(t, q, &queue.Job{
		TaskType: queue.TaskRAGQuery,
		Requires: queue.ClassRAG,
		Priority: 5,
		Payload:  queue.Payload{UserID: "u1", Question: "q"},
	})

	snap := waitForTerminal(t, q, first)
	assert.Equal(t, queue.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "panic")

	// The loop is still alive and picks up the next job
	pipeline.set(func(f *fakePipeline) {
		f.panicValue = nil
		f.record = &rag.AnswerRecord{Answer: "recovered"}
	})

	second := enqueue(t, q, &queue.Job{
		TaskType: queue.TaskRAGQuery,
		Requires: queue.ClassRAG,
		Priority: 5,
		Payload:  queue.Payload{UserID: "u1", Question: "q2"},
	})

	snap = waitForTerminal(t, q, second)
	assert.Equal(t, queue.StatusCompleted, snap.Status)
}

func TestWorkerFailsUnknownTaskType(t *testing.T) {
	pipeline := &fakePipeline{record: &rag.AnswerRecord{}}
	_, q := newTestWorker(t, pipeline)

	jobID := enqueue(t, q, &queue.Job{
		TaskType: queue.TaskProcessFile,
		Requires: queue.ClassRAG,
		Priority: 5,
		Payload:  queue.Payload{UserID: "u1"},
	})

	snap := waitForTerminal(t, q, jobID)
	assert.Equal(t, queue.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "unsupported task type")
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	pipeline := &fakePipeline{record: &rag.AnswerRecord{}}
	w, _ := newTestWorker(t, pipeline)

	require.NoError(t, w.Stop(context.Background()))
	require.NoError(t, w.Stop(context.Background()))
}
