package queue

import (
	"encoding/json"
	"time"
)

// TaskType identifies the kind of work a job carries
type TaskType string

const (
	TaskRAGQuery     TaskType = "RAG_QUERY"
	TaskRAGQueryFile TaskType = "RAG_QUERY_FILE"
	TaskProcessFile  TaskType = "PROCESS_FILE"
)

// WorkerClass routes a job to a worker capability queue
type WorkerClass string

const (
	ClassCPU WorkerClass = "cpu"
	ClassGPU WorkerClass = "gpu"
	ClassRAG WorkerClass = "rag"
	ClassAny WorkerClass = "any"
)

// Status is the job lifecycle state. The only legal transitions are
// queued -> running -> (completed | failed).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payload is the task-specific job input. Field names are camelCase to
// match the HTTP surface; the envelope around it is snake_case.
type Payload struct {
	UserID     string  `json:"userId"`
	Question   string  `json:"question"`
	TopK       int     `json:"topK,omitempty"`
	MinScore   float64 `json:"minScore,omitempty"`
	SearchMode string  `json:"searchMode,omitempty"`
	FileID     string  `json:"fileId,omitempty"`
}

// Metadata records where and when a job was created
type Metadata struct {
	Source    string `json:"source"`
	CreatedAt string `json:"created_at"`
}

// Job is the queue envelope. The JSON schema is shared across polyglot
// workers; field names are fixed.
type Job struct {
	ID        string      `json:"job_id"`
	TaskType  TaskType    `json:"task_type"`
	Requires  WorkerClass `json:"requires"`
	Priority  int         `json:"priority"`
	Payload   Payload     `json:"payload"`
	TimeoutMs int         `json:"timeout_ms"`
	Metadata  Metadata    `json:"metadata"`
}

// Snapshot is the externally visible execution state of a job, assembled
// from the job:<id> hash
type Snapshot struct {
	JobID           string          `json:"jobId"`
	Status          Status          `json:"status"`
	Progress        int             `json:"progress"`
	ChunksProcessed int             `json:"chunksProcessed"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	StartedAt       string          `json:"startedAt,omitempty"`
	CompletedAt     string          `json:"completedAt,omitempty"`
	FailedAt        string          `json:"failedAt,omitempty"`
	LastHeartbeat   string          `json:"lastHeartbeat,omitempty"`
	WorkerID        string          `json:"workerId,omitempty"`
	Error           string          `json:"error,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
}

// OrphanJob is a job reconstructed from a running:<workerId> hash whose
// heartbeat went stale. Recovery itself is operator tooling, not the core.
type OrphanJob struct {
	JobID         string `json:"jobId"`
	WorkerID      string `json:"workerId"`
	StartedAt     int64  `json:"startedAt"`
	LastHeartbeat string `json:"lastHeartbeat,omitempty"`
}

// timestamp formats t the way every job hash field stores time
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
