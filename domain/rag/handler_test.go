package rag

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/internal/queue"
	"github.com/cortexa-labs/ragserver/internal/vectorstore"
	"github.com/cortexa-labs/ragserver/pkg/apperror"
	"github.com/cortexa-labs/ragserver/pkg/auth"
)

type fakeFileCatalog struct {
	owns      bool
	ownsErr   error
	fileCount int64
	countErr  error
	gotFileID string
	gotUserID string
}

func (f *fakeFileCatalog) OwnsFile(_ context.Context, fileID, userID string) (bool, error) {
	f.gotFileID = fileID
	f.gotUserID = userID
	return f.owns, f.ownsErr
}

func (f *fakeFileCatalog) FileCount(_ context.Context, userID string) (int64, error) {
	return f.fileCount, f.countErr
}

type fakeVectorStats struct {
	info *vectorstore.CollectionInfo
	err  error
}

func (f *fakeVectorStats) Info(_ context.Context) (*vectorstore.CollectionInfo, error) {
	return f.info, f.err
}

type handlerFixture struct {
	handler  *Handler
	pipeline *pipelineFixture
	catalog  *fakeFileCatalog
	stats    *fakeVectorStats
	mr       *miniredis.Miniredis
	queue    *queue.Client
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	pipeline := newFixture()
	catalog := &fakeFileCatalog{owns: true, fileCount: 2}
	stats := &fakeVectorStats{info: &vectorstore.CollectionInfo{
		Name:        "document_chunks",
		PointsCount: 1234,
		Dimension:   1024,
	}}
	q := queue.NewClient(rdb, slog.New(slog.DiscardHandler))
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			TopK:             5,
			MinScore:         0.3,
			MaxContextLength: 4000,
			CorpusRefresh:    5 * time.Minute,
			JobTimeoutMs:     120000,
		},
	}

	return &handlerFixture{
		handler:  newHandler(pipeline.svc, q, catalog, stats, cfg),
		pipeline: pipeline,
		catalog:  catalog,
		stats:    stats,
		mr:       mr,
		queue:    q,
	}
}

func doRequest(t *testing.T, handler echo.HandlerFunc, method, target, body, userID string, pathParams map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(slog.New(slog.DiscardHandler))

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for name, value := range pathParams {
		c.SetParamNames(name)
		c.SetParamValues(value)
	}
	if userID != "" {
		auth.SetUserID(c, userID)
	}

	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestAskEnqueues(t *testing.T) {
	f := newHandlerFixture(t)

	rec := doRequest(t, f.handler.Ask, http.MethodPost, "/api/rag/ask",
		`{"question":"what is rrf?"}`, "u1", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "/api/rag/status/"+resp.JobID, resp.StatusURL)

	// The job landed on the rag queue with the caller's identity
	claimed, err := f.queue.Claim(t.Context(), queue.ClassRAG, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, resp.JobID, claimed.ID)
	assert.Equal(t, queue.TaskRAGQuery, claimed.TaskType)
	assert.Equal(t, "u1", claimed.Payload.UserID)
	assert.Equal(t, "what is rrf?", claimed.Payload.Question)
}

func TestAskMissingQuestion(t *testing.T) {
	f := newHandlerFixture(t)

	rec := doRequest(t, f.handler.Ask, http.MethodPost, "/api/rag/ask", `{}`, "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskUnknownSearchMode(t *testing.T) {
	f := newHandlerFixture(t)

	rec := doRequest(t, f.handler.Ask, http.MethodPost, "/api/rag/ask",
		`{"question":"q","searchMode":"fuzzy"}`, "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskUnauthenticated(t *testing.T) {
	f := newHandlerFixture(t)

	rec := doRequest(t, f.handler.Ask, http.MethodPost, "/api/rag/ask",
		`{"question":"q"}`, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAskFallsBackWhenQueueDown(t *testing.T) {
	f := newHandlerFixture(t)
	f.pipeline.catalog.files = nil
	f.mr.Close()

	rec := doRequest(t, f.handler.Ask, http.MethodPost, "/api/rag/ask",
		`{"question":"hi"}`, "u1", nil)

	// Queue unavailability degrades to a synchronous answer, not an error
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data     AnswerRecord `json:"data"`
		Metadata syncMetadata `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Data.Answer, "You haven't uploaded"))
	assert.Equal(t, "no_files", resp.Data.Metadata.Reason)
}

func TestAskSync(t *testing.T) {
	f := newHandlerFixture(t)
	f.pipeline.vectors.points = []vectorstore.Point{point("f1", "notes.pdf", 0, 0.9)}

	rec := doRequest(t, f.handler.AskSync, http.MethodPost, "/api/rag/ask-sync",
		`{"question":"what is redis?"}`, "u1", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data AnswerRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Grounded answer [Source 1].", resp.Data.Answer)
	assert.NotZero(t, resp.Data.Metadata.ChunksRetrieved)
}

func TestAskFileEnqueues(t *testing.T) {
	f := newHandlerFixture(t)

	rec := doRequest(t, f.handler.AskFile, http.MethodPost, "/api/rag/ask-file/f1",
		`{"question":"what does this file say?"}`, "u1", map[string]string{"fileId": "f1"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "f1", f.catalog.gotFileID)
	assert.Equal(t, "u1", f.catalog.gotUserID)

	var resp EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	claimed, err := f.queue.Claim(t.Context(), queue.ClassRAG, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, resp.JobID, claimed.ID)
	assert.Equal(t, queue.TaskRAGQueryFile, claimed.TaskType)
	assert.Equal(t, "f1", claimed.Payload.FileID)
	assert.Equal(t, "u1", claimed.Payload.UserID)
}

func TestAskFileNotOwned(t *testing.T) {
	f := newHandlerFixture(t)
	f.catalog.owns = false

	rec := doRequest(t, f.handler.AskFile, http.MethodPost, "/api/rag/ask-file/f9",
		`{"question":"q"}`, "u1", map[string]string{"fileId": "f9"})

	// A file owned by someone else looks identical to a missing one
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "not_found", resp.Error)
}

func TestAskFileOwnershipCheckError(t *testing.T) {
	f := newHandlerFixture(t)
	f.catalog.ownsErr = errors.New("mongo down")

	rec := doRequest(t, f.handler.AskFile, http.MethodPost, "/api/rag/ask-file/f1",
		`{"question":"q"}`, "u1", map[string]string{"fileId": "f1"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAskFileFallsBackWhenQueueDown(t *testing.T) {
	f := newHandlerFixture(t)
	f.pipeline.vectors.points = []vectorstore.Point{point("f1", "notes.pdf", 0, 0.9)}
	f.mr.Close()

	rec := doRequest(t, f.handler.AskFile, http.MethodPost, "/api/rag/ask-file/f1",
		`{"question":"what does this file say?"}`, "u1", map[string]string{"fileId": "f1"})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data     AnswerRecord `json:"data"`
		Metadata syncMetadata `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Grounded answer [Source 1].", resp.Data.Answer)
	// The inline pipeline ran file-scoped
	assert.Equal(t, "f1", f.pipeline.vectors.gotFileID)
}

func TestStats(t *testing.T) {
	f := newHandlerFixture(t)
	f.catalog.fileCount = 3

	rec := doRequest(t, f.handler.Stats, http.MethodGet, "/api/rag/stats",
		"", "u1", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data StatsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1234), resp.Data.TotalVectors)
	assert.Equal(t, int64(3), resp.Data.UserFiles)
	assert.Equal(t, "document_chunks", resp.Data.CollectionName)
	assert.Equal(t, 1024, resp.Data.VectorSize)
}

func TestStatsVectorStoreDown(t *testing.T) {
	f := newHandlerFixture(t)
	f.stats.err = errors.New("qdrant unreachable")

	rec := doRequest(t, f.handler.Stats, http.MethodGet, "/api/rag/stats",
		"", "u1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"unavailable_vector"`)
}

func TestStatusUnknownJob(t *testing.T) {
	f := newHandlerFixture(t)

	rec := doRequest(t, f.handler.Status, http.MethodGet, "/api/rag/status/nope",
		"", "u1", map[string]string{"jobId": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusReturnsSnapshot(t *testing.T) {
	f := newHandlerFixture(t)

	jobID, err := f.queue.Enqueue(t.Context(), &queue.Job{
		TaskType: queue.TaskRAGQuery,
		Requires: queue.ClassRAG,
		Priority: 5,
		Payload:  queue.Payload{UserID: "u1", Question: "q"},
	})
	require.NoError(t, err)

	rec := doRequest(t, f.handler.Status, http.MethodGet, "/api/rag/status/"+jobID,
		"", "u1", map[string]string{"jobId": jobID})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data queue.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID, resp.Data.JobID)
	assert.Equal(t, queue.StatusQueued, resp.Data.Status)
}
