package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/internal/queue"
	"github.com/cortexa-labs/ragserver/internal/registry"
	"github.com/cortexa-labs/ragserver/internal/vectorstore"
	"github.com/cortexa-labs/ragserver/pkg/apperror"
	"github.com/cortexa-labs/ragserver/pkg/auth"
)

// fileCatalog is the slice of the registry the handlers consult
type fileCatalog interface {
	OwnsFile(ctx context.Context, fileID, userID string) (bool, error)
	FileCount(ctx context.Context, userID string) (int64, error)
}

// vectorStats reports collection-level numbers for /stats
type vectorStats interface {
	Info(ctx context.Context) (*vectorstore.CollectionInfo, error)
}

// Handler exposes the question-answering HTTP surface. Handlers stay thin:
// validate, enqueue or delegate to the pipeline, translate errors.
type Handler struct {
	svc     *Service
	queue   *queue.Client
	catalog fileCatalog
	vectors vectorStats
	cfg     *config.Config
}

func NewHandler(svc *Service, q *queue.Client, catalog *registry.Registry, vectors *vectorstore.Store, cfg *config.Config) *Handler {
	return newHandler(svc, q, catalog, vectors, cfg)
}

func newHandler(svc *Service, q *queue.Client, catalog fileCatalog, vectors vectorStats, cfg *config.Config) *Handler {
	return &Handler{svc: svc, queue: q, catalog: catalog, vectors: vectors, cfg: cfg}
}

type dataResponse struct {
	Data any `json:"data"`
}

type syncResponse struct {
	Data     any          `json:"data"`
	Metadata syncMetadata `json:"metadata"`
}

type syncMetadata struct {
	RequestID string `json:"requestId"`
	TimingMs  int64  `json:"timing"`
}

// Ask handles POST /api/rag/ask: queue the question, or answer inline when
// the queue is down
func (h *Handler) Ask(c echo.Context) error {
	req, userID, err := h.bindAsk(c)
	if err != nil {
		return err
	}

	jobID, err := h.queue.Enqueue(c.Request().Context(), h.buildJob(queue.TaskRAGQuery, userID, "", req))
	if errors.Is(err, queue.ErrUnavailable) {
		return h.answerInline(c, req, userID)
	}
	if err != nil {
		return apperror.NewInternal("enqueueing job", err)
	}

	return c.JSON(http.StatusAccepted, EnqueueResponse{
		JobID:     jobID,
		StatusURL: "/api/rag/status/" + jobID,
	})
}

// AskSync handles POST /api/rag/ask-sync: always run the pipeline in the
// request handler
func (h *Handler) AskSync(c echo.Context) error {
	req, userID, err := h.bindAsk(c)
	if err != nil {
		return err
	}

	start := time.Now()
	record, err := h.svc.Answer(c.Request().Context(), req.Question, userID, optionsFrom(req))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, syncResponse{
		Data: record,
		Metadata: syncMetadata{
			RequestID: requestID(c),
			TimingMs:  time.Since(start).Milliseconds(),
		},
	})
}

// AskFile handles POST /api/rag/ask-file/:fileId: ownership-checked,
// file-scoped question
func (h *Handler) AskFile(c echo.Context) error {
	req, userID, err := h.bindAsk(c)
	if err != nil {
		return err
	}
	fileID := c.Param("fileId")
	if fileID == "" {
		return apperror.NewInvalidInput("fileId is required")
	}

	owns, err := h.catalog.OwnsFile(c.Request().Context(), fileID, userID)
	if err != nil {
		return apperror.NewInternal("checking file ownership", err)
	}
	if !owns {
		return apperror.NewNotFound("file", fileID)
	}

	jobID, err := h.queue.Enqueue(c.Request().Context(), h.buildJob(queue.TaskRAGQueryFile, userID, fileID, req))
	if errors.Is(err, queue.ErrUnavailable) {
		start := time.Now()
		record, err := h.svc.AnswerForFile(c.Request().Context(), req.Question, fileID, optionsFrom(req))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, syncResponse{
			Data:     record,
			Metadata: syncMetadata{RequestID: requestID(c), TimingMs: time.Since(start).Milliseconds()},
		})
	}
	if err != nil {
		return apperror.NewInternal("enqueueing job", err)
	}

	return c.JSON(http.StatusAccepted, EnqueueResponse{
		JobID:     jobID,
		StatusURL: "/api/rag/status/" + jobID,
	})
}

// Status handles GET /api/rag/status/:jobId
func (h *Handler) Status(c echo.Context) error {
	jobID := c.Param("jobId")

	snap, err := h.queue.Status(c.Request().Context(), jobID)
	if errors.Is(err, queue.ErrUnavailable) {
		return apperror.ErrUnavailableQueue
	}
	if err != nil {
		return apperror.NewInternal("reading job status", err)
	}
	if snap == nil {
		return apperror.NewNotFound("job", jobID)
	}
	return c.JSON(http.StatusOK, dataResponse{Data: snap})
}

// Stats handles GET /api/rag/stats
func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserID(c)

	info, err := h.vectors.Info(ctx)
	if err != nil {
		return apperror.ErrUnavailableVector.WithInternal(err)
	}

	fileCount, err := h.catalog.FileCount(ctx, userID)
	if err != nil {
		return apperror.NewInternal("counting files", err)
	}

	stats := StatsResponse{
		TotalVectors:   info.PointsCount,
		UserFiles:      fileCount,
		CollectionName: info.Name,
		VectorSize:     info.Dimension,
	}
	// Queue depths are best-effort; a down Redis must not fail stats
	if queues, err := h.queue.Stats(ctx); err == nil {
		stats.Queues = queues
	}

	return c.JSON(http.StatusOK, dataResponse{Data: stats})
}

func (h *Handler) bindAsk(c echo.Context) (*AskRequest, string, error) {
	userID := auth.UserID(c)
	if userID == "" {
		return nil, "", apperror.ErrUnauthorized
	}

	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return nil, "", apperror.NewInvalidInput("invalid request body")
	}
	if req.Question == "" {
		return nil, "", apperror.NewInvalidInput("question is required")
	}
	if req.SearchMode != "" {
		switch SearchMode(req.SearchMode) {
		case ModeHybrid, ModeVector, ModeBM25:
		default:
			return nil, "", apperror.NewInvalidInput(fmt.Sprintf("unknown search mode %q", req.SearchMode))
		}
	}
	return &req, userID, nil
}

func (h *Handler) buildJob(taskType queue.TaskType, userID, fileID string, req *AskRequest) *queue.Job {
	return &queue.Job{
		TaskType: taskType,
		Requires: queue.ClassRAG,
		Priority: 5,
		Payload: queue.Payload{
			UserID:     userID,
			Question:   req.Question,
			TopK:       req.TopK,
			MinScore:   req.MinScore,
			SearchMode: req.SearchMode,
			FileID:     fileID,
		},
		TimeoutMs: h.cfg.Pipeline.JobTimeoutMs,
		Metadata:  queue.Metadata{Source: "rag-api"},
	}
}

func (h *Handler) answerInline(c echo.Context, req *AskRequest, userID string) error {
	start := time.Now()
	record, err := h.svc.Answer(c.Request().Context(), req.Question, userID, optionsFrom(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, syncResponse{
		Data:     record,
		Metadata: syncMetadata{RequestID: requestID(c), TimingMs: time.Since(start).Milliseconds()},
	})
}

func optionsFrom(req *AskRequest) Options {
	return Options{
		SearchMode: SearchMode(req.SearchMode),
		TopK:       req.TopK,
		MinScore:   req.MinScore,
	}
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
