package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cortexa-labs/ragserver/internal/bm25"
	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/internal/embedding"
	"github.com/cortexa-labs/ragserver/internal/llm"
	"github.com/cortexa-labs/ragserver/internal/registry"
	"github.com/cortexa-labs/ragserver/internal/vectorstore"
	"github.com/cortexa-labs/ragserver/pkg/apperror"
	"github.com/cortexa-labs/ragserver/pkg/logger"
)

// NoFilesAnswer is returned without any retrieval when the user has not
// uploaded any documents
const NoFilesAnswer = "You haven't uploaded any documents yet. Upload a document and ask your question again."

// Embedder turns query text into a dense vector
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher retrieves nearest chunks with user or file filters
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, limit int, userID, fileID string) ([]vectorstore.Point, error)
}

// AnswerGenerator produces a grounded answer from assembled context
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question, contextText string, opts llm.Options) (string, error)
}

// Catalog answers file ownership and corpus enumeration queries
type Catalog interface {
	FileNames(ctx context.Context, userID string) ([]string, error)
	ChunksForUser(ctx context.Context, userID string) ([]registry.Chunk, error)
}

// Service runs the retrieval-and-answer pipeline
type Service struct {
	embedder Embedder
	vectors  VectorSearcher
	llm      AnswerGenerator
	catalog  Catalog
	index    *bm25.Index
	cache    *answerCache
	cfg      config.PipelineConfig
	log      *slog.Logger

	now func() time.Time
}

func NewService(
	embedder *embedding.Client,
	vectors *vectorstore.Store,
	llmClient *llm.Client,
	catalog *registry.Registry,
	cfg *config.Config,
	log *slog.Logger,
) *Service {
	return newService(embedder, vectors, llmClient, catalog, cfg.Pipeline, log)
}

// newService takes the narrow interfaces so tests can substitute fakes
func newService(
	embedder Embedder,
	vectors VectorSearcher,
	llmClient AnswerGenerator,
	catalog Catalog,
	cfg config.PipelineConfig,
	log *slog.Logger,
) *Service {
	return &Service{
		embedder: embedder,
		vectors:  vectors,
		llm:      llmClient,
		catalog:  catalog,
		index:    bm25.New(),
		cache:    newAnswerCache(),
		cfg:      cfg,
		log:      log.With(logger.Scope("rag.svc")),
		now:      time.Now,
	}
}

// Answer runs the full pipeline for a user-scoped question
func (s *Service) Answer(ctx context.Context, question, userID string, opts Options) (*AnswerRecord, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperror.NewInvalidInput("question is required")
	}
	opts, err := s.applyDefaults(opts)
	if err != nil {
		return nil, err
	}

	key := cacheKey(question, "user:"+userID, opts.SearchMode, opts.TopK, opts.MinScore)
	if record, ok := s.cache.get(key); ok {
		return cachedCopy(record), nil
	}

	fileNames, err := s.catalog.FileNames(ctx, userID)
	if err != nil {
		return nil, apperror.NewInternal("loading file registry", err)
	}
	if len(fileNames) == 0 {
		return s.noFilesRecord(question, opts), nil
	}

	var results []RetrievalResult
	switch opts.SearchMode {
	case ModeHybrid:
		results, err = s.hybridSearch(ctx, question, userID, opts.TopK)
	case ModeVector:
		results, err = s.vectorSearch(ctx, question, opts.TopK, userID, "")
		if err == nil {
			results = filterMinScore(results, opts.MinScore)
		}
	case ModeBM25:
		results, err = s.lexicalSearch(ctx, question, userID, opts.TopK)
	}
	if err != nil {
		return nil, err
	}

	record, err := s.synthesize(ctx, question, results, opts)
	if err != nil {
		return nil, err
	}
	s.cache.put(key, record)
	return record, nil
}

// AnswerForFile runs the vector-only pipeline restricted to one file. The
// caller has already verified ownership.
func (s *Service) AnswerForFile(ctx context.Context, question, fileID string, opts Options) (*AnswerRecord, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperror.NewInvalidInput("question is required")
	}
	opts, err := s.applyDefaults(opts)
	if err != nil {
		return nil, err
	}
	opts.SearchMode = ModeVector

	key := cacheKey(question, "file:"+fileID, opts.SearchMode, opts.TopK, opts.MinScore)
	if record, ok := s.cache.get(key); ok {
		return cachedCopy(record), nil
	}

	results, err := s.vectorSearch(ctx, question, opts.TopK, "", fileID)
	if err != nil {
		return nil, err
	}
	results = filterMinScore(results, opts.MinScore)

	record, err := s.synthesize(ctx, question, results, opts)
	if err != nil {
		return nil, err
	}
	s.cache.put(key, record)
	return record, nil
}

func (s *Service) applyDefaults(opts Options) (Options, error) {
	if opts.SearchMode == "" {
		opts.SearchMode = ModeHybrid
	}
	switch opts.SearchMode {
	case ModeHybrid, ModeVector, ModeBM25:
	default:
		return opts, apperror.NewInvalidInput(fmt.Sprintf("unknown search mode %q", opts.SearchMode))
	}
	if opts.TopK <= 0 {
		opts.TopK = s.cfg.TopK
	}
	if opts.MinScore <= 0 {
		opts.MinScore = s.cfg.MinScore
	}
	return opts, nil
}

// hybridSearch issues BM25 and vector retrieval concurrently over 2·topK
// candidates each, then fuses. minScore is not applied here; fusion already
// ranks by agreement. If one side returns nothing the other side's ranking
// survives fusion unchanged, but a hard failure on either side fails the
// request.
func (s *Service) hybridSearch(ctx context.Context, question, userID string, topK int) ([]RetrievalResult, error) {
	var lexical, dense []RetrievalResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lexical, err = s.lexicalSearch(gctx, question, userID, 2*topK)
		return err
	})
	g.Go(func() error {
		var err error
		dense, err = s.vectorSearch(gctx, question, 2*topK, userID, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := applyDiversityPenalty(fuseRRF(lexical, dense))
	return truncate(fused, topK), nil
}

func (s *Service) lexicalSearch(ctx context.Context, question, userID string, limit int) ([]RetrievalResult, error) {
	if err := s.ensureCorpus(ctx, userID); err != nil {
		return nil, err
	}

	hits := s.index.Search(userID, question, limit)
	results := make([]RetrievalResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, RetrievalResult{
			FileID:     h.FileID,
			FileName:   h.FileName,
			ChunkIndex: h.ChunkIndex,
			Text:       h.Text,
			Score:      h.Score,
			BM25Score:  h.Score,
			Source:     SourceBM25,
		})
	}
	return results, nil
}

func (s *Service) vectorSearch(ctx context.Context, question string, limit int, userID, fileID string) ([]RetrievalResult, error) {
	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, apperror.ErrUnavailableEmbed.WithInternal(err)
	}

	points, err := s.vectors.Search(ctx, vector, limit, userID, fileID)
	if err != nil {
		return nil, apperror.ErrUnavailableVector.WithInternal(err)
	}

	results := make([]RetrievalResult, 0, len(points))
	for _, p := range points {
		results = append(results, RetrievalResult{
			FileID:      p.FileID,
			FileName:    p.FileName,
			ChunkIndex:  p.ChunkIndex,
			Text:        p.Text,
			Score:       p.Score,
			VectorScore: p.Score,
			Source:      SourceVector,
		})
	}
	return results, nil
}

// ensureCorpus rebuilds the user's lexical corpus from the catalog when it
// is missing or stale. Reads keep hitting the previous snapshot while the
// rebuild runs.
func (s *Service) ensureCorpus(ctx context.Context, userID string) error {
	if loadedAt, ok := s.index.LoadedAt(userID); ok && s.now().Sub(loadedAt) < s.cfg.CorpusRefresh {
		return nil
	}

	chunks, err := s.catalog.ChunksForUser(ctx, userID)
	if err != nil {
		return apperror.NewInternal("loading chunk corpus", err)
	}

	docs := make([]bm25.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, bm25.Document{
			FileID:     c.FileID,
			FileName:   c.FileName,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Text,
		})
	}
	s.index.ReplaceUser(userID, docs)
	return nil
}

// synthesize assembles context from the ranked results, calls the model,
// and builds the final record
func (s *Service) synthesize(ctx context.Context, question string, results []RetrievalResult, opts Options) (*AnswerRecord, error) {
	if len(results) == 0 {
		return &AnswerRecord{
			Answer:  llm.NoContextAnswer,
			Sources: []SourceRef{},
			Metadata: AnswerMetadata{
				Question:   question,
				SearchMode: string(opts.SearchMode),
				Timestamp:  s.now().UTC().Format(time.RFC3339),
			},
		}, nil
	}

	contextText, chunksUsed := assembleContext(results, s.cfg.MaxContextLength)
	fileNames := uniqueFileNames(results[:chunksUsed])

	answer, err := s.llm.GenerateAnswer(ctx, question, contextText, llm.Options{FileNames: fileNames})
	if err != nil {
		return nil, apperror.ErrUnavailableLLM.WithInternal(err)
	}

	sources := make([]SourceRef, 0, len(results))
	for _, r := range results {
		sources = append(sources, SourceRef{
			FileName:   r.FileName,
			Score:      r.Score,
			Text:       r.Text,
			ChunkIndex: r.ChunkIndex,
			FileID:     r.FileID,
			Sources:    r.Sources,
			FusionRank: r.FusionRank,
		})
	}

	return &AnswerRecord{
		Answer:  answer,
		Context: contextText,
		Sources: sources,
		Metadata: AnswerMetadata{
			Question:        question,
			ChunksRetrieved: len(results),
			ChunksUsed:      chunksUsed,
			ContextLength:   len(contextText),
			UniqueFiles:     len(fileNames),
			UniqueFileNames: fileNames,
			SearchMode:      string(opts.SearchMode),
			Timestamp:       s.now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func (s *Service) noFilesRecord(question string, opts Options) *AnswerRecord {
	return &AnswerRecord{
		Answer:  NoFilesAnswer,
		Sources: []SourceRef{},
		Metadata: AnswerMetadata{
			Question:   question,
			SearchMode: string(opts.SearchMode),
			Timestamp:  s.now().UTC().Format(time.RFC3339),
			Reason:     "no_files",
		},
	}
}

// assembleContext formats ranked chunks as "[Source i: fileName]\ntext\n\n"
// and stops before the chunk that would push the total past maxLength.
// Returns the trimmed context and how many chunks made it in.
func assembleContext(results []RetrievalResult, maxLength int) (string, int) {
	var b strings.Builder
	used := 0
	for i, r := range results {
		piece := fmt.Sprintf("[Source %d: %s]\n%s\n\n", i+1, r.FileName, r.Text)
		if b.Len()+len(piece) > maxLength {
			break
		}
		b.WriteString(piece)
		used++
	}
	return strings.TrimRight(b.String(), " \n\t"), used
}

func uniqueFileNames(results []RetrievalResult) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, r := range results {
		if _, ok := seen[r.FileName]; ok {
			continue
		}
		seen[r.FileName] = struct{}{}
		names = append(names, r.FileName)
	}
	sort.Strings(names)
	return names
}

func filterMinScore(results []RetrievalResult, minScore float64) []RetrievalResult {
	filtered := results[:0]
	for _, r := range results {
		if r.Score >= minScore {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// cachedCopy returns the record with the cache-hit marker set without
// mutating the stored entry
func cachedCopy(record *AnswerRecord) *AnswerRecord {
	copied := *record
	copied.Metadata.CacheHit = true
	return &copied
}
