package rag

// SearchMode selects the retrieval strategy for a query
type SearchMode string

const (
	ModeHybrid SearchMode = "hybrid"
	ModeVector SearchMode = "vector"
	ModeBM25   SearchMode = "bm25"
)

// Source labels for retrieval results
const (
	SourceBM25   = "bm25"
	SourceVector = "vector"
)

// AskRequest is the body of the ask endpoints
type AskRequest struct {
	Question   string  `json:"question"`
	SearchMode string  `json:"searchMode,omitempty"`
	TopK       int     `json:"topK,omitempty"`
	MinScore   float64 `json:"minScore,omitempty"`
}

// Options tunes a single pipeline invocation; zero values take the
// configured defaults
type Options struct {
	SearchMode SearchMode
	TopK       int
	MinScore   float64
}

// RetrievalResult is one retrieved chunk, possibly fused from both lists
type RetrievalResult struct {
	FileID      string   `json:"fileId"`
	FileName    string   `json:"fileName"`
	ChunkIndex  int      `json:"chunkIndex"`
	Text        string   `json:"text"`
	Score       float64  `json:"score"`
	Source      string   `json:"source"`
	RRFScore    float64  `json:"rrfScore,omitempty"`
	VectorScore float64  `json:"vectorScore,omitempty"`
	BM25Score   float64  `json:"bm25Score,omitempty"`
	FusionRank  int      `json:"fusionRank,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// SourceRef is one entry of AnswerRecord.Sources, shown to the user
type SourceRef struct {
	FileName   string   `json:"fileName"`
	Score      float64  `json:"score"`
	Text       string   `json:"text"`
	ChunkIndex int      `json:"chunkIndex"`
	FileID     string   `json:"fileId"`
	Sources    []string `json:"sources,omitempty"`
	FusionRank int      `json:"fusionRank,omitempty"`
}

// AnswerMetadata describes how an answer was produced
type AnswerMetadata struct {
	Question        string   `json:"question"`
	ChunksRetrieved int      `json:"chunksRetrieved"`
	ChunksUsed      int      `json:"chunksUsed"`
	ContextLength   int      `json:"contextLength"`
	UniqueFiles     int      `json:"uniqueFiles"`
	UniqueFileNames []string `json:"uniqueFileNames,omitempty"`
	SearchMode      string   `json:"searchMode"`
	Timestamp       string   `json:"timestamp"`
	CacheHit        bool     `json:"cacheHit,omitempty"`
	Reason          string   `json:"reason,omitempty"`
}

// AnswerRecord is the pipeline output, cached and returned to callers
type AnswerRecord struct {
	Answer   string         `json:"answer"`
	Context  string         `json:"context"`
	Sources  []SourceRef    `json:"sources"`
	Metadata AnswerMetadata `json:"metadata"`
}

// EnqueueResponse is the 202 body when a question is queued
type EnqueueResponse struct {
	JobID     string `json:"jobId"`
	StatusURL string `json:"statusUrl"`
}

// StatsResponse is the /stats body
type StatsResponse struct {
	TotalVectors   uint64           `json:"totalVectors"`
	UserFiles      int64            `json:"userFiles"`
	CollectionName string           `json:"collectionName"`
	VectorSize     int              `json:"vectorSize"`
	Queues         map[string]int64 `json:"queues,omitempty"`
}
