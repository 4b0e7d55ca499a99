// Package embedding talks to the external embedding service over HTTP.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/pkg/logger"
)

// Client calls the embedding HTTP service. Texts are embedded into
// fixed-dimension vectors; any response with the wrong dimension is rejected
// before it can poison the vector store.
type Client struct {
	baseURL      string
	dimension    int
	batchSize    int
	httpClient   *http.Client
	batchClient  *http.Client
	healthTTL    time.Duration
	retryBackoff time.Duration
	log          *slog.Logger

	mu            sync.Mutex
	healthyAt     time.Time
	healthyResult bool

	now func() time.Time
}

func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.Embedding.APIURL, "/"),
		dimension:    cfg.Embedding.Dimension,
		batchSize:    cfg.Embedding.BatchSize,
		httpClient:   &http.Client{Timeout: cfg.Embedding.Timeout},
		batchClient:  &http.Client{Timeout: cfg.Embedding.BatchTimeout},
		healthTTL:    cfg.Embedding.HealthInterval,
		retryBackoff: time.Second,
		log:          log.With(logger.Scope("embedding")),
		now:          time.Now,
	}
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type batchRequest struct {
	Texts []string `json:"texts"`
}

type batchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// ErrUnavailable is returned when the service failed its last health probe
var ErrUnavailable = errors.New("embedding service unavailable")

// EmbedQuery embeds a single text
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if !c.Healthy(ctx) {
		return nil, ErrUnavailable
	}
	var resp embedResponse
	err := c.post(ctx, c.httpClient, "/embed", embedRequest{Text: text}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) != c.dimension {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(resp.Embedding), c.dimension)
	}
	return resp.Embedding, nil
}

// EmbedDocuments embeds texts in batches, preserving input order
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if !c.Healthy(ctx) {
		return nil, ErrUnavailable
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))

		var resp batchResponse
		err := c.post(ctx, c.batchClient, "/embed/batch", batchRequest{Texts: texts[start:end]}, &resp)
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("batch returned %d embeddings for %d texts", len(resp.Embeddings), end-start)
		}
		for _, emb := range resp.Embeddings {
			if len(emb) != c.dimension {
				return nil, fmt.Errorf("embedding dimension %d, want %d", len(emb), c.dimension)
			}
		}
		out = append(out, resp.Embeddings...)
	}
	return out, nil
}

// Healthy reports whether the embedding service answered its health check
// recently. The result is cached so hot paths do not add a probe per request.
func (c *Client) Healthy(ctx context.Context) bool {
	c.mu.Lock()
	if c.now().Sub(c.healthyAt) < c.healthTTL {
		cached := c.healthyResult
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	healthy := c.probe(ctx)

	c.mu.Lock()
	c.healthyAt = c.now()
	c.healthyResult = healthy
	c.mu.Unlock()
	return healthy
}

func (c *Client) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("embedding health probe failed", logger.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// post sends one JSON request, retrying once after a short pause when the
// failure looks transient (timeout or connection error).
func (c *Client) post(ctx context.Context, client *http.Client, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	err = c.doPost(ctx, client, path, payload, out)
	if err == nil || !isTransient(err) {
		return err
	}

	c.log.Warn("embedding request failed, retrying", "path", path, logger.Error(err))
	select {
	case <-time.After(c.retryBackoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.doPost(ctx, client, path, payload, out)
}

func (c *Client) doPost(ctx context.Context, client *http.Client, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
