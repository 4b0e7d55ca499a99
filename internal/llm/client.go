// Package llm calls the external completion service and owns the prompt
// framing for grounded answers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/pkg/logger"
)

// NoContextAnswer is returned without calling the model when retrieval
// produced nothing to ground an answer on
const NoContextAnswer = "I couldn't find any relevant information in your documents to answer that question."

// Options tunes a single generation call
type Options struct {
	Temperature float64
	MaxTokens   int
	FileNames   []string
}

// Client is the completion service HTTP client
type Client struct {
	baseURL            string
	httpClient         *http.Client
	defaultTemperature float64
	defaultMaxTokens   int
	log                *slog.Logger
}

func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		baseURL:            strings.TrimRight(cfg.LLM.APIURL, "/"),
		httpClient:         &http.Client{Timeout: cfg.LLM.Timeout},
		defaultTemperature: cfg.LLM.Temperature,
		defaultMaxTokens:   cfg.LLM.MaxTokens,
		log:                log.With(logger.Scope("llm")),
	}
}

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// GenerateAnswer produces an answer grounded strictly in contextText. The
// context is embedded verbatim; the model is instructed to cite [Source N]
// tags as they appear in it. Empty context returns the canned reply without
// a model call.
func (c *Client) GenerateAnswer(ctx context.Context, question, contextText string, opts Options) (string, error) {
	if strings.TrimSpace(contextText) == "" {
		return NoContextAnswer, nil
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = c.defaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.defaultMaxTokens
	}

	payload, err := json.Marshal(generateRequest{
		Prompt:      buildPrompt(question, contextText, opts.FileNames),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling llm service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

func buildPrompt(question, contextText string, fileNames []string) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant answering questions about the user's documents.\n")
	b.WriteString("Answer strictly from the context below. If the context does not contain the answer, say so.\n")
	b.WriteString("Cite sources using the [Source N] tags exactly as they appear in the context.\n")
	if len(fileNames) > 0 {
		b.WriteString("The context is drawn from these files: ")
		b.WriteString(strings.Join(fileNames, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\nContext:\n")
	b.WriteString(contextText)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}
