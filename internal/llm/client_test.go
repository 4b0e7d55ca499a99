package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexa-labs/ragserver/internal/config"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	cfg := &config.Config{
		LLM: config.LLMConfig{
			APIURL:      url,
			Timeout:     2 * time.Second,
			Temperature: 0.2,
			MaxTokens:   500,
		},
	}
	return NewClient(cfg, slog.New(slog.DiscardHandler))
}

func TestGenerateAnswerPromptFraming(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(generateResponse{Text: "  BM25 ranks by term frequency [Source 1].  "})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	contextText := "[Source 1: notes.pdf]\nBM25 ranks documents by term frequency.\n"

	answer, err := c.GenerateAnswer(context.Background(), "how does bm25 rank?", contextText, Options{
		FileNames: []string{"notes.pdf", "report.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, "BM25 ranks by term frequency [Source 1].", answer)

	// Context goes into the prompt verbatim, with citation instructions and
	// the file names
	assert.Contains(t, got.Prompt, contextText)
	assert.Contains(t, got.Prompt, "[Source N]")
	assert.Contains(t, got.Prompt, "notes.pdf, report.pdf")
	assert.Contains(t, got.Prompt, "Question: how does bm25 rank?")
	assert.Equal(t, 0.2, got.Temperature)
	assert.Equal(t, 500, got.MaxTokens)
}

func TestGenerateAnswerOptionOverrides(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(generateResponse{Text: "ok"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.GenerateAnswer(context.Background(), "q", "some context", Options{
		Temperature: 0.7,
		MaxTokens:   100,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.7, got.Temperature)
	assert.Equal(t, 100, got.MaxTokens)
}

func TestGenerateAnswerEmptyContext(t *testing.T) {
	// No server: empty context must not reach the network
	c := testClient(t, "http://localhost:1")

	answer, err := c.GenerateAnswer(context.Background(), "q", "   \n", Options{})
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, answer)
}

func TestGenerateAnswerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.GenerateAnswer(context.Background(), "q", "context", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
