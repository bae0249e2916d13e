package voyage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
	"github.com/bme3412/clarity/internal/infrastructure/resilience"
)

const (
	inputTypeQuery    = "query"
	inputTypeDocument = "document"

	maxBatchSize = 128
)

// Client calls the Voyage AI embeddings API. Remote calls run through the
// resilience executor; recent query embeddings are served from a bounded
// FIFO cache keyed by exact text.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
	queryCache ports.Cache
	limiter    *rate.Limiter
}

type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	Executor   *resilience.Executor
	QueryCache ports.Cache
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "voyage init", fmt.Errorf("api key is required"))
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.voyageai.com"
	}
	model := opts.Model
	if model == "" {
		model = "voyage-finance-2"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
		queryCache: opts.QueryCache,
		limiter:    limiter,
	}, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if c.queryCache != nil {
		if cached, ok := c.queryCache.Get(text); ok {
			if vec, ok := cached.([]float32); ok {
				return vec, nil
			}
		}
	}

	vectors, err := c.embed(ctx, []string{text}, inputTypeQuery)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("voyage embed query: empty embedding result")
	}
	if c.queryCache != nil {
		c.queryCache.Set(text, vectors[0])
	}
	return vectors[0], nil
}

func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embed(ctx, texts[start:end], inputTypeDocument)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("voyage embed documents: got %d vectors for %d texts", len(out), len(texts))
	}
	return out, nil
}

func (c *Client) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var vectors [][]float32
	call := func(ctx context.Context) error {
		var err error
		vectors, err = c.postEmbeddings(ctx, texts, inputType)
		return err
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "voyage.embed", call, classifyVoyageError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded("voyage embed", err)
	}
	return vectors, nil
}

func (c *Client) postEmbeddings(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	payload := map[string]any{
		"model":      c.model,
		"input":      texts,
		"input_type": inputType,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voyage embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &HTTPStatusError{
			Operation:  "embed",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	var response struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	vectors := make([][]float32, len(response.Data))
	for i, item := range response.Data {
		idx := item.Index
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		vectors[idx] = item.Embedding
	}
	return vectors, nil
}
