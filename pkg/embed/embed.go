// Package embed provides the embedding client used to turn chunk text
// into dense vectors. The HTTP client speaks the OpenAI-compatible
// /v1/embeddings batch protocol, which Jina, Ollama and vLLM also serve.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/fn"
	"github.com/CourseForgeAI/courseforge-mvp/pkg/resilience"
)

// Client produces one dense vector per input text, in input order.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Options configures the HTTP embedding client.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	// MaxBatch caps how many texts go into a single request.
	MaxBatch int
	// RPS paces outgoing requests. Zero disables pacing.
	RPS   float64
	Retry fn.RetryOpts
	// Breaker, when set, short-circuits calls while the remote is down.
	Breaker *resilience.Breaker
}

// HTTP is an embedding client over an OpenAI-compatible endpoint.
type HTTP struct {
	opts    Options
	client  *http.Client
	limiter *resilience.Limiter
}

// NewHTTP creates an embedding client. Requests carry OTel spans via the
// instrumented transport.
func NewHTTP(opts Options) *HTTP {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 64
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fn.DefaultRetry
	}
	if opts.Retry.ShouldRetry == nil {
		opts.Retry.ShouldRetry = transient
	}
	h := &HTTP{
		opts:   opts,
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if opts.RPS > 0 {
		h.limiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.RPS, Burst: 1})
	}
	return h
}

// Dimensions returns the configured vector width, or 0 if unknown.
func (h *HTTP) Dimensions() int { return h.opts.Dimensions }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// statusError marks a non-2xx response so retry classification can
// distinguish throttling from a request the server will never accept.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("embeddings endpoint returned %d: %s", e.code, e.body)
}

// transient reports whether an attempt is worth repeating. Throttling and
// server errors are; 4xx responses and cancelled contexts are not.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

// Embed returns one vector per text, preserving input order. Inputs are
// split into batches of MaxBatch; the first failing batch aborts the call.
func (h *HTTP) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, batch := range fn.Chunk(texts, h.opts.MaxBatch) {
		vecs, err := h.embedBatch(ctx, batch)
		if err != nil {
			return nil, domain.E(domain.KindExternalService, "embed", err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (h *HTTP) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	result := fn.Retry(ctx, h.opts.Retry, func(ctx context.Context) fn.Result[[][]float32] {
		if h.opts.Breaker != nil {
			return resilience.CallResult(h.opts.Breaker, ctx, func(ctx context.Context) fn.Result[[][]float32] {
				return fn.FromPair(h.doRequest(ctx, batch))
			})
		}
		return fn.FromPair(h.doRequest(ctx, batch))
	})
	return result.Unwrap()
}

func (h *HTTP) doRequest(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: h.opts.Model, Input: batch})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.opts.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.opts.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		msg := buf.String()
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, &statusError{code: resp.StatusCode, body: msg}
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(parsed.Data) != len(batch) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(parsed.Data), len(batch))
	}

	// The protocol allows out-of-order data entries keyed by index.
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	vecs := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if h.opts.Dimensions > 0 && len(d.Embedding) != h.opts.Dimensions {
			return nil, fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(d.Embedding), h.opts.Dimensions)
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
