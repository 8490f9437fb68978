// Package rerank scores search candidates against a query using a
// Cohere-compatible /rerank endpoint. LLM-backed gateways sometimes
// return the result object wrapped in prose or with the tail truncated,
// so decoding falls back to a best-effort JSON repair before giving up.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
)

// Ranking maps a candidate (by its position in the input slice) to a
// relevance score. Higher is more relevant.
type Ranking struct {
	Index int
	Score float64
}

// Reranker orders candidate documents by relevance to a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string, topN int) ([]Ranking, error)
}

// Options configures the HTTP reranker.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
}

// HTTP is a Reranker over a Cohere-compatible endpoint.
type HTTP struct {
	opts   Options
	client *http.Client
}

// NewHTTP creates a reranker client with an OTel-instrumented transport.
func NewHTTP(opts Options) *HTTP {
	return &HTTP{
		opts:   opts,
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns rankings sorted by descending score, at most topN of
// them. Out-of-range indices in the response are dropped.
func (h *HTTP) Rerank(ctx context.Context, query string, docs []string, topN int) ([]Ranking, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(rerankRequest{Model: h.opts.Model, Query: query, Documents: docs, TopN: topN})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.opts.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.opts.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, domain.E(domain.KindExternalService, "rerank", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.E(domain.KindExternalService, "rerank", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Ef(domain.KindExternalService, "rerank", "endpoint returned %d", resp.StatusCode)
	}

	parsed, err := decodeResults(raw)
	if err != nil {
		return nil, domain.E(domain.KindParse, "rerank", err)
	}

	rankings := make([]Ranking, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			continue
		}
		rankings = append(rankings, Ranking{Index: r.Index, Score: r.Score})
	}
	sort.SliceStable(rankings, func(i, j int) bool { return rankings[i].Score > rankings[j].Score })
	if topN > 0 && len(rankings) > topN {
		rankings = rankings[:topN]
	}
	return rankings, nil
}

// decodeResults parses the response, repairing common LLM mangling when
// a straight decode fails.
func decodeResults(raw []byte) (*rerankResponse, error) {
	var out rerankResponse
	if err := json.Unmarshal(raw, &out); err == nil {
		return &out, nil
	}
	repaired := Repair(string(raw))
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, fmt.Errorf("unparseable rerank response: %w", err)
	}
	return &out, nil
}

// Repair extracts the first JSON object from s and balances any
// unclosed braces and brackets. It handles markdown code fences and
// truncated tails; it does not attempt to fix corruption inside strings.
func Repair(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i != -1 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j != -1 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return s
	}
	s = s[start:]

	var stack []byte
	inString := false
	escaped := false
	end := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				end = i
			}
		}
		if end != -1 {
			break
		}
	}
	if end != -1 {
		return s[:end+1]
	}

	// Truncated: drop a dangling partial token, close any open string,
	// then close the remaining scopes in reverse order.
	trimmed := strings.TrimRight(s, " \t\r\n")
	trimmed = strings.TrimRight(trimmed, ",")
	if inString {
		trimmed += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		trimmed += string(stack[i])
	}
	return trimmed
}
