// Package websearch exposes a web search tool backed by a SearxNG-compatible
// JSON endpoint.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quorumhq/agentrun/runtime/agent/toolerrors"
	"github.com/quorumhq/agentrun/runtime/agent/tools"
)

// Name is the registered tool identifier.
const Name tools.Ident = "web_search"

const (
	defaultMaxResults = 5
	defaultTimeout    = 15 * time.Second
)

var schema = []byte(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "minLength": 1},
		"max_results": {"type": "integer", "minimum": 1, "maximum": 20}
	},
	"required": ["query"],
	"additionalProperties": false
}`)

type (
	// Doer issues HTTP requests. *http.Client satisfies it; tests substitute
	// a fake.
	Doer interface {
		Do(req *http.Request) (*http.Response, error)
	}

	// Tool queries the configured search endpoint and returns ranked
	// results.
	Tool struct {
		endpoint string
		httpc    Doer
		timeout  time.Duration
	}

	// Option configures the tool.
	Option func(*Tool)

	request struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}

	// SearchResult is one ranked hit.
	SearchResult struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet,omitempty"`
	}

	response struct {
		Results []SearchResult `json:"results"`
	}

	// endpointResponse mirrors the SearxNG JSON format.
	endpointResponse struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c Doer) Option {
	return func(t *Tool) {
		t.httpc = c
	}
}

// WithTimeout bounds each search request.
func WithTimeout(d time.Duration) Option {
	return func(t *Tool) {
		t.timeout = d
	}
}

// New returns a search tool querying endpoint.
func New(endpoint string, opts ...Option) (*Tool, error) {
	if endpoint == "" {
		return nil, errors.New("search endpoint is required")
	}
	t := &Tool{
		endpoint: endpoint,
		httpc:    http.DefaultClient,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	return t, nil
}

// Describe implements tools.Tool.
func (t *Tool) Describe() tools.Definition {
	return tools.Definition{
		Name:        Name,
		Description: "Search the web and return ranked results with titles, URLs and snippets.",
		Schema:      schema,
		Tags:        []string{"network", "search"},
	}
}

// Execute implements tools.Tool.
func (t *Tool) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var req request
	if err := json.Unmarshal(inv.Payload, &req); err != nil {
		return tools.FailErr(toolerrors.KindInvalidInput, "decode search payload", err), nil
	}
	if req.MaxResults <= 0 {
		req.MaxResults = defaultMaxResults
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	q := url.Values{
		"q":      {req.Query},
		"format": {"json"},
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return tools.FailErr(toolerrors.KindExecution, "build search request", err), nil
	}

	resp, err := t.httpc.Do(hreq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return tools.Cancelled("search cancelled"), nil
		}
		return tools.FailErr(toolerrors.KindUnavailable, "query search endpoint", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tools.FailErr(toolerrors.KindExecution, "read search response", err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return tools.Fail(toolerrors.KindUnavailable, fmt.Sprintf("search endpoint returned %d", resp.StatusCode)), nil
	}

	var er endpointResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return tools.FailErr(toolerrors.KindExecution, "decode search response", err), nil
	}

	out := response{Results: make([]SearchResult, 0, req.MaxResults)}
	for _, r := range er.Results {
		if len(out.Results) == req.MaxResults {
			break
		}
		out.Results = append(out.Results, SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
		})
	}
	return tools.OKValue(out)
}
