// Package httpcall exposes an outbound HTTP request tool. Requests are
// rate-limited per tool instance and bodies are capped so a misbehaving
// endpoint cannot exhaust the host.
package httpcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/quorumhq/agentrun/integrations"
	"github.com/quorumhq/agentrun/runtime/agent/toolerrors"
	"github.com/quorumhq/agentrun/runtime/agent/tools"
)

// Name is the registered tool identifier.
const Name tools.Ident = "http_call"

const (
	defaultMaxBodyBytes = 1 << 20
	defaultTimeout      = 30 * time.Second
)

// schema constrains the tool payload.
var schema = []byte(`{
	"type": "object",
	"properties": {
		"method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"]},
		"url": {"type": "string", "minLength": 1},
		"headers": {"type": "object", "additionalProperties": {"type": "string"}},
		"body": {"type": "string"},
		"provider": {"type": "string"}
	},
	"required": ["method", "url"],
	"additionalProperties": false
}`)

type (
	// Doer issues HTTP requests. *http.Client satisfies it; tests substitute
	// a fake.
	Doer interface {
		Do(req *http.Request) (*http.Response, error)
	}

	// Tool performs outbound HTTP requests on behalf of agents. When the
	// payload names a provider, the request carries a bearer token from the
	// provider's integration session.
	Tool struct {
		httpc        Doer
		limiter      *rate.Limiter
		maxBodyBytes int64
		timeout      time.Duration
	}

	// Option configures the tool.
	Option func(*Tool)

	request struct {
		Method   string            `json:"method"`
		URL      string            `json:"url"`
		Headers  map[string]string `json:"headers"`
		Body     string            `json:"body"`
		Provider string            `json:"provider"`
	}

	response struct {
		Status  int               `json:"status"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c Doer) Option {
	return func(t *Tool) {
		t.httpc = c
	}
}

// WithRateLimit bounds request throughput. Burst must be at least one.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *Tool) {
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxBodyBytes caps the response body size.
func WithMaxBodyBytes(n int64) Option {
	return func(t *Tool) {
		t.maxBodyBytes = n
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(t *Tool) {
		t.timeout = d
	}
}

// New returns the HTTP call tool.
func New(opts ...Option) *Tool {
	t := &Tool{
		httpc:        http.DefaultClient,
		limiter:      rate.NewLimiter(rate.Limit(5), 5),
		maxBodyBytes: defaultMaxBodyBytes,
		timeout:      defaultTimeout,
	}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	return t
}

// Describe implements tools.Tool.
func (t *Tool) Describe() tools.Definition {
	return tools.Definition{
		Name:        Name,
		Description: "Perform an HTTP request against an external endpoint. Optionally authenticate via a configured provider integration.",
		Schema:      schema,
		Tags:        []string{"network"},
	}
}

// Execute implements tools.Tool.
func (t *Tool) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var req request
	if err := json.Unmarshal(inv.Payload, &req); err != nil {
		return tools.FailErr(toolerrors.KindInvalidInput, "decode request payload", err), nil
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return tools.Cancelled("rate limit wait interrupted"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, strings.NewReader(req.Body))
	if err != nil {
		return tools.FailErr(toolerrors.KindInvalidInput, "build request", err), nil
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	if req.Provider != "" {
		token, err := t.sessionToken(ctx, inv, integrations.Provider(req.Provider))
		if err != nil {
			return tools.FailErr(toolerrors.KindUnavailable, fmt.Sprintf("authenticate against provider %q", req.Provider), err), nil
		}
		hreq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.httpc.Do(hreq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return tools.Cancelled("request cancelled"), nil
		}
		return tools.FailErr(toolerrors.KindUnavailable, "perform request", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes))
	if err != nil {
		return tools.FailErr(toolerrors.KindExecution, "read response body", err), nil
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return tools.OKValue(response{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    string(body),
	})
}

func (t *Tool) sessionToken(ctx context.Context, inv *tools.Invocation, provider integrations.Provider) (string, error) {
	if inv.Integrations == nil {
		return "", errors.New("no integrations configured")
	}
	integration, err := inv.Integrations.Get(provider)
	if err != nil {
		return "", err
	}
	session, err := integration.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	return session.Token, nil
}
