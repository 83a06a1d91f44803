package backend

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/odvcencio/taskchat/pkg/conversation"
	taskerrors "github.com/odvcencio/taskchat/pkg/errors"
	"github.com/odvcencio/taskchat/pkg/observability"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultRateLimit = rate.Limit(10)
	defaultBurstSize = 20
	maxErrorBody     = 500
)

// Options configures an HTTPClient.
type Options struct {
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// HTTPClient talks to the backend over JSON/HTTP.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for baseURL.
func NewHTTPClient(baseURL string, opts Options) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Limit(opts.RateLimit)
	if opts.RateLimit <= 0 {
		limit = defaultRateLimit
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurstSize
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      opts.APIKey,
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(limit, burst),
	}
}

// GetThread fetches a thread snapshot.
func (c *HTTPClient) GetThread(ctx context.Context, threadID string) (_ conversation.Snapshot, err error) {
	ctx, span := observability.StartSpan(ctx, "backend.get_thread", observability.AttrThreadID.String(threadID))
	defer func() { observability.EndSpan(span, err) }()

	var env envelope
	if err := c.do(ctx, "get_thread", http.MethodGet, "/threads/"+url.PathEscape(threadID), nil, &env); err != nil {
		return conversation.Snapshot{}, err
	}
	if env.Thread == nil {
		return conversation.Snapshot{}, taskerrors.New(taskerrors.ErrCodeBackend, "thread missing from reply")
	}
	snapshot := *env.Thread
	if snapshot.ThreadID == "" {
		snapshot.ThreadID = threadID
	}
	return snapshot, nil
}

// CreateThread creates a thread and returns its id.
func (c *HTTPClient) CreateThread(ctx context.Context, req CreateThreadRequest) (_ string, err error) {
	ctx, span := observability.StartSpan(ctx, "backend.create_thread")
	defer func() { observability.EndSpan(span, err) }()

	var env envelope
	if err := c.do(ctx, "create_thread", http.MethodPost, "/threads", req, &env); err != nil {
		return "", err
	}
	if env.Thread == nil || env.Thread.ThreadID == "" {
		return "", taskerrors.New(taskerrors.ErrCodeBackend, "created thread has no id")
	}
	return env.Thread.ThreadID, nil
}

// SendMessage appends a message to a thread.
func (c *HTTPClient) SendMessage(ctx context.Context, threadID string, req SendMessageRequest) (_ conversation.RawMessage, err error) {
	ctx, span := observability.StartSpan(ctx, "backend.send_message", observability.AttrThreadID.String(threadID))
	defer func() { observability.EndSpan(span, err) }()

	var env envelope
	if err := c.do(ctx, "send_message", http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", req, &env); err != nil {
		return conversation.RawMessage{}, err
	}
	if env.Message == nil {
		return conversation.RawMessage{}, nil
	}
	return *env.Message, nil
}

// Suggest runs an operation suggest pass for a thread.
func (c *HTTPClient) Suggest(ctx context.Context, threadID string) (_ SuggestResult, err error) {
	ctx, span := observability.StartSpan(ctx, "backend.suggest", observability.AttrThreadID.String(threadID))
	defer func() { observability.EndSpan(span, err) }()

	var env envelope
	body := map[string]string{"threadId": threadID}
	if err := c.do(ctx, "suggest", http.MethodPost, "/operations/suggest", body, &env); err != nil {
		return SuggestResult{}, err
	}
	return SuggestResult{
		Applied:  env.Applied,
		Pending:  env.Pending,
		Errors:   env.Errors,
		Surfaces: env.Surfaces,
	}, nil
}

// ApplyOperation performs approve, edit, decline or undo.
func (c *HTTPClient) ApplyOperation(ctx context.Context, action Action, req OperationRequest) (_ OperationResult, err error) {
	ctx, span := observability.StartSpan(ctx, "backend.operation",
		observability.AttrAction.String(string(action)),
		observability.AttrOperation.String(req.Operation.Op))
	defer func() { observability.EndSpan(span, err) }()

	if !action.Valid() {
		return OperationResult{}, taskerrors.Newf(taskerrors.ErrCodeInvalidInput, "unknown operation action %q", action)
	}
	var env envelope
	if err := c.do(ctx, "operation_"+string(action), http.MethodPost, "/operations/"+string(action), req, &env); err != nil {
		return OperationResult{}, err
	}
	return OperationResult{Detail: env.Detail}, nil
}

// do performs one request and decodes the envelope into out. Non-2xx
// statuses and ok:false replies become coded errors.
func (c *HTTPClient) do(ctx context.Context, endpoint, method, path string, body any, out *envelope) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return taskerrors.Wrap(err, taskerrors.ErrCodeNetwork, "rate limit wait")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return taskerrors.Wrap(err, taskerrors.ErrCodeInternal, "encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return taskerrors.Wrap(err, taskerrors.ErrCodeInternal, "build request")
	}
	c.setHeaders(req, body != nil)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.BackendLatency.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		if stderrors.Is(err, context.Canceled) {
			return err
		}
		return taskerrors.Wrap(err, taskerrors.ErrCodeNetwork, method+" "+path).
			WithRetryable(true).
			WithUserMessage("Could not reach the server")
	}
	defer resp.Body.Close()
	observability.BackendLatency.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return taskerrors.Wrap(err, taskerrors.ErrCodeBackend, "decode reply").WithRetryable(true)
	}
	if !out.OK {
		msg := out.Error
		if msg == "" {
			msg = "request rejected"
		}
		return taskerrors.New(taskerrors.ErrCodeBackendRejected, msg).
			WithContext("endpoint", endpoint).
			WithUserMessage(msg)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// parseError classifies a non-2xx reply. 404 means the thread is gone;
// 429 and 5xx are retryable.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := resp.Status
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != "" {
		message = env.Error
	} else if raw := strings.TrimSpace(string(body)); raw != "" {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody] + "..."
		}
		message = fmt.Sprintf("%s (raw: %s)", resp.Status, raw)
	}

	if resp.StatusCode == http.StatusNotFound {
		return taskerrors.New(taskerrors.ErrCodeThreadNotFound, message).
			WithContext("status", resp.StatusCode)
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return taskerrors.New(taskerrors.ErrCodeBackend, message).
		WithContext("status", resp.StatusCode).
		WithRetryable(retryable).
		WithUserMessage(message)
}
