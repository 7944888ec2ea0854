package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/medforge/portal/internal/surface"
	"github.com/medforge/portal/pkg/models"
)

const (
	// RequestIDHeader correlates client logs with server problem documents
	RequestIDHeader = "X-Request-ID"

	maxBodyBytes   = 4 << 20
	defaultTimeout = 15 * time.Second
)

// Client performs envelope-checked requests against one surface of the API
type Client struct {
	baseURL    string
	surface    surface.Surface
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    http.Header
	log        zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying transport
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default transport
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLimiter paces outgoing requests
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithHeader adds a header to every request, e.g. a forwarded cookie
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Add(key, value)
	}
}

// WithLogger sets the logger used for request tracing
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a client for baseURL bound to surface s
func New(baseURL string, s surface.Surface, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		surface:    s,
		httpClient: &http.Client{Timeout: defaultTimeout},
		headers:    make(http.Header),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Surface returns the surface this client is bound to
func (c *Client) Surface() surface.Surface {
	return c.surface
}

// Path namespaces a logical resource path for this client's surface
func (c *Client) Path(logical string) string {
	return surface.NamespacedPath(c.surface, logical)
}

// Do sends method to path and decodes the envelope's data into out.
// path must already be namespaced for the client's surface.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	if s, ok := surface.OfPath(path); !ok || s != c.surface {
		return &SurfaceMismatchError{Client: c.surface, Path: path}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Method: method, Path: path, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Str("request_id", requestID).Msg("request failed")
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Dur("duration", time.Since(start)).
		Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return buildRequestError(method, path, resp.StatusCode, raw)
	}

	return decodeEnvelope(method, path, resp.StatusCode, raw, out)
}

// Get is Do with GET and no body
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post is Do with POST
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func decodeEnvelope(method, path string, status int, raw []byte, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &ContractError{Method: method, Path: path, Status: status, Reason: "empty body"}
	}

	var env models.RawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if !json.Valid(raw) {
			return &TransportError{Method: method, Path: path, Err: fmt.Errorf("body is not JSON: %w", err)}
		}
		return &ContractError{Method: method, Path: path, Status: status, Reason: "body is not an object"}
	}

	// a present key decodes to at least "null"
	if env.Data == nil || env.Meta == nil {
		return &ContractError{Method: method, Path: path, Status: status, Reason: "missing data or meta"}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &ContractError{Method: method, Path: path, Status: status, Reason: fmt.Sprintf("unexpected data shape: %v", err)}
	}
	return nil
}

type problemWire struct {
	Type      *string         `json:"type"`
	Title     *string         `json:"title"`
	Status    *int            `json:"status"`
	Detail    *string         `json:"detail"`
	Instance  *string         `json:"instance"`
	Code      *string         `json:"code"`
	RequestID *string         `json:"request_id"`
	Errors    json.RawMessage `json:"errors"`
}

// parseProblem returns nil unless every required problem field is present
// with the right type.
func parseProblem(raw []byte) *models.Problem {
	var wire problemWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil
	}
	if wire.Type == nil || wire.Title == nil || wire.Status == nil || wire.Detail == nil ||
		wire.Instance == nil || wire.Code == nil || wire.RequestID == nil {
		return nil
	}

	problem := &models.Problem{
		Type:      *wire.Type,
		Title:     *wire.Title,
		Status:    *wire.Status,
		Detail:    *wire.Detail,
		Instance:  *wire.Instance,
		Code:      *wire.Code,
		RequestID: *wire.RequestID,
	}

	var validation []map[string]any
	if len(wire.Errors) > 0 && json.Unmarshal(wire.Errors, &validation) == nil {
		for _, item := range validation {
			if item == nil {
				validation = nil
				break
			}
		}
		problem.Errors = validation
	}
	return problem
}

func buildRequestError(method, path string, status int, raw []byte) *RequestError {
	reqErr := &RequestError{
		Method: method,
		Path:   path,
		Status: status,
	}

	problem := parseProblem(raw)
	if problem != nil {
		reqErr.Message = strings.TrimSpace(problem.Detail)
		if reqErr.Message == "" {
			reqErr.Message = strings.TrimSpace(problem.Title)
		}
		reqErr.Code = problem.Code
		reqErr.RequestID = problem.RequestID
		reqErr.Errors = problem.Errors
	}
	if reqErr.Message == "" {
		reqErr.Message = fmt.Sprintf("%s %s failed: %d", method, path, status)
	}
	return reqErr
}

// forwardedHeaders carry the caller's credentials through to the API
var forwardedHeaders = []string{"Cookie", "Authorization"}

// ForRequest creates a client bound to the surface r was addressed to,
// forwarding r's credentials on every call
func ForRequest(baseURL string, r *http.Request, opts ...Option) *Client {
	all := make([]Option, 0, len(opts)+len(forwardedHeaders))
	all = append(all, opts...)
	for _, h := range forwardedHeaders {
		for _, v := range r.Header.Values(h) {
			all = append(all, WithHeader(h, v))
		}
	}
	return New(baseURL, surface.FromRequest(r), all...)
}
