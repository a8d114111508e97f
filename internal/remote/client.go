package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const userAgent = "fitsync/0.1"

// defaultTimeout bounds a single REST request. The engine owns retry policy,
// so a hung request must fail fast enough for the retry loop to matter.
const defaultTimeout = 30 * time.Second

// TokenProvider supplies the current bearer token. An empty token with a
// nil error means the client is anonymous and only the API key is sent.
// Defined here, at the consumer, per "accept interfaces, return structs";
// the identity package provides the real implementation.
type TokenProvider interface {
	AccessToken() (string, error)
}

// Client is an HTTP client for the backend REST API. It performs no retry
// of its own: it classifies failures (see errors.go) and leaves the retry
// decision to the caller, because push and pull have different policies.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	token      TokenProvider
	logger     *slog.Logger
}

// NewClient creates a backend REST client. token may be nil for a client
// that only ever reads public tables.
func NewClient(baseURL, apiKey string, httpClient *http.Client, token TokenProvider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
	}
}

// errorBody is the JSON error envelope the backend returns.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// do executes a single request against the API. Non-2xx responses are
// decoded into an *APIError carrying the backend's error code and message.
// Transport failures are wrapped in ErrNetwork.
func (c *Client) do(ctx context.Context, method, table string, query url.Values, body any, prefer string) ([]byte, error) {
	endpoint := c.baseURL + "/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("remote: encoding %s body: %w", table, err)
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("remote: creating request: %w", err)
	}

	if err := c.setHeaders(req, body != nil, prefer); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Context cancellation is not a network outage.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("remote: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, table, err)
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("%w: reading %s response: %v", ErrNetwork, table, readErr)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("table", table),
			slog.Int("status", resp.StatusCode),
		)

		return payload, nil
	}

	return nil, c.apiError(method, table, resp.StatusCode, payload)
}

// setHeaders attaches auth and content negotiation headers.
func (c *Client) setHeaders(req *http.Request, hasBody bool, prefer string) error {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	if c.token != nil {
		tok, err := c.token.AccessToken()
		if err != nil {
			return fmt.Errorf("remote: obtaining token: %w", err)
		}

		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}

	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	return nil
}

// apiError decodes the backend error envelope into an *APIError.
// A body that isn't valid JSON is kept verbatim as the message.
func (c *Client) apiError(method, table string, status int, payload []byte) error {
	var body errorBody
	if err := json.Unmarshal(payload, &body); err != nil {
		body.Message = string(payload)
	}

	apiErr := &APIError{
		StatusCode: status,
		Code:       body.Code,
		Message:    body.Message,
		Err:        classifyStatus(status),
	}

	c.logger.Debug("request failed",
		slog.String("method", method),
		slog.String("table", table),
		slog.Int("status", status),
		slog.String("code", body.Code),
	)

	return apiErr
}
