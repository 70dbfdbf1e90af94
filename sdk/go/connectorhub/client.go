// Package connectorhub provides a small Go client for the ConnectorHub REST
// API. It covers endpoint management, capability probing and the operation
// lifecycle, including polling an operation until it reaches a terminal state.
package connectorhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Canonical operation statuses reported by the server.
const (
	StatusQueued    = "QUEUED"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// Client wraps the HTTP interactions with the ConnectorHub REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// OperationRequest represents the payload required to start an operation.
type OperationRequest struct {
	EndpointID string         `json:"endpoint_id"`
	TemplateID string         `json:"template_id,omitempty"`
	Kind       string         `json:"kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// OperationError describes an operation level failure. Retryable reflects the
// server side classification; RequiredScopes is populated for scope failures.
type OperationError struct {
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	Retryable      bool     `json:"retryable"`
	RequiredScopes []string `json:"required_scopes,omitempty"`
}

// OperationState is the normalized operation snapshot returned by the server.
// Retryable is meaningful only when Status is FAILED and mirrors the value on
// the error descriptor.
type OperationState struct {
	OperationID string          `json:"operation_id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	Retryable   bool            `json:"retryable"`
	StartedAt   int64           `json:"started_at,omitempty"`
	Result      map[string]any  `json:"result,omitempty"`
	Error       *OperationError `json:"error,omitempty"`
}

// Terminal reports whether the operation reached a final state.
func (s OperationState) Terminal() bool {
	return s.Status == StatusSucceeded || s.Status == StatusFailed
}

// Endpoint mirrors the server side endpoint definition.
type Endpoint struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Connector    string            `json:"connector"`
	Address      string            `json:"address"`
	Properties   map[string]string `json:"properties,omitempty"`
	CredentialID string            `json:"credential_id,omitempty"`
	CreatedAt    int64             `json:"created_at"`
	UpdatedAt    int64             `json:"updated_at"`
}

// CapabilityResult mirrors the live probe result of an endpoint.
type CapabilityResult struct {
	Capabilities        map[string]struct{} `json:"capabilities"`
	SupportedOperations map[string]struct{} `json:"supported_operations"`
	Constraints         map[string]string   `json:"constraints,omitempty"`
	Err                 *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("connectorhub api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("connectorhub api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ConnectorHub API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken stores a bearer token attached to subsequent calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// StartOperation starts an operation. Capability denials and connector level
// failures do not produce an error: inspect the returned state instead.
func (c *Client) StartOperation(ctx context.Context, req OperationRequest) (OperationState, error) {
	var state OperationState
	if err := c.post(ctx, "/api/v1/operations", req, &state); err != nil {
		return OperationState{}, err
	}
	return state, nil
}

// GetOperation fetches the normalized state of an operation.
func (c *Client) GetOperation(ctx context.Context, operationID string) (OperationState, error) {
	var state OperationState
	endpoint := "/api/v1/operations/" + url.PathEscape(operationID)
	if err := c.get(ctx, endpoint, &state); err != nil {
		return OperationState{}, err
	}
	return state, nil
}

// WaitOperation polls the operation until it reaches a terminal state or the
// context is cancelled.
func (c *Client) WaitOperation(ctx context.Context, operationID string, interval time.Duration) (OperationState, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := c.GetOperation(ctx, operationID)
		if err != nil {
			return OperationState{}, err
		}
		if state.Terminal() {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return OperationState{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CreateEndpoint registers a new endpoint.
func (c *Client) CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	var created Endpoint
	if err := c.post(ctx, "/api/v1/endpoints", ep, &created); err != nil {
		return Endpoint{}, err
	}
	return created, nil
}

// GetEndpoint fetches an endpoint definition.
func (c *Client) GetEndpoint(ctx context.Context, endpointID string) (Endpoint, error) {
	var ep Endpoint
	if err := c.get(ctx, "/api/v1/endpoints/"+url.PathEscape(endpointID), &ep); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// ListEndpoints returns all registered endpoints.
func (c *Client) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	var endpoints []Endpoint
	if err := c.get(ctx, "/api/v1/endpoints", &endpoints); err != nil {
		return nil, err
	}
	return endpoints, nil
}

// ProbeCapabilities triggers a live capability probe of an endpoint.
func (c *Client) ProbeCapabilities(ctx context.Context, endpointID string) (CapabilityResult, error) {
	var result CapabilityResult
	endpoint := "/api/v1/endpoints/" + url.PathEscape(endpointID) + "/capabilities"
	if err := c.get(ctx, endpoint, &result); err != nil {
		return CapabilityResult{}, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
