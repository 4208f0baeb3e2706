// Package backend calls the classify/rewrite and answer endpoints of the learning agent
// backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"learning-agent/internal/auth"
	"learning-agent/internal/logger"
	"learning-agent/pkg/api"

	"github.com/sirupsen/logrus"
)

const (
	interactPath = "/api/interact"
	answerPath   = "/api/answer"
	healthPath   = "/api/health"
)

// ErrMalformedResponse is returned when a 2xx response does not match the contract
var ErrMalformedResponse = errors.New("malformed backend response")

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Sprintf("backend returned status %d: %s (%s)", e.StatusCode, msg, e.Detail)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, msg)
}

// Config configures a Client
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Authenticator mints bearer tokens; nil or disabled sends no Authorization header
	Authenticator *auth.Authenticator
	ClientName    string
	HTTPClient    *http.Client
}

// Client implements the two backend contracts over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *auth.Authenticator
	clientName string
}

// NewClient creates a Client
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	name := cfg.ClientName
	if name == "" {
		name = "learning-agent"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		auth:       cfg.Authenticator,
		clientName: name,
	}
}

// Interact classifies and rewrites a prompt, or answers it directly when the enhancer is off
func (c *Client) Interact(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
	var resp api.InteractResponse
	if err := c.post(ctx, interactPath, req, &resp); err != nil {
		return nil, err
	}

	if resp.InteractionID == "" || resp.ConversationID == "" {
		return nil, fmt.Errorf("%w: missing interaction or conversation id", ErrMalformedResponse)
	}
	if !req.EnhancerEnabled && resp.FinalAnswer == nil {
		return nil, fmt.Errorf("%w: missing final_answer", ErrMalformedResponse)
	}
	if resp.RewrittenPrompt == nil {
		resp.RewriteStrategy = nil
	}
	return &resp, nil
}

// Answer generates the final answer for the chosen prompt
func (c *Client) Answer(ctx context.Context, req api.AnswerRequest) (*api.AnswerResponse, error) {
	var raw struct {
		FinalAnswer *string `json:"final_answer"`
	}
	if err := c.post(ctx, answerPath, req, &raw); err != nil {
		return nil, err
	}
	if raw.FinalAnswer == nil {
		return nil, fmt.Errorf("%w: missing final_answer", ErrMalformedResponse)
	}
	return &api.AnswerResponse{FinalAnswer: *raw.FinalAnswer}, nil
}

// Health checks that the backend is reachable
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	var health api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("backend unhealthy: %s", health.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.auth != nil && c.auth.Enabled() {
		token, err := c.auth.GenerateToken(c.clientName)
		if err != nil {
			return fmt.Errorf("error generating service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	logger.Log.WithFields(logrus.Fields{
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Backend call finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	var errResp api.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && (errResp.Message != "" || errResp.Error != "") {
		statusErr.Message = errResp.Message
		statusErr.Detail = errResp.Error
	} else {
		statusErr.Detail = strings.TrimSpace(string(body))
	}
	return statusErr
}
