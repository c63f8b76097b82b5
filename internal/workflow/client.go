package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/media-transcriber/internal/audio"
	"github.com/skypro1111/media-transcriber/internal/objectstore"
)

// Client submits audio for asynchronous recognition and queries results
type Client interface {
	Submit(ctx context.Context, a audio.Audio, metadata string, timeouts Timeouts) (string, error)
	GetResult(ctx context.Context, runID string) (*RecognitionTaskResult, error)
}

// LocalClient submits runs to an Engine in the same process
type LocalClient struct {
	objects *objectstore.AudioStore
	engine  *Engine
}

// NewLocalClient creates a client for engine
func NewLocalClient(objects *objectstore.AudioStore, engine *Engine) *LocalClient {
	return &LocalClient{objects: objects, engine: engine}
}

// Submit stores a under a fresh id and starts a run with the same id
func (c *LocalClient) Submit(ctx context.Context, a audio.Audio, metadata string, timeouts Timeouts) (string, error) {
	runID := uuid.NewString()

	if err := c.objects.Create(ctx, runID, a); err != nil {
		return "", fmt.Errorf("failed to store audio: %w", err)
	}

	if err := c.engine.Start(ctx, runID, Params{Metadata: metadata, Timeouts: timeouts}); err != nil {
		// The run never existed, so nothing else will delete the object
		_ = c.objects.Delete(context.WithoutCancel(ctx), runID)
		return "", fmt.Errorf("failed to start run: %w", err)
	}

	return runID, nil
}

// GetResult implements Client
func (c *LocalClient) GetResult(ctx context.Context, runID string) (*RecognitionTaskResult, error) {
	return c.engine.GetResult(ctx, runID)
}

// SubmitRequest is the body of POST /api/v1/runs
type SubmitRequest struct {
	RunID    string   `json:"run_id"`
	Metadata string   `json:"metadata"`
	Timeouts Timeouts `json:"timeouts"`
}

// SubmitResponse is the body returned by POST /api/v1/runs
type SubmitResponse struct {
	RunID string `json:"run_id"`
}

// HTTPClient submits runs to a remote worker's run API. The audio goes to
// the shared object store first; the run is then started under its id.
type HTTPClient struct {
	baseURL    string
	objects    *objectstore.AudioStore
	httpClient *http.Client
}

// NewHTTPClient creates a client for the worker at baseURL
func NewHTTPClient(baseURL string, objects *objectstore.AudioStore, timeout time.Duration) (*HTTPClient, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid workflow URL %q: %w", baseURL, err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		objects:    objects,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Submit implements Client
func (c *HTTPClient) Submit(ctx context.Context, a audio.Audio, metadata string, timeouts Timeouts) (string, error) {
	runID := uuid.NewString()

	if err := c.objects.Create(ctx, runID, a); err != nil {
		return "", fmt.Errorf("failed to store audio: %w", err)
	}

	body, err := json.Marshal(SubmitRequest{RunID: runID, Metadata: metadata, Timeouts: timeouts})
	if err != nil {
		return "", fmt.Errorf("failed to encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/runs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = c.objects.Delete(context.WithoutCancel(ctx), runID)
		return "", fmt.Errorf("submit request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK, http.StatusCreated:
		return runID, nil
	case http.StatusConflict:
		return "", fmt.Errorf("%w: %s", ErrRunExists, runID)
	default:
		_ = c.objects.Delete(context.WithoutCancel(ctx), runID)
		return "", fmt.Errorf("submit returned HTTP %d: %s", resp.StatusCode, readMessage(resp.Body))
	}
}

// GetResult implements Client
func (c *HTTPClient) GetResult(ctx context.Context, runID string) (*RecognitionTaskResult, error) {
	endpoint := c.baseURL + "/api/v1/runs/" + url.PathEscape(runID) + "/result"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("result request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result RecognitionTaskResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		return &result, nil
	case http.StatusAccepted:
		return nil, fmt.Errorf("%w: %s", ErrResultPending, runID)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrRunFailed, readMessage(resp.Body))
	default:
		return nil, fmt.Errorf("result returned HTTP %d: %s", resp.StatusCode, readMessage(resp.Body))
	}
}

// ErrorResponse is the JSON error body of the run API
type ErrorResponse struct {
	Error string `json:"error"`
}

func readMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4096))

	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return errResp.Error
	}
	return strings.TrimSpace(string(body))
}
