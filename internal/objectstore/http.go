package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// DefaultMaxObjectSize bounds a single uploaded object
const DefaultMaxObjectSize = 512 << 20

// Handler exposes a Store over HTTP:
//
//	PUT    /api/v1/objects/{id}  201, 409 if the id exists
//	GET    /api/v1/objects/{id}  200, 404 if unknown
//	DELETE /api/v1/objects/{id}  204
type Handler struct {
	store         Store
	logger        *slog.Logger
	maxObjectSize int64
}

// NewHandler creates a handler serving store
func NewHandler(store Store, maxObjectSize int64, logger *slog.Logger) *Handler {
	if maxObjectSize <= 0 {
		maxObjectSize = DefaultMaxObjectSize
	}
	return &Handler{store: store, logger: logger, maxObjectSize: maxObjectSize}
}

// Register mounts the object routes on r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/objects/{id}", h.handleCreate).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/objects/{id}", h.handleRead).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/objects/{id}", h.handleDelete).Methods(http.MethodDelete)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxObjectSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "object too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.store.Create(r.Context(), id, data); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if errors.Is(err, ErrTooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Error("Failed to create object", slog.String("id", id), slog.String("error", err.Error()))
		http.Error(w, "failed to create object", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	data, err := h.store.Read(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to read object", slog.String("id", id), slog.String("error", err.Error()))
		http.Error(w, "failed to read object", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.Error("Failed to delete object", slog.String("id", id), slog.String("error", err.Error()))
		http.Error(w, "failed to delete object", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HTTPStore is a Store client for a remote Handler
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPStore creates a client for the service at baseURL
func NewHTTPStore(baseURL string, timeout time.Duration) (*HTTPStore, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid object store URL %q: %w", baseURL, err)
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &HTTPStore{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPStore) objectURL(id string) string {
	return s.baseURL + "/api/v1/objects/" + url.PathEscape(id)
}

func (s *HTTPStore) do(ctx context.Context, method, id string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.objectURL(id), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("object store request failed: %w", err)
	}

	return resp, nil
}

// Create uploads data under id
func (s *HTTPStore) Create(ctx context.Context, id string, data []byte) error {
	if data == nil {
		data = []byte{}
	}

	resp, err := s.do(ctx, http.MethodPut, id, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", ErrTooLarge, id)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return statusError(resp)
	}

	return nil
}

// Read downloads the data stored under id
func (s *HTTPStore) Read(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.do(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	return data, nil
}

// Delete removes id; a 404 from the server counts as success
func (s *HTTPStore) Delete(ctx context.Context, id string) error {
	resp, err := s.do(ctx, http.MethodDelete, id, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("object store returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
