package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/skypro1111/media-transcriber/internal/objectstore"
	"github.com/skypro1111/media-transcriber/internal/transcription"
)

// ErrActivityRejected is returned when a recognition worker refuses a segment
// for a reason another attempt cannot fix
var ErrActivityRejected = errors.New("activity rejected by worker")

// RemoteActivities runs recognition on remote workers and everything else on
// the wrapped activities. Each Recognize call is one request to the next
// worker in turn, so a retried attempt lands on a different worker.
type RemoteActivities struct {
	Activities

	workers    []string
	httpClient *http.Client
	next       atomic.Uint64
	logger     *slog.Logger
}

// NewRemoteActivities dispatches Recognize across workers. Request deadlines
// come from the engine's step timeouts.
func NewRemoteActivities(local Activities, workers []string, logger *slog.Logger) (*RemoteActivities, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("at least one recognition worker is required")
	}

	urls := make([]string, len(workers))
	for i, worker := range workers {
		if _, err := url.ParseRequestURI(worker); err != nil {
			return nil, fmt.Errorf("invalid recognition worker URL %q: %w", worker, err)
		}
		urls[i] = strings.TrimSuffix(worker, "/")
	}

	return &RemoteActivities{
		Activities: local,
		workers:    urls,
		httpClient: &http.Client{},
		logger:     logger,
	}, nil
}

// Recognize implements Activities
func (a *RemoteActivities) Recognize(ctx context.Context, segmentID string) (transcription.Result, error) {
	worker := a.workers[(a.next.Add(1)-1)%uint64(len(a.workers))]
	endpoint := worker + "/api/v1/activities/recognize/" + url.PathEscape(segmentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	a.logger.Debug("Dispatching recognition",
		slog.String("segment_id", segmentID),
		slog.String("worker", worker),
	)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("recognition request to %s failed: %w", worker, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result transcription.Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return transcription.Result{}, fmt.Errorf("failed to decode recognition result: %w", err)
		}
		return result, nil
	case http.StatusNotFound:
		return transcription.Result{}, fmt.Errorf("%w: segment %s", objectstore.ErrNotFound, segmentID)
	case http.StatusUnprocessableEntity:
		return transcription.Result{}, fmt.Errorf("%w: %s", ErrActivityRejected, readMessage(resp.Body))
	default:
		return transcription.Result{}, fmt.Errorf("recognition on %s returned HTTP %d: %s",
			worker, resp.StatusCode, readMessage(resp.Body))
	}
}

// ActivityHandler exposes recognition to a remote engine:
//
//	POST /api/v1/activities/recognize/{id}  200 result, 404 missing segment, 422 rejected
//
// Every request is a single attempt.
type ActivityHandler struct {
	activities Activities
	logger     *slog.Logger
}

// NewActivityHandler creates a handler over activities
func NewActivityHandler(activities Activities, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{activities: activities, logger: logger}
}

// Register mounts the activity routes on r
func (h *ActivityHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/activities/recognize/{id}", h.handleRecognize).Methods(http.MethodPost)
}

func (h *ActivityHandler) handleRecognize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, err := h.activities.Recognize(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, objectstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case !Retryable(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Warn("Recognition attempt failed", slog.String("segment_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

var _ Activities = (*RemoteActivities)(nil)
