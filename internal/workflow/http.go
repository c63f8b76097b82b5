package workflow

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// Handler exposes the run API of an Engine:
//
//	POST /api/v1/runs              202 {run_id}, 409 if the run exists
//	GET  /api/v1/runs/{id}         200 RunStatus, 404
//	GET  /api/v1/runs/{id}/result  200 result, 202 pending, 404, 409 failed
type Handler struct {
	engine *Engine
	logger *slog.Logger
}

// NewHandler creates a handler for engine
func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// Register mounts the run routes on r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/runs", h.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/runs/{id}", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/runs/{id}/result", h.handleResult).Methods(http.MethodGet)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	err := h.engine.Start(r.Context(), req.RunID, Params{Metadata: req.Metadata, Timeouts: req.Timeouts})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, SubmitResponse{RunID: req.RunID})
	case errors.Is(err, ErrRunExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrEngineStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("Failed to start run", slog.String("run_id", req.RunID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start run")
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status, err := h.engine.Status(r.Context(), id)
	if err != nil {
		h.writeRunError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, err := h.engine.GetResult(r.Context(), id)
	if err != nil {
		h.writeRunError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeRunError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrResultPending):
		writeError(w, http.StatusAccepted, err.Error())
	case errors.Is(err, ErrRunFailed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Failed to query run", slog.String("run_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to query run")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
