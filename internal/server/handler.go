package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"drivergen/internal/driver"
	"drivergen/internal/runsvc"
)

// Handler routes the JSON API. Run execution happens in runsvc; this layer
// only decodes, dispatches, and encodes. base bounds the lifetime of
// launched runs: they outlive their originating request but not shutdown.
type Handler struct {
	base context.Context
	svc  *runsvc.Service
	mux  *http.ServeMux
}

func NewHandler(base context.Context, svc *runsvc.Service) *Handler {
	h := &Handler{base: base, svc: svc, mux: http.NewServeMux()}
	h.mux.HandleFunc("/healthz", h.handleHealth)
	h.mux.HandleFunc("/v1/runs", h.handleRuns)
	h.mux.HandleFunc("/v1/runs/", h.handleRunByID)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRunRequest struct {
	Target   string              `json:"target"`
	Prompt   string              `json:"prompt"`
	Contract driver.ContractSpec `json:"contract"`
	Hints    []string            `json:"hints,omitempty"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.startRun(w, r)
	case http.MethodGet:
		h.listRuns(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var body startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	req := driver.ArtifactRequest{
		Target:   firstNonEmpty(strings.TrimSpace(body.Target), "driver.go"),
		Prompt:   body.Prompt,
		Contract: body.Contract,
	}
	if req.Contract.ResultKind == "" {
		req.Contract.ResultKind = driver.ResultKindIdentifierList
	}
	req = req.WithHints(body.Hints)

	// The run outlives this request; it is cancelled only by shutdown.
	runID := h.svc.Start(h.base, req)
	log.Printf("server: accepted run %s for %s", runID, req.Target)
	writeJSON(w, http.StatusAccepted, startRunResponse{RunID: runID})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	writeJSON(w, http.StatusOK, h.svc.List(limit))
}

func (h *Handler) handleRunByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "run id is required")
		return
	}
	if id, ok := strings.CutSuffix(rest, "/events"); ok {
		h.streamEvents(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, ok := h.svc.Get(rest)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
