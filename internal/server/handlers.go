package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vk/fedgridgo/internal/ctxlog"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctxlog.FromContext(r.Context()).Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Kind: "invalid_argument", Message: fmt.Sprintf("decoding request body: %v", err)})
		return
	}

	h, err := s.factory.CreateExecutor(r.Context(), req.cardinalities())
	if err != nil {
		status, body := classify(err)
		writeError(w, status, body)
		return
	}

	id := h.ID().String()
	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()

	logger.Info("▶️ Executor created.", "executor_id", id, "key", h.Key())
	writeJSON(w, http.StatusCreated, createResponse{ExecutorID: id})
}

func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(r.Context())

	id := r.PathValue("id")
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, errorBody{Kind: "unknown_executor", Message: fmt.Sprintf("no executor with id %q", id)})
		return
	}

	var req computeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Kind: "invalid_argument", Message: fmt.Sprintf("decoding request body: %v", err)})
		return
	}
	arg, err := req.federatedValue()
	if err != nil {
		status, body := classify(err)
		writeError(w, status, body)
		return
	}

	started := time.Now()
	out, err := s.factory.Execute(r.Context(), h, req.computation(), arg)
	s.metrics.computationDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		logger.Warn("Computation failed.", "executor_id", id, "computation", req.computation().String(), "error", err)
		status, body := classify(err)
		writeError(w, status, body)
		return
	}

	wire, err := toWire(out)
	if err != nil {
		status, body := classify(err)
		writeError(w, status, body)
		return
	}
	logger.Debug("✅ Computation finished.", "executor_id", id, "computation", req.computation().String())
	writeJSON(w, http.StatusOK, computeResponse{Value: wire})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(r.Context())

	id := r.PathValue("id")
	s.mu.Lock()
	h, ok := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()
	if !ok {
		// Releasing an unknown or already-released executor is a no-op,
		// mirroring the factory's release contract.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.factory.ReleaseExecutor(r.Context(), h); err != nil {
		status, body := classify(err)
		writeError(w, status, body)
		return
	}
	logger.Info("🔥 Executor released.", "executor_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, errorResponse{Error: body})
}
