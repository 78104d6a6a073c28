// Package server is the HTTP control surface a host binary puts in
// front of an Engine: health/status probes, objective and channel
// reads, operator approve/reject calls, and collaborator-event ingest.
// Grounded on teacher pkg/server/proof_handlers.go's constructor shape
// (nil-logger defaulting, a single struct holding every handler
// method), its writeJSON/writeError response helpers, and its
// strings.TrimPrefix/HasSuffix path parsing against a bare
// http.ServeMux — this module never pulls in a router library, matching
// every HTTP surface in the pack.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/evchannel/core/pkg/engine"
	"github.com/evchannel/core/pkg/event"
	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/recovery"
)

// Handlers serves the control-surface endpoints over one Engine.
type Handlers struct {
	engine  *engine.Engine
	metrics *Metrics
	logger  *log.Logger
}

// NewHandlers builds a Handlers value. logger may be nil, in which case
// a "[ChannelAPI] " prefixed logger writing to the default destination
// is created, matching teacher's NewProofHandlers.
func NewHandlers(eng *engine.Engine, metrics *Metrics, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[ChannelAPI] ", log.LstdFlags)
	}
	return &Handlers{engine: eng, metrics: metrics, logger: logger}
}

// HandleHealthz answers liveness probes. It never touches the engine:
// a process that can serve HTTP at all is live.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus answers readiness probes with a small summary of the
// event log's current size.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	length := h.engine.Store().Len()
	if h.metrics != nil {
		h.metrics.EventLogLength.Set(float64(length))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"event_log_length": length,
	})
}

// HandleObjectives dispatches every /objectives/ request: a bare GET
// reads recovered state, POST .../approve and .../reject drive the
// engine's lifecycle calls.
func (h *Handlers) HandleObjectives(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/objectives/"), "/")
	if path == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_OBJECTIVE_ID", "objective id is required")
		return
	}
	switch {
	case r.Method == http.MethodGet:
		h.getObjective(w, path)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/approve"):
		h.approveObjective(w, strings.TrimSuffix(path, "/approve"))
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/reject"):
		h.rejectObjective(w, r, strings.TrimSuffix(path, "/reject"))
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "unsupported method or path")
	}
}

func (h *Handlers) getObjective(w http.ResponseWriter, idStr string) {
	id, err := primitives.ParseHash(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_OBJECTIVE_ID", "objective id must be a 32-byte hex hash")
		return
	}
	state, err := recovery.RecoverObjective(h.engine.Store(), h.engine.Snapshots(), id)
	if err != nil {
		h.logger.Printf("error recovering objective %s: %v", idStr, err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to recover objective state")
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) approveObjective(w http.ResponseWriter, idStr string) {
	id, err := primitives.ParseHash(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_OBJECTIVE_ID", "objective id must be a 32-byte hex hash")
		return
	}
	effects, err := h.engine.Approve(id, time.Now().UnixMilli())
	if err != nil {
		h.logger.Printf("error approving objective %s: %v", idStr, err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"effects": effects})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) rejectObjective(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := primitives.ParseHash(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_OBJECTIVE_ID", "objective id must be a 32-byte hex hash")
		return
	}
	var req rejectRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
			return
		}
	}
	if err := h.engine.Reject(id, req.Reason, time.Now().UnixMilli()); err != nil {
		h.logger.Printf("error rejecting objective %s: %v", idStr, err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if h.metrics != nil {
		h.metrics.ObjectivesRejected.Inc()
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// HandleChannels answers GET /channels/{id} with recovered channel state.
func (h *Handlers) HandleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/channels/"), "/")
	id, err := primitives.ParseHash(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_CHANNEL_ID", "channel id must be a 32-byte hex hash")
		return
	}
	state, err := recovery.RecoverChannel(h.engine.Store(), h.engine.Snapshots(), id)
	if err != nil {
		h.logger.Printf("error recovering channel %s: %v", idStr, err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to recover channel state")
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

type ingestRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// HandleIngest accepts a collaborator event (a peer's signed state, a
// chain-bridge signal relayed by a human operator, a message receipt)
// and hands it to the engine via the same IngestCollaboratorEvent path
// the chain bridge poller uses.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}
	payload, err := event.DecodePayload(event.Kind(req.Kind), req.Payload)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", fmt.Sprintf("cannot decode payload for kind %q: %v", req.Kind, err))
		return
	}
	offset, err := h.engine.IngestCollaboratorEvent(payload, time.Now().UnixMilli())
	if err != nil {
		h.logger.Printf("error ingesting collaborator event kind=%s: %v", req.Kind, err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"offset": offset})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("error encoding response: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
