package controlapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handlers holds every HTTP handler's dependencies.
type Handlers struct {
	provider StatusProvider
	hub      *Hub
	upgrader websocket.Upgrader
}

func newHandlers(provider StatusProvider, hub *Hub) *Handlers {
	return &Handlers{
		provider: provider,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checking is delegated to the rs/cors middleware in
			// front of this handler; the upgrader itself accepts any
			// connection that made it through CORS.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleHealth answers a liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleSnapshot serves the full point-in-time status snapshot.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := BuildSnapshot(h.provider)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// setRiskLimitRequest is the body of POST /api/risk/limit.
type setRiskLimitRequest struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// HandleSetRiskLimit updates one named risk limit at runtime.
func (h *Handlers) HandleSetRiskLimit(w http.ResponseWriter, r *http.Request) {
	var req setRiskLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}
	if ok := h.provider.RiskManager().SetLimit(req.Name, req.Value); !ok {
		http.Error(w, fmt.Sprintf("unknown risk limit %q", req.Name), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// activateRequest is the body of POST /api/circuit-breaker/activate.
type activateRequest struct {
	Reason string `json:"reason"`
}

// HandleActivateCircuitBreaker manually trips the circuit breaker.
func (h *Handlers) HandleActivateCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "manual activation via control API"
	}
	h.provider.RiskManager().Activate(req.Reason)
	w.WriteHeader(http.StatusNoContent)
}

// HandleResetCircuitBreaker clears a manual trip.
func (h *Handlers) HandleResetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	h.provider.RiskManager().Reset()
	w.WriteHeader(http.StatusNoContent)
}

// HandleIsCircuitBreakerActive reports the current breaker state.
func (h *Handlers) HandleIsCircuitBreakerActive(w http.ResponseWriter, r *http.Request) {
	active, reason := h.provider.RiskManager().IsCircuitBreakerActive()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"active": active, "reason": reason})
}

// HandleWebSocket upgrades the connection and starts pushing live events.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := NewClient(h.hub, conn)

	snapshot := BuildSnapshot(h.provider)
	data, err := json.Marshal(map[string]any{"type": "snapshot", "data": snapshot})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}
