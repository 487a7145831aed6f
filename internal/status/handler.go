package status

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/state"
)

// Ledger is the read side of the trainer database.
type Ledger interface {
	ListCheckpoints(kind state.CheckpointKind, includePruned bool, limit int) ([]state.CheckpointRecord, error)
	ListMetrics(name string, limit int) ([]state.MetricRecord, error)
	ListDecisions(limit int) ([]state.DecisionRecord, error)
}

// Handler serves the read-only status API.
type Handler struct {
	board  *Board
	ledger Ledger
}

// NewHandler creates a handler. ledger may be nil, in which case the
// ledger-backed routes return 503.
func NewHandler(board *Board, ledger Ledger) *Handler {
	return &Handler{board: board, ledger: ledger}
}

// SetupRoutes registers the status endpoints under /v1.
func SetupRoutes(r *mux.Router, h *Handler) {
	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/history", h.GetHistory).Methods("GET")
	api.HandleFunc("/checkpoints", h.ListCheckpoints).Methods("GET")
	api.HandleFunc("/metrics/{name}", h.ListMetrics).Methods("GET")
	api.HandleFunc("/decisions", h.ListDecisions).Methods("GET")
}

// GetStatus returns the current board snapshot.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.board.Snapshot())
}

// GetHistory returns the error history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"history": h.board.History()})
}

// ListCheckpoints returns checkpoint rows, optionally filtered by ?kind=.
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	kind := state.CheckpointKind(r.URL.Query().Get("kind"))
	if kind != "" && kind != state.KindRolling && kind != state.KindBest {
		http.Error(w, "Invalid kind", http.StatusBadRequest)
		return
	}
	includePruned := r.URL.Query().Get("pruned") == "true"

	rows, err := h.ledger.ListCheckpoints(kind, includePruned, limit)
	if err != nil {
		http.Error(w, "Failed to list checkpoints: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": rows})
}

// ListMetrics returns recent values of one summary. Infinite values are
// reported as null.
func (h *Handler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rows, err := h.ledger.ListMetrics(mux.Vars(r)["name"], limit)
	if err != nil {
		http.Error(w, "Failed to list metrics: "+err.Error(), http.StatusInternalServerError)
		return
	}

	type point struct {
		Step  int64    `json:"step"`
		Value *float64 `json:"value"`
	}
	points := make([]point, 0, len(rows))
	for _, row := range rows {
		p := point{Step: row.Step}
		if !math.IsInf(row.Value, 0) && !math.IsNaN(row.Value) {
			v := row.Value
			p.Value = &v
		}
		points = append(points, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": mux.Vars(r)["name"], "points": points})
}

// ListDecisions returns recent scheduler decisions.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rows, err := h.ledger.ListDecisions(limit)
	if err != nil {
		http.Error(w, "Failed to list decisions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": rows})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return 0, false
		}
		limit = n
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
