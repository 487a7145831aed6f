package status

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/state"
)

func newRouter(t *testing.T) (*mux.Router, *Board, *state.Store) {
	t.Helper()
	store, err := state.NewStore(filepath.Join(t.TempDir(), "trainer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	board := NewBoard("run-1")
	r := mux.NewRouter()
	SetupRoutes(r, NewHandler(board, store))
	return r, board, store
}

func get(t *testing.T, r http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestStatusReflectsBoard(t *testing.T) {
	r, board, _ := newRouter(t)
	board.Update(func(s *Snapshot) {
		s.Phase = PhaseTraining
		s.GlobalStep = 1500
		s.ActiveBuckets = []int{1, 2}
		s.BestScore = 0.3
	})

	rec := get(t, r, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, PhaseTraining, snap.Phase)
	assert.Equal(t, int64(1500), snap.GlobalStep)
	assert.Equal(t, []int{1, 2}, snap.ActiveBuckets)
}

func TestHistoryIsCopied(t *testing.T) {
	r, board, _ := newRouter(t)
	h := []float64{0.5, 0.4}
	board.SetHistory(h)
	h[0] = 9

	rec := get(t, r, "/v1/history")
	var body struct {
		History []float64 `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []float64{0.5, 0.4}, body.History)
}

func TestCheckpointsFilterByKind(t *testing.T) {
	r, _, store := newRouter(t)
	run, err := store.StartRun("")
	require.NoError(t, err)
	_, _ = store.RecordCheckpoint(state.CheckpointRecord{RunID: run.RunID, Kind: state.KindRolling, GlobalStep: 500, Path: "a"})
	_, _ = store.RecordCheckpoint(state.CheckpointRecord{RunID: run.RunID, Kind: state.KindBest, GlobalStep: 500, Path: "b"})

	rec := get(t, r, "/v1/checkpoints?kind=best")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Checkpoints []state.CheckpointRecord `json:"checkpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Checkpoints, 1)
	assert.Equal(t, state.KindBest, body.Checkpoints[0].Kind)

	assert.Equal(t, http.StatusBadRequest, get(t, r, "/v1/checkpoints?kind=weird").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/v1/checkpoints?limit=-1").Code)
}

func TestMetricsInfinityAsNull(t *testing.T) {
	r, _, store := newRouter(t)
	require.NoError(t, store.RecordMetric("run-1", "ASR Perplexity", 500, math.Inf(1)))
	require.NoError(t, store.RecordMetric("run-1", "ASR Perplexity", 1000, 12.5))

	rec := get(t, r, "/v1/metrics/ASR%20Perplexity")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Points []struct {
			Step  int64    `json:"step"`
			Value *float64 `json:"value"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Points, 2)
	assert.Equal(t, int64(1000), body.Points[0].Step)
	require.NotNil(t, body.Points[0].Value)
	assert.Equal(t, 12.5, *body.Points[0].Value)
	assert.Nil(t, body.Points[1].Value)
}

func TestLedgerRoutesWithoutLedger(t *testing.T) {
	r := mux.NewRouter()
	SetupRoutes(r, NewHandler(NewBoard("x"), nil))
	assert.Equal(t, http.StatusServiceUnavailable, get(t, r, "/v1/decisions").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/v1/status").Code)
}
