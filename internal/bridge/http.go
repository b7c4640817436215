package bridge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/flanker/internal/scene"
	"github.com/MrWong99/flanker/pkg/flanking"
)

// evaluateRequest is the JSON body for POST /v1/evaluate. Target accepts a
// token name when TargetID is empty. A positive MaxBonus overrides the
// configured cap; zero or omitted keeps it.
type evaluateRequest struct {
	Scene    *scene.Scene `json:"scene"`
	TargetID string       `json:"target_id"`
	Target   string       `json:"target"`
	MaxBonus int          `json:"max_bonus,omitempty"`
}

// evaluateResponse is the JSON body returned from POST /v1/evaluate.
type evaluateResponse struct {
	flanking.Result
	Summary string `json:"summary"`
}

// handleEvaluate handles POST /v1/evaluate. Nothing is stored.
func (b *Bridge) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, b.readLimit)

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := validScene(req.Scene, false); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	targetID := req.TargetID
	if targetID == "" {
		if req.Target == "" {
			http.Error(w, "target_id or target is required", http.StatusBadRequest)
			return
		}
		tok, err := req.Scene.Resolve(req.Target)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		targetID = tok.ID
	}

	opts := b.tracker.Settings().WithMaxBonus(req.MaxBonus)
	res, err := b.tracker.EvaluateWith(r.Context(), req.Scene, targetID, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scene.ErrTokenNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, evaluateResponse{Result: res, Summary: res.Summary()})
}

// handleImportFoundry handles POST /v1/import/foundry.
func (b *Bridge) handleImportFoundry(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, b.readLimit)

	sc, err := scene.ImportFoundry(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("bridge: write response failed", "err", err)
	}
}
