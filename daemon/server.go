package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	checkflow "github.com/petal-labs/checkflow"
	"github.com/petal-labs/checkflow/bus"
)

// Handler builds the daemon's HTTP API.
//
//	GET  /healthz            liveness probe
//	GET  /api/runs           recent runs, newest first (?limit=N)
//	GET  /api/runs/{run_id}  one run with its step results
//	POST /api/runs           trigger a pipeline run
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.handleHealthz)
	mux.HandleFunc("GET /api/runs", d.handleListRuns)
	mux.HandleFunc("GET /api/runs/{run_id}", d.handleGetRun)
	mux.HandleFunc("POST /api/runs", d.handleTriggerRun)
	return mux
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Daemon) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := d.cfg.Store.ListRuns(r.Context(), limit)
	if err != nil {
		d.log.Error("listing runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	if runs == nil {
		runs = []checkflow.RunResult{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (d *Daemon) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")

	run, err := d.cfg.Store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, bus.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found: "+runID)
			return
		}
		d.log.Error("fetching run", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "fetching run failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (d *Daemon) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	// The run outlives the request; it is detached from the request
	// context and serialized behind the run mutex like any scheduled run.
	go d.runOnce(context.WithoutCancel(r.Context()), "api")

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"triggered": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
