package controller

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/stratocost/pricefeed/pkg/pipeline"
)

// HandleRuns returns recent pipeline runs, newest first.
func (c *Controller) HandleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	runs, err := c.App.Db.RecentRuns(r.Context(), limit)
	if err != nil {
		c.App.Logger.Error("Failed to query runs", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to query runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// HandleRun returns one run with its human-readable summary.
func (c *Controller) HandleRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	run, err := c.App.Db.GetRun(r.Context(), runID)
	if err != nil {
		c.App.Logger.Error("Failed to query run", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to query run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":     run,
		"summary": pipeline.Summary(run),
	})
}
