package controller

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandlePrice returns the active canonical record for a digest.
func (c *Controller) HandlePrice(w http.ResponseWriter, r *http.Request) {
	digest := mux.Vars(r)["digest"]

	record, err := c.App.Db.GetActiveByDigest(r.Context(), digest)
	if err != nil {
		c.App.Logger.Error("Failed to query active record", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to query active record")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "no active record for digest")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// HandlePriceHistory returns the supersession history for a digest, most
// recent first.
func (c *Controller) HandlePriceHistory(w http.ResponseWriter, r *http.Request) {
	digest := mux.Vars(r)["digest"]

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	entries, err := c.App.Db.HistoryByDigest(r.Context(), digest, limit)
	if err != nil {
		c.App.Logger.Error("Failed to query price history", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to query price history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"digest":  digest,
		"history": entries,
	})
}

func errField(err error) zap.Field {
	return zap.Error(err)
}
