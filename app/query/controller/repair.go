package controller

import (
	"net/http"

	"go.uber.org/zap"
)

// HandleRepairOnline rebuilds the online feature store from the offline
// snapshot table. It walks every active digest, so it can take a while on a
// large catalog; the caller's request context bounds the walk.
func (c *Controller) HandleRepairOnline(w http.ResponseWriter, r *http.Request) {
	repaired, err := c.App.Pipeline.RepairOnline(r.Context())
	if err != nil {
		c.App.Logger.Error("Online repair failed",
			zap.Uint64("repaired", repaired),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"repaired": repaired,
			"error":    err.Error(),
		})
		return
	}

	c.App.Logger.Info("Online repair complete", zap.Uint64("repaired", repaired))
	writeJSON(w, http.StatusOK, map[string]interface{}{"repaired": repaired})
}
