package controller

import (
	"net/http"

	"github.com/gorilla/mux"
)

// HandleFeatures serves the feature vector for a digest. The online store is
// consulted first; when the digest has no online entry the offline snapshot
// table is the fallback, so a degraded online store still answers.
func (c *Controller) HandleFeatures(w http.ResponseWriter, r *http.Request) {
	digest := mux.Vars(r)["digest"]
	ctx := r.Context()

	fields, err := c.App.RedisClient.GetFeatures(ctx, digest)
	if err != nil {
		c.App.Logger.Warn("Online feature read failed, falling back to offline", errField(err))
	}
	if fields != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"digest":   digest,
			"source":   "online",
			"features": fields,
		})
		return
	}

	snapshots, err := c.App.Db.LatestFeatureSnapshots(ctx, []string{digest})
	if err != nil {
		c.App.Logger.Error("Failed to query feature snapshots", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to query feature snapshots")
		return
	}
	snapshot, ok := snapshots[digest]
	if !ok {
		writeError(w, http.StatusNotFound, "no features for digest")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"digest":   digest,
		"source":   "offline",
		"features": snapshot,
	})
}
