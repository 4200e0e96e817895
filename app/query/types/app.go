package types

import (
	"context"
	"net/http"
	"time"

	pricingdb "github.com/stratocost/pricefeed/pkg/db/pricing"
	"github.com/stratocost/pricefeed/pkg/pipeline"
	"github.com/stratocost/pricefeed/pkg/redis"
	"go.uber.org/zap"
)

type App struct {
	Db          *pricingdb.DB
	RedisClient *redis.Client
	// Pipeline is used only for the read-repair endpoint; the query app
	// never runs ingestion.
	Pipeline *pipeline.Pipeline
	Logger   *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests.
	Server *http.Server
}

// Start starts the application and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Db.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}
	if err := a.RedisClient.Close(); err != nil {
		a.Logger.Error("Failed to close redis connection", zap.Error(err))
	}
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("Failed to shutdown server", zap.Error(err))
	}
}
