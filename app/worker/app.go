// Package worker hosts the Temporal worker process that executes pipeline
// workflows and activities.
package worker

import (
	"context"
	"time"

	pricingdb "github.com/stratocost/pricefeed/pkg/db/pricing"
	"github.com/stratocost/pricefeed/pkg/dump"
	"github.com/stratocost/pricefeed/pkg/logging"
	"github.com/stratocost/pricefeed/pkg/pipeline"
	"github.com/stratocost/pricefeed/pkg/pipeline/activity"
	"github.com/stratocost/pricefeed/pkg/pipeline/workflow"
	"github.com/stratocost/pricefeed/pkg/redis"
	"github.com/stratocost/pricefeed/pkg/temporal"
	"go.temporal.io/sdk/worker"
	temporalworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

type App struct {
	Worker         worker.Worker
	TemporalClient *temporal.Client
	Db             *pricingdb.DB
	RedisClient    *redis.Client
	Logger         *zap.Logger
}

// Start starts the worker and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	if err := a.Worker.Start(); err != nil {
		a.Logger.Fatal("Unable to start worker", zap.Error(err))
	}
	<-ctx.Done()
	a.Stop()
}

// Stop stops the worker and closes the backing connections.
func (a *App) Stop() {
	a.Worker.Stop()
	a.TemporalClient.Close()
	if err := a.Db.Close(); err != nil {
		a.Logger.Warn("Error closing database", zap.Error(err))
	}
	if err := a.RedisClient.Close(); err != nil {
		a.Logger.Warn("Error closing redis", zap.Error(err))
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("Worker stopped")
}

// Initialize wires the worker application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	db, err := pricingdb.New(ctx, logger, "worker")
	if err != nil {
		logger.Fatal("Unable to initialize pricing database", zap.Error(err))
	}

	redisClient, err := redis.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to connect to Redis", zap.Error(err))
	}

	temporalClient, err := temporal.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to establish temporal connection", zap.Error(err))
	}

	pipe := pipeline.New(logger, db, redisClient, dump.NewClient(logger))

	activityContext := &activity.Context{
		Logger:   logger,
		Pipeline: pipe,
		Store:    db,
	}
	workflowContext := &workflow.Context{
		TemporalClient:  temporalClient,
		ActivityContext: activityContext,
	}

	wkr := worker.New(
		temporalClient.TClient,
		temporalClient.GetPipelineQueue(),
		worker.Options{
			// Runs are single-flight; a small worker is deliberate.
			MaxConcurrentWorkflowTaskPollers:   2,
			MaxConcurrentActivityTaskPollers:   2,
			MaxConcurrentActivityExecutionSize: 4,
			WorkerStopTimeout:                  1 * time.Minute,
		},
	)

	wkr.RegisterWorkflowWithOptions(
		workflowContext.WeeklyUpdateWorkflow,
		temporalworkflow.RegisterOptions{Name: workflow.WeeklyUpdateWorkflowName},
	)
	wkr.RegisterActivity(activityContext.BeginRun)
	wkr.RegisterActivity(activityContext.StageDump)
	wkr.RegisterActivity(activityContext.NormalizePrices)
	wkr.RegisterActivity(activityContext.MaterializeFeatures)
	wkr.RegisterActivity(activityContext.CompleteRun)
	wkr.RegisterActivity(activityContext.FailRun)
	wkr.RegisterActivity(activityContext.RepairOnline)

	return &App{
		Worker:         wkr,
		TemporalClient: temporalClient,
		Db:             db,
		RedisClient:    redisClient,
		Logger:         logger,
	}
}
