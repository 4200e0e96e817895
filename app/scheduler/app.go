package scheduler

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"go.temporal.io/sdk/client"

	"github.com/stratocost/pricefeed/pkg/logging"
	"github.com/stratocost/pricefeed/pkg/pipeline/workflow"
	"github.com/stratocost/pricefeed/pkg/temporal"
	"github.com/stratocost/pricefeed/pkg/utils"
)

// App fires the weekly update workflow on a Cron tick. It holds no pipeline
// state itself: the workflow ID is fixed, so Temporal rejects a tick that
// lands while the previous run is still executing, and the run lease guards
// against anything started outside the scheduler.
type App struct {
	TemporalClient *temporal.Client

	// Cron triggers workflow starts according to CronSpec.
	Cron     *cron.Cron
	CronSpec string

	Provider string

	// Logger is used to log messages, errors, and events during the application's lifecycle and operations.
	Logger *zap.Logger

	// Server is the HTTP server that serves the health endpoints.
	Server *http.Server
}

// Initialize initializes the App.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	temporalClient, temporalErr := temporal.NewClient(ctx, logger)
	if temporalErr != nil {
		logger.Fatal("Unable to initialize temporal client", zap.Error(temporalErr))
	}

	app := &App{
		TemporalClient: temporalClient,
		Cron:           nil,
		// Seconds field included. Default: Mondays at 03:00 UTC.
		CronSpec: utils.Env("CRON_SPEC", "0 0 3 * * 1"),
		Provider: utils.Env("PRICING_PROVIDER", "aws"),
		Logger:   logger,
	}

	if scheduleErr := app.SetupScheduler(ctx, cron.DefaultLogger); scheduleErr != nil {
		logger.Fatal("Unable to initialize scheduler", zap.Error(scheduleErr))
	}

	app.SetupServer()

	return app
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3002")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })

	a.Server = &http.Server{Addr: addr, Handler: mux}
}

// SetupScheduler sets up the cron scheduler.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(a.CronSpec, func() {
		// keep each start attempt bounded; the workflow itself runs detached
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		a.TriggerRun(rctx)
	})

	return err
}

// TriggerRun starts the weekly update workflow. The fixed workflow ID means a
// start attempt while the previous run is still executing fails, which is the
// desired behavior: late runs are dropped, never queued.
func (a *App) TriggerRun(ctx context.Context) {
	options := client.StartWorkflowOptions{
		ID:        a.TemporalClient.GetWeeklyUpdateWorkflowID(),
		TaskQueue: a.TemporalClient.GetPipelineQueue(),
	}

	run, err := a.TemporalClient.TClient.ExecuteWorkflow(ctx, options, workflow.WeeklyUpdateWorkflowName,
		&workflow.WeeklyUpdateInput{Provider: a.Provider})
	if err != nil {
		a.Logger.Warn("[scheduler] weekly update not started (previous run may still be executing)",
			zap.Error(err))
		return
	}

	a.Logger.Info("[scheduler] weekly update workflow started",
		zap.String("workflowId", run.GetID()),
		zap.String("runId", run.GetRunID()))
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("[scheduler] Cron started", zap.String("cronSpec", a.CronSpec))
}

// StopCron stops the cron scheduler.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// Start runs the health server and cron loop until the context is cancelled.
func (a *App) Start(ctx context.Context) {
	a.StartCron()
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()
	_ = a.Server.Close()
	a.Logger.Info("[scheduler] shutting down…")
	a.StopCron()
	a.TemporalClient.Close()
	time.Sleep(200 * time.Millisecond)
}
