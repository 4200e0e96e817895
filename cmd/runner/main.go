// Command runner executes a single pipeline run directly, without Temporal.
// Useful for local development and one-off backfills.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	pricingdb "github.com/stratocost/pricefeed/pkg/db/pricing"
	"github.com/stratocost/pricefeed/pkg/dump"
	"github.com/stratocost/pricefeed/pkg/logging"
	"github.com/stratocost/pricefeed/pkg/pipeline"
	"github.com/stratocost/pricefeed/pkg/redis"
	"go.uber.org/zap"
)

func main() {
	provider := flag.String("provider", "", "pricing provider to ingest (default: PRICING_PROVIDER or aws)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	db, err := pricingdb.New(ctx, logger, "runner")
	if err != nil {
		logger.Fatal("Unable to initialize pricing database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	redisClient, err := redis.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to connect to Redis", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()

	pipe := pipeline.New(logger, db, redisClient, dump.NewClient(logger))

	run, err := pipe.RunWeeklyUpdate(ctx, pipeline.Options{Provider: *provider})
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInFlight) {
			logger.Warn("Another run is already in flight, exiting")
			os.Exit(2)
		}
		logger.Error("Run failed", zap.Error(err))
		if run != nil {
			fmt.Println(pipeline.Summary(run))
		}
		os.Exit(1)
	}

	fmt.Println(pipeline.Summary(run))
}
