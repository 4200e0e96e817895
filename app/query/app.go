// Package query hosts the read-only HTTP surface over the pricing tables and
// the online feature store.
package query

import (
	"context"

	"github.com/stratocost/pricefeed/app/query/types"
	pricingdb "github.com/stratocost/pricefeed/pkg/db/pricing"
	"github.com/stratocost/pricefeed/pkg/dump"
	"github.com/stratocost/pricefeed/pkg/logging"
	"github.com/stratocost/pricefeed/pkg/pipeline"
	"github.com/stratocost/pricefeed/pkg/redis"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	db, err := pricingdb.New(ctx, logger, "query")
	if err != nil {
		logger.Fatal("Unable to initialize pricing database", zap.Error(err))
	}

	redisClient, err := redis.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to connect to Redis", zap.Error(err))
	}

	return &types.App{
		Db:          db,
		RedisClient: redisClient,
		Pipeline:    pipeline.New(logger, db, redisClient, dump.NewClient(logger)),
		Logger:      logger,
	}
}
