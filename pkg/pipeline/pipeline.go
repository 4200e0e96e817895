// Package pipeline implements the weekly pricing ingestion run: staging the
// provider dump, normalizing and deduplicating rows into the canonical table,
// and materializing derived features into the offline and online stores.
package pipeline

import (
	"context"
	"time"

	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
	pricingdb "github.com/stratocost/pricefeed/pkg/db/pricing"
	"github.com/stratocost/pricefeed/pkg/dump"
	"github.com/stratocost/pricefeed/pkg/retry"
	"github.com/stratocost/pricefeed/pkg/utils"
	"go.uber.org/zap"
)

// OnlineStore is the subset of the Redis client the pipeline depends on: the
// online feature projection and the single-flight run lease.
type OnlineStore interface {
	SetFeatures(ctx context.Context, digest string, fields map[string]interface{}) error
	GetFeatures(ctx context.Context, digest string) (map[string]string, error)
	AcquireRunLease(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	RenewRunLease(ctx context.Context, owner string, ttl time.Duration) error
	ReleaseRunLease(ctx context.Context, owner string) error
}

// DumpSource retrieves a local, decompressed copy of a provider's dump.
type DumpSource interface {
	Fetch(ctx context.Context, provider string) (string, error)
}

// RowReader streams staged observations out of a dump file.
type RowReader interface {
	Next(runID string) (*models.RawPriceObservation, error)
	Close() error
}

// Pipeline wires the run stages to their backing stores.
type Pipeline struct {
	Logger *zap.Logger
	Store  pricingdb.Store
	Online OnlineStore
	Dumps  DumpSource

	// OpenDump opens a fetched dump file as a row stream. Overridable in
	// tests; defaults to the CSV reader in pkg/dump.
	OpenDump func(provider, path string) (RowReader, error)

	// StageChunkSize is the bulk-insert chunk for the staging loader.
	StageChunkSize int
	// EngineBatchSize is the bounded cursor size for the dedup engine. Only
	// one batch is ever materialized at a time.
	EngineBatchSize int
	// FeatureBatchSize pages the materializer's walk over touched digests.
	FeatureBatchSize int
	// OnlineWorkers bounds concurrent online-store writes.
	OnlineWorkers int

	RetryConfig retry.Config
}

// New builds a Pipeline with configuration from the environment.
func New(logger *zap.Logger, store pricingdb.Store, online OnlineStore, dumps DumpSource) *Pipeline {
	return &Pipeline{
		Logger: logger.Named("pipeline"),
		Store:  store,
		Online: online,
		Dumps:  dumps,
		OpenDump: func(provider, path string) (RowReader, error) {
			return dump.Open(provider, path)
		},
		StageChunkSize:   utils.EnvInt("STAGE_CHUNK_SIZE", 5000),
		EngineBatchSize:  utils.EnvInt("ENGINE_BATCH_SIZE", 1000),
		FeatureBatchSize: utils.EnvInt("FEATURE_BATCH_SIZE", 500),
		OnlineWorkers:    utils.EnvInt("ONLINE_WORKERS", 8),
		RetryConfig:      retry.DefaultConfig(),
	}
}
