package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stratocost/pricefeed/pkg/db/clickhouse"
	"github.com/stratocost/pricefeed/pkg/utils"
	"go.uber.org/zap"
)

// DB is the pricing database. It holds all five pipeline tables in a single
// ClickHouse database and implements Store.
type DB struct {
	clickhouse.Client
	Name string
}

// New creates and initializes the pricing database with the pool configuration
// for the given component.
func New(ctx context.Context, logger *zap.Logger, component string) (*DB, error) {
	dbName := clickhouse.SanitizeName(utils.Env("PRICING_DB_NAME", "pricing"))
	poolConfig := clickhouse.GetPoolConfigForComponent(component)

	client, err := clickhouse.New(ctx, logger.With(
		zap.String("db", dbName),
		zap.String("component", component),
	), dbName, poolConfig)
	if err != nil {
		return nil, err
	}

	db := &DB{
		Client: client,
		Name:   dbName,
	}

	if err := db.InitializeDB(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// NewWithSharedClient wraps an existing connection pool. The database and
// tables must already exist; this constructor does not call InitializeDB.
func NewWithSharedClient(client clickhouse.Client, dbName string) *DB {
	return &DB{
		Client: client,
		Name:   clickhouse.SanitizeName(dbName),
	}
}

// Close terminates the underlying ClickHouse connection.
func (db *DB) Close() error {
	return db.Db.Close()
}

func (db *DB) GetConnection() driver.Conn {
	return db.Db
}

// InitializeDB ensures the database and all pipeline tables exist. Table
// creation is idempotent and runs in parallel.
func (db *DB) InitializeDB(ctx context.Context) error {
	initStart := time.Now()

	if err := db.CreateDbIfNotExists(ctx, db.Name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", db.Name, err)
	}

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"staging_prices", db.initStaging},
		{"canonical_prices", db.initCanonical},
		{"price_history", db.initHistory},
		{"feature_snapshots", db.initFeatures},
		{"run_records", db.initRuns},
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(initOps))

	for _, op := range initOps {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("init %s: %w", name, err)
			}
		}(op.name, op.fn)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		return err
	}

	db.Logger.Info("Pricing database initialization complete",
		zap.String("database", db.Name),
		zap.Duration("total_duration", time.Since(initStart)))

	return nil
}

// DatabaseName returns the ClickHouse database backing the pipeline.
func (db *DB) DatabaseName() string {
	return db.Name
}
