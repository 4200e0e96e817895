package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
	"github.com/stratocost/pricefeed/pkg/dump"
	"go.uber.org/zap"
)

// StageDump downloads the provider dump and bulk-loads it into the staging
// table in fixed-size chunks. Staging is never cleared at the start of a run:
// leftovers from a crashed run are forensic evidence. If the bulk load itself
// fails partway the whole staging area is discarded so downstream stages
// never consume a partial dump.
func (p *Pipeline) StageDump(ctx context.Context, run *models.RunRecord) error {
	path, err := p.Dumps.Fetch(ctx, run.Provider)
	if err != nil {
		return &TransientError{Op: "fetch dump", Err: err}
	}

	reader, err := p.OpenDump(run.Provider, path)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer func() { _ = reader.Close() }()

	chunk := make([]*models.RawPriceObservation, 0, p.StageChunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := p.Store.InsertStagingBatch(ctx, chunk); err != nil {
			return err
		}
		run.StagedRows += uint64(len(chunk))
		chunk = chunk[:0]
		return nil
	}

	for {
		row, err := reader.Next(run.RunID)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, dump.ErrMalformedRow) {
			run.MalformedRows++
			p.Logger.Debug("Skipping malformed dump row", zap.Error(err))
			continue
		}
		if err != nil {
			return p.failStaging(ctx, fmt.Errorf("read dump: %w", err))
		}

		chunk = append(chunk, row)
		if len(chunk) >= p.StageChunkSize {
			if err := flush(); err != nil {
				return p.failStaging(ctx, &TransientError{Op: "staging bulk insert", Err: err})
			}
		}
	}

	if err := flush(); err != nil {
		return p.failStaging(ctx, &TransientError{Op: "staging bulk insert", Err: err})
	}

	p.Logger.Info("Dump staged",
		zap.String("run_id", run.RunID),
		zap.String("provider", run.Provider),
		zap.Uint64("staged_rows", run.StagedRows),
		zap.Uint64("malformed_rows", run.MalformedRows))
	return nil
}

// failStaging truncates the half-written staging area before surfacing the
// load error.
func (p *Pipeline) failStaging(ctx context.Context, cause error) error {
	if err := p.Store.TruncateStaging(ctx); err != nil {
		p.Logger.Error("Failed to discard partial staging data", zap.Error(err))
	}
	return cause
}
