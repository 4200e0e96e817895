package pipeline

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
	pricingdb "github.com/stratocost/pricefeed/pkg/db/pricing"
)

// fakeStore is an in-memory Store that mirrors the versioned-row semantics of
// the real tables: canonical rows accumulate and the latest version per
// (digest, effective_date) wins, exactly like a ReplacingMergeTree read with
// FINAL.
type fakeStore struct {
	mu        sync.Mutex
	staging   []*models.RawPriceObservation
	canonical []*models.CanonicalPriceRecord
	history   []*models.PriceHistoryEntry
	features  []*models.FeatureRecord
	runs      map[string]*models.RunRecord

	failCanonicalInserts int
	failHistoryInserts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: map[string]*models.RunRecord{}}
}

func (s *fakeStore) DatabaseName() string               { return "pricing_test" }
func (s *fakeStore) GetConnection() driver.Conn         { return nil }
func (s *fakeStore) InitializeDB(context.Context) error { return nil }
func (s *fakeStore) Close() error                       { return nil }

func (s *fakeStore) InsertStagingBatch(_ context.Context, rows []*models.RawPriceObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staging = append(s.staging, rows...)
	return nil
}

func (s *fakeStore) FetchStagingBatch(_ context.Context, runID string, lastSeq uint64, limit int) ([]*models.RawPriceObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RawPriceObservation
	for _, row := range s.staging {
		if row.RunID == runID && row.Seq > lastSeq {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) CountStaging(_ context.Context, runID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	for _, row := range s.staging {
		if row.RunID == runID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) TruncateStaging(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staging = nil
	return nil
}

// merged collapses the canonical rows the way a FINAL read would: the highest
// updated_at per (digest, effective_date) key wins.
func (s *fakeStore) merged() []*models.CanonicalPriceRecord {
	type key struct {
		digest    string
		effective time.Time
	}
	winners := map[key]*models.CanonicalPriceRecord{}
	for _, row := range s.canonical {
		k := key{row.Digest, row.EffectiveDate}
		if cur, ok := winners[k]; !ok || row.UpdatedAt.After(cur.UpdatedAt) {
			winners[k] = row
		}
	}
	out := make([]*models.CanonicalPriceRecord, 0, len(winners))
	for _, row := range winners {
		out = append(out, row)
	}
	return out
}

func (s *fakeStore) GetActiveByDigests(_ context.Context, digests []string) (map[string]*models.CanonicalPriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, d := range digests {
		want[d] = true
	}
	active := map[string]*models.CanonicalPriceRecord{}
	for _, row := range s.merged() {
		if row.IsActive == 1 && want[row.Digest] {
			if _, dup := active[row.Digest]; dup {
				return nil, pricingdb.ErrDuplicateActive
			}
			active[row.Digest] = row
		}
	}
	return active, nil
}

func (s *fakeStore) GetActiveByDigest(ctx context.Context, digest string) (*models.CanonicalPriceRecord, error) {
	active, err := s.GetActiveByDigests(ctx, []string{digest})
	if err != nil {
		return nil, err
	}
	return active[digest], nil
}

func (s *fakeStore) InsertCanonical(_ context.Context, records []*models.CanonicalPriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCanonicalInserts > 0 {
		s.failCanonicalInserts--
		return errors.New("simulated insert failure")
	}
	for _, r := range records {
		clone := *r
		s.canonical = append(s.canonical, &clone)
	}
	return nil
}

func (s *fakeStore) ActiveDigests(_ context.Context, afterDigest string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, row := range s.merged() {
		if row.IsActive == 1 && row.Digest > afterDigest && !seen[row.Digest] {
			seen[row.Digest] = true
			out = append(out, row.Digest)
		}
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) TouchedDigests(_ context.Context, runID, afterDigest string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, row := range s.merged() {
		if row.RunID == runID && row.Digest > afterDigest && !seen[row.Digest] {
			seen[row.Digest] = true
			out = append(out, row.Digest)
		}
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) CountActive(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	for _, row := range s.merged() {
		if row.IsActive == 1 {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) InsertHistory(_ context.Context, entries []*models.PriceHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failHistoryInserts > 0 {
		s.failHistoryInserts--
		return errors.New("simulated insert failure")
	}
	for _, e := range entries {
		clone := *e
		s.history = append(s.history, &clone)
	}
	return nil
}

func (s *fakeStore) HistoryByDigest(_ context.Context, digest string, limit int) ([]*models.PriceHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PriceHistoryEntry
	for _, e := range s.history {
		if e.Digest == digest {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.After(out[j].EndDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) LatestHistoryByDigests(_ context.Context, digests []string) (map[string]*models.PriceHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, d := range digests {
		want[d] = true
	}
	latest := map[string]*models.PriceHistoryEntry{}
	for _, e := range s.history {
		if !want[e.Digest] {
			continue
		}
		if cur, ok := latest[e.Digest]; !ok || e.EndDate.After(cur.EndDate) {
			latest[e.Digest] = e
		}
	}
	return latest, nil
}

func (s *fakeStore) ChangeCounts90d(_ context.Context, digests []string, asOf time.Time) (map[string]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, d := range digests {
		want[d] = true
	}
	cutoff := asOf.Add(-90 * 24 * time.Hour)
	counts := map[string]uint32{}
	for _, e := range s.history {
		if want[e.Digest] && e.EndDate.After(cutoff) {
			counts[e.Digest]++
		}
	}
	return counts, nil
}

func (s *fakeStore) InsertFeatureSnapshots(_ context.Context, records []*models.FeatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		clone := *r
		s.features = append(s.features, &clone)
	}
	return nil
}

func (s *fakeStore) LatestFeatureSnapshots(_ context.Context, digests []string) (map[string]*models.FeatureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, d := range digests {
		want[d] = true
	}
	latest := map[string]*models.FeatureRecord{}
	for _, r := range s.features {
		if !want[r.Digest] {
			continue
		}
		if cur, ok := latest[r.Digest]; !ok || r.SnapshotAt.After(cur.SnapshotAt) {
			latest[r.Digest] = r
		}
	}
	return latest, nil
}

func (s *fakeStore) FeatureSnapshotsByRun(_ context.Context, runID, afterDigest string, limit int) ([]*models.FeatureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.FeatureRecord
	for _, r := range s.features {
		if r.RunID == runID && r.Digest > afterDigest {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Digest < out[j].Digest })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) UpsertRunRecord(_ context.Context, run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.runs[run.RunID] = &clone
	return nil
}

func (s *fakeStore) GetRun(_ context.Context, runID string) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[runID], nil
}

func (s *fakeStore) GetRunningRun(context.Context) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *models.RunRecord
	for _, run := range s.runs {
		if run.Running() && (newest == nil || run.StartedAt.After(newest.StartedAt)) {
			newest = run
		}
	}
	return newest, nil
}

func (s *fakeStore) RecentRuns(_ context.Context, limit int) ([]*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ pricingdb.Store = (*fakeStore)(nil)

// fakeOnline is an in-memory online store with the same lease semantics as
// the Redis client.
type fakeOnline struct {
	mu         sync.Mutex
	features   map[string]map[string]interface{}
	leaseOwner string
	failWrites bool
}

func newFakeOnline() *fakeOnline {
	return &fakeOnline{features: map[string]map[string]interface{}{}}
}

func (o *fakeOnline) SetFeatures(_ context.Context, digest string, fields map[string]interface{}) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failWrites {
		return errors.New("simulated online failure")
	}
	o.features[digest] = fields
	return nil
}

func (o *fakeOnline) GetFeatures(_ context.Context, digest string) (map[string]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fields, ok := o.features[digest]
	if !ok {
		return nil, nil
	}
	out := map[string]string{}
	for k := range fields {
		out[k] = "set"
	}
	return out, nil
}

func (o *fakeOnline) AcquireRunLease(_ context.Context, owner string, _ time.Duration) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.leaseOwner != "" {
		return false, nil
	}
	o.leaseOwner = owner
	return true, nil
}

func (o *fakeOnline) RenewRunLease(_ context.Context, owner string, _ time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.leaseOwner != owner {
		return errors.New("lease not held")
	}
	return nil
}

func (o *fakeOnline) ReleaseRunLease(_ context.Context, owner string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.leaseOwner == owner {
		o.leaseOwner = ""
	}
	return nil
}

// fakeDump serves a fixed set of rows as the provider dump.
type fakeDump struct {
	rows []*models.RawPriceObservation
}

func (d *fakeDump) Fetch(context.Context, string) (string, error) { return "fake.csv", nil }

type sliceReader struct {
	rows []*models.RawPriceObservation
	pos  int
}

func (r *sliceReader) Next(runID string) (*models.RawPriceObservation, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := *r.rows[r.pos]
	r.pos++
	row.Seq = uint64(r.pos)
	row.RunID = runID
	return &row, nil
}

func (r *sliceReader) Close() error { return nil }
