// Package content provides the repositories for notices, awareness content and
// community events on top of the local durable cache.
package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dbt-portal/dbtsync/internal/logging"
	"github.com/dbt-portal/dbtsync/internal/storage"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrUnknownCollection = errors.New("unknown collection")
)

// Store is the subset of the durable cache used by the repositories.
type Store interface {
	Get(ctx context.Context, key string, v any) error
	Put(ctx context.Context, key string, v any) error
	Exists(ctx context.Context, key string) bool
}

// LoadResult is the outcome of loading a collection. Records is never nil.
// Err is set when the stored value could not be read; Records is then empty
// and the stored value is left as it was.
type LoadResult struct {
	Records []types.ContentRecord
	Seeded  bool
	Err     error
}

// Degraded reports whether the load fell back to an empty collection.
func (r LoadResult) Degraded() bool {
	return r.Err != nil
}

// Draft holds the fields an administrator supplies for a new record.
type Draft struct {
	types.Payload
	Tags     []string
	IsActive bool
}

// Change is the result of a mutation: the affected record and the full
// collection as persisted afterwards, newest first.
type Change struct {
	Record types.ContentRecord
	All    []types.ContentRecord
}

// Repository reads and writes the content collections. Every read-modify-write
// runs under one mutex, so a local edit and an inbound broadcast never
// interleave between the read and the write.
type Repository struct {
	store Store
	seeds map[types.Collection][]types.ContentRecord
	now   func() time.Time
	log   zerolog.Logger

	mu     sync.Mutex
	lastID int64
}

// Option configures a Repository.
type Option func(*Repository)

// WithSeeds replaces the default seed data.
func WithSeeds(seeds map[types.Collection][]types.ContentRecord) Option {
	return func(r *Repository) {
		r.seeds = seeds
	}
}

// WithClock sets the clock used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// NewRepository creates a repository over store.
func NewRepository(store Store, opts ...Option) *Repository {
	r := &Repository{
		store: store,
		now:   time.Now,
		log:   logging.Component("content"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.seeds == nil {
		r.seeds = DefaultSeeds()
	}
	return r
}

// Load returns the stored collection. When nothing was ever stored, seed is
// written and returned instead. A stored value that cannot be decoded is
// logged and reported through LoadResult.Err; the caller still gets an empty
// collection.
func (r *Repository) Load(ctx context.Context, c types.Collection, seed []types.ContentRecord) LoadResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx, c, seed)
}

func (r *Repository) load(ctx context.Context, c types.Collection, seed []types.ContentRecord) LoadResult {
	if !c.Valid() {
		return LoadResult{Records: []types.ContentRecord{}, Err: fmt.Errorf("%w: %q", ErrUnknownCollection, c)}
	}

	if !r.store.Exists(ctx, string(c)) {
		records := cloneRecords(seed)
		if err := r.store.Put(ctx, string(c), records); err != nil {
			r.log.Warn().Err(err).Str("collection", string(c)).Msg("failed to persist seed data")
			return LoadResult{Records: records, Seeded: true, Err: err}
		}
		r.log.Debug().Str("collection", string(c)).Int("records", len(records)).Msg("seeded collection")
		return LoadResult{Records: records, Seeded: true}
	}

	var records []types.ContentRecord
	if err := r.store.Get(ctx, string(c), &records); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Removed between Exists and Get; treat as empty rather than reseeding.
			return LoadResult{Records: []types.ContentRecord{}}
		}
		r.log.Warn().Err(err).Str("collection", string(c)).Msg("cached collection unreadable, using empty collection")
		return LoadResult{Records: []types.ContentRecord{}, Err: err}
	}
	if records == nil {
		records = []types.ContentRecord{}
	}
	return LoadResult{Records: records}
}

// read loads c with its default seed data.
func (r *Repository) read(ctx context.Context, c types.Collection) LoadResult {
	return r.load(ctx, c, r.seeds[c])
}

// Save overwrites the whole collection.
func (r *Repository) Save(ctx context.Context, c types.Collection, records []types.ContentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ctx, c, records)
}

func (r *Repository) save(ctx context.Context, c types.Collection, records []types.ContentRecord) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	if records == nil {
		records = []types.ContentRecord{}
	}
	return r.store.Put(ctx, string(c), records)
}

// Replace overwrites c with records received from elsewhere, normalizing
// tags and stamping the collection's kind.
func (r *Repository) Replace(ctx context.Context, c types.Collection, records []types.ContentRecord) ([]types.ContentRecord, error) {
	out := make([]types.ContentRecord, len(records))
	for i, rec := range records {
		rec.Tags = types.NormalizeTags(rec.Tags)
		if rec.Kind == "" {
			rec.Kind = c.Kind()
		}
		out[i] = rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.save(ctx, c, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create prepends a new record to c and persists the collection.
func (r *Repository) Create(ctx context.Context, c types.Collection, draft Draft) (Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.Valid() {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	res := r.read(ctx, c)

	now := r.now().UnixMilli()
	rec := types.ContentRecord{
		ID:        r.nextID(now, res.Records),
		Kind:      c.Kind(),
		Payload:   draft.Payload,
		Tags:      types.NormalizeTags(draft.Tags),
		IsActive:  draft.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	all := append([]types.ContentRecord{rec}, res.Records...)
	if err := r.save(ctx, c, all); err != nil {
		return Change{}, err
	}
	return Change{Record: rec, All: all}, nil
}

// nextID returns a millisecond timestamp id that is greater than every id
// this repository has handed out and unused within existing.
func (r *Repository) nextID(now int64, existing []types.ContentRecord) int64 {
	id := now
	if id <= r.lastID {
		id = r.lastID + 1
	}
	used := make(map[int64]bool, len(existing))
	for _, rec := range existing {
		used[rec.ID] = true
	}
	for used[id] {
		id++
	}
	r.lastID = id
	return id
}

// Update applies fn to the record with the given id and bumps its UpdatedAt.
func (r *Repository) Update(ctx context.Context, c types.Collection, id int64, fn func(*types.ContentRecord)) (Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.Valid() {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	res := r.read(ctx, c)

	idx := indexOf(res.Records, id)
	if idx < 0 {
		return Change{}, fmt.Errorf("%w: %s/%d", ErrRecordNotFound, c, id)
	}

	all := cloneRecords(res.Records)
	rec := &all[idx]
	fn(rec)
	rec.ID = id
	rec.Tags = types.NormalizeTags(rec.Tags)
	rec.UpdatedAt = r.now().UnixMilli()

	if err := r.save(ctx, c, all); err != nil {
		return Change{}, err
	}
	return Change{Record: *rec, All: all}, nil
}

// SetActive toggles whether the record is shown to citizens.
func (r *Repository) SetActive(ctx context.Context, c types.Collection, id int64, active bool) (Change, error) {
	return r.Update(ctx, c, id, func(rec *types.ContentRecord) {
		rec.IsActive = active
	})
}

// Remove deletes the record with the given id from c.
func (r *Repository) Remove(ctx context.Context, c types.Collection, id int64) (Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.Valid() {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	res := r.read(ctx, c)

	idx := indexOf(res.Records, id)
	if idx < 0 {
		return Change{}, fmt.Errorf("%w: %s/%d", ErrRecordNotFound, c, id)
	}

	removed := res.Records[idx]
	all := make([]types.ContentRecord, 0, len(res.Records)-1)
	all = append(all, res.Records[:idx]...)
	all = append(all, res.Records[idx+1:]...)

	if err := r.save(ctx, c, all); err != nil {
		return Change{}, err
	}
	return Change{Record: removed, All: all}, nil
}

// List returns every record in c, newest first. Administrative views use it.
func (r *Repository) List(ctx context.Context, c types.Collection) []types.ContentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(ctx, c).Records
}

// ListActive returns the records in c that citizens may see, newest first.
func (r *Repository) ListActive(ctx context.Context, c types.Collection) []types.ContentRecord {
	all := r.List(ctx, c)
	active := make([]types.ContentRecord, 0, len(all))
	for _, rec := range all {
		if rec.IsActive {
			active = append(active, rec)
		}
	}
	return active
}

// Get returns the record with the given id.
func (r *Repository) Get(ctx context.Context, c types.Collection, id int64) (types.ContentRecord, bool) {
	all := r.List(ctx, c)
	if idx := indexOf(all, id); idx >= 0 {
		return all[idx], true
	}
	return types.ContentRecord{}, false
}

// Seed returns the default seed data for c.
func (r *Repository) Seed(c types.Collection) []types.ContentRecord {
	return cloneRecords(r.seeds[c])
}

func indexOf(records []types.ContentRecord, id int64) int {
	for i, rec := range records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func cloneRecords(records []types.ContentRecord) []types.ContentRecord {
	out := make([]types.ContentRecord, len(records))
	copy(out, records)
	return out
}
