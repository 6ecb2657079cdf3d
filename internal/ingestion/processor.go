// Package ingestion turns the published sheet into a record snapshot.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boletin/backend/internal/feed"
	"github.com/boletin/backend/internal/metrics"
	"github.com/boletin/backend/internal/storage/models"
	"github.com/boletin/backend/internal/store"
	"github.com/boletin/backend/pkg/logger"
	"github.com/boletin/backend/pkg/utils"
)

var ErrNoFeed = errors.New("no feed configured")

type Fetcher interface {
	Fetch(ctx context.Context) (*feed.Document, error)
	Source() string
}

// SnapshotRepository persists the last good snapshot and the load history.
type SnapshotRepository interface {
	SaveSnapshot(ctx context.Context, snap *store.Snapshot) error
	LatestSnapshot(ctx context.Context) (*store.Snapshot, error)
	RecordLoad(ctx context.Context, ev *models.LoadEvent) error
}

// HistoryPruner is implemented by repositories that can expire old load
// events.
type HistoryPruner interface {
	PruneLoads(ctx context.Context, cutoff time.Time) (int64, error)
}

// Processor is the only writer of the record store. Loads run one at a
// time, so the last load to finish is the one that stays.
type Processor struct {
	fetcher       Fetcher
	store         *store.Store
	repo          SnapshotRepository
	format        Format
	reloadTimeout time.Duration
	retention     time.Duration
	now           func() time.Time

	loadMu sync.Mutex

	mu        sync.RWMutex
	listeners []func(models.LoadEvent)
}

type Option func(*Processor)

func WithRepository(repo SnapshotRepository) Option {
	return func(p *Processor) { p.repo = repo }
}

func WithFormat(format Format) Option {
	return func(p *Processor) { p.format = format }
}

func WithReloadTimeout(d time.Duration) Option {
	return func(p *Processor) { p.reloadTimeout = d }
}

// WithHistoryRetention keeps load events for d. Zero keeps them forever.
func WithHistoryRetention(d time.Duration) Option {
	return func(p *Processor) { p.retention = d }
}

// NewProcessor builds a processor. fetcher may be nil when the sheet is only
// ever uploaded.
func NewProcessor(fetcher Fetcher, st *store.Store, opts ...Option) *Processor {
	p := &Processor{
		fetcher:       fetcher,
		store:         st,
		format:        FormatAuto,
		reloadTimeout: time.Minute,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	st.OnReplace(func(snap *store.Snapshot) {
		metrics.RecordsLoaded.Set(float64(len(snap.Records)))
	})
	return p
}

// OnLoad registers fn to receive every load outcome, failures included.
func (p *Processor) OnLoad(fn func(models.LoadEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Load fetches the sheet and replaces the snapshot. On error the previous
// snapshot stays in place.
func (p *Processor) Load(ctx context.Context) (*models.LoadEvent, error) {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	return p.loadFromFeed(ctx)
}

// LoadBody ingests a sheet supplied directly, e.g. an upload.
func (p *Processor) LoadBody(ctx context.Context, source string, body []byte, contentType string) (*models.LoadEvent, error) {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	ev := p.newEvent(source)
	return p.ingest(ctx, ev, body, contentType)
}

// TriggerReload starts a background load unless one is already running.
func (p *Processor) TriggerReload() bool {
	if p.fetcher == nil {
		return false
	}
	if !p.loadMu.TryLock() {
		return false
	}

	go func() {
		defer p.loadMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), p.reloadTimeout)
		defer cancel()
		if _, err := p.loadFromFeed(ctx); err != nil {
			logger.Warn("On-demand reload failed", zap.Error(err))
		}
	}()
	return true
}

// Restore loads the persisted snapshot when the store is still empty.
func (p *Processor) Restore(ctx context.Context) (bool, error) {
	if p.repo == nil {
		return false, nil
	}

	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	if p.store.Snapshot() != nil {
		return false, nil
	}

	snap, err := p.repo.LatestSnapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to restore snapshot: %w", err)
	}
	if snap == nil {
		return false, nil
	}

	p.store.Replace(snap)
	metrics.SnapshotAge.Set(float64(snap.LoadedAt.Unix()))

	logger.Info("Snapshot restored from storage",
		zap.Int("records", len(snap.Records)),
		zap.Time("loaded_at", snap.LoadedAt),
		zap.String("hash", utils.ShortHash(snap.ContentHash)),
	)
	return true, nil
}

func (p *Processor) loadFromFeed(ctx context.Context) (*models.LoadEvent, error) {
	if p.fetcher == nil {
		return nil, ErrNoFeed
	}

	ev := p.newEvent(p.fetcher.Source())
	start := p.now()

	doc, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return p.fail(ctx, ev, start, fmt.Errorf("failed to fetch sheet: %w", err))
	}
	return p.ingestTimed(ctx, ev, start, doc.Body, doc.ContentType)
}

func (p *Processor) ingest(ctx context.Context, ev *models.LoadEvent, body []byte, contentType string) (*models.LoadEvent, error) {
	return p.ingestTimed(ctx, ev, p.now(), body, contentType)
}

func (p *Processor) ingestTimed(ctx context.Context, ev *models.LoadEvent, start time.Time, body []byte, contentType string) (*models.LoadEvent, error) {
	hash := utils.ContentHash(body)
	ev.ContentHash = hash

	if current := p.store.Snapshot(); current != nil && current.ContentHash == hash {
		p.store.Touch(p.now())
		ev.Status = models.LoadUnchanged
		ev.RecordCount = len(current.Records)
		p.finish(ctx, ev, start)
		return ev, nil
	}

	format := p.format
	if format == FormatAuto {
		format = DetectFormat(contentType, body)
	}

	result, err := Parse(format, body)
	if err != nil {
		return p.fail(ctx, ev, start, fmt.Errorf("failed to parse sheet: %w", err))
	}

	snap := &store.Snapshot{
		Records:     result.Records,
		LoadedAt:    p.now(),
		ContentHash: hash,
		Source:      ev.Source,
	}
	p.store.Replace(snap)

	if p.repo != nil {
		if err := p.repo.SaveSnapshot(ctx, snap); err != nil {
			logger.Warn("Failed to persist snapshot", zap.Error(err))
		}
	}

	ev.Status = models.LoadSucceeded
	ev.RecordCount = len(result.Records)
	metrics.RowsDropped.Add(float64(result.Dropped))

	logger.Info("Sheet loaded",
		zap.String("load_id", ev.ID),
		zap.String("format", string(format)),
		zap.Int("rows", result.Rows),
		zap.Int("records", len(result.Records)),
		zap.Int("dropped", result.Dropped),
		zap.String("hash", utils.ShortHash(hash)),
	)

	p.finish(ctx, ev, start)
	return ev, nil
}

func (p *Processor) fail(ctx context.Context, ev *models.LoadEvent, start time.Time, err error) (*models.LoadEvent, error) {
	ev.Status = models.LoadFailed
	ev.Error = err.Error()
	logger.Error("Sheet load failed", zap.String("load_id", ev.ID), zap.Error(err))
	p.finish(ctx, ev, start)
	return ev, err
}

func (p *Processor) finish(ctx context.Context, ev *models.LoadEvent, start time.Time) {
	elapsed := p.now().Sub(start)
	ev.DurationMS = elapsed.Milliseconds()

	metrics.FeedLoads.WithLabelValues(string(ev.Status)).Inc()
	metrics.FeedLoadDuration.Observe(elapsed.Seconds())
	if ev.Status != models.LoadFailed {
		metrics.SnapshotAge.Set(float64(p.now().Unix()))
	}

	if p.repo != nil {
		if err := p.repo.RecordLoad(ctx, ev); err != nil {
			logger.Warn("Failed to record load", zap.Error(err))
		}
	}

	p.mu.RLock()
	listeners := p.listeners
	p.mu.RUnlock()
	for _, fn := range listeners {
		fn(*ev)
	}
}

func (p *Processor) newEvent(source string) *models.LoadEvent {
	return &models.LoadEvent{
		ID:        uuid.New().String(),
		Source:    source,
		CreatedAt: p.now(),
	}
}
