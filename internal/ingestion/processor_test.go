package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boletin/backend/internal/feed"
	"github.com/boletin/backend/internal/metrics"
	"github.com/boletin/backend/internal/storage/models"
	"github.com/boletin/backend/internal/store"
)

type fakeFetcher struct {
	mu    sync.Mutex
	body  string
	err   error
	calls int
	gate  chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*feed.Document, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &feed.Document{URL: "https://sheet.test", ContentType: "text/csv", Body: []byte(f.body)}, nil
}

func (f *fakeFetcher) Source() string { return "https://sheet.test" }

func (f *fakeFetcher) set(body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body, f.err = body, err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryRepo struct {
	mu     sync.Mutex
	saved  *store.Snapshot
	events []models.LoadEvent
}

func (r *memoryRepo) SaveSnapshot(_ context.Context, snap *store.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = snap
	return nil
}

func (r *memoryRepo) LatestSnapshot(_ context.Context) (*store.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved, nil
}

func (r *memoryRepo) RecordLoad(_ context.Context, ev *models.LoadEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

type pruningRepo struct {
	memoryRepo
	cutoffs chan time.Time
}

func (r *pruningRepo) PruneLoads(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	var removed int64
	for _, ev := range r.events {
		if ev.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	r.events = kept
	select {
	case r.cutoffs <- cutoff:
	default:
	}
	return removed, nil
}

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestProcessor_LoadReplacesSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{body: sampleCSV}
	repo := &memoryRepo{}
	st := store.New()
	p := NewProcessor(fetcher, st, WithRepository(repo))

	var seen []models.LoadEvent
	p.OnLoad(func(ev models.LoadEvent) { seen = append(seen, ev) })

	ev, err := p.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.LoadSucceeded, ev.Status)
	assert.Equal(t, 2, ev.RecordCount)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, 2, st.Len())
	assert.Equal(t, ev.ContentHash, st.Snapshot().ContentHash)
	assert.Equal(t, "https://sheet.test", st.Snapshot().Source)

	require.NotNil(t, repo.saved)
	assert.Len(t, repo.saved.Records, 2)
	require.Len(t, repo.events, 1)
	require.Len(t, seen, 1)
	assert.Equal(t, models.LoadSucceeded, seen[0].Status)
}

func TestProcessor_UnchangedContentOnlyTouches(t *testing.T) {
	fetcher := &fakeFetcher{body: sampleCSV}
	st := store.New()
	p := NewProcessor(fetcher, st)

	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	_, err := p.Load(context.Background())
	require.NoError(t, err)
	first := st.Snapshot()

	now = now.Add(10 * time.Minute)
	ev, err := p.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.LoadUnchanged, ev.Status)
	second := st.Snapshot()
	assert.Equal(t, now, second.LoadedAt)
	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, len(first.Records), len(second.Records))
}

func TestProcessor_FailedLoadKeepsPreviousSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{body: sampleCSV}
	repo := &memoryRepo{}
	st := store.New()
	p := NewProcessor(fetcher, st, WithRepository(repo))

	_, err := p.Load(context.Background())
	require.NoError(t, err)
	before := st.Snapshot()

	fetcher.set("", errors.New("network down"))
	ev, err := p.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.LoadFailed, ev.Status)
	assert.Contains(t, ev.Error, "network down")
	assert.Same(t, before, st.Snapshot())

	fetcher.set("NAME\nAna\n", nil)
	_, err = p.Load(context.Background())
	assert.ErrorIs(t, err, ErrMissingIDColumn)
	assert.Same(t, before, st.Snapshot())

	require.Len(t, repo.events, 3)
	assert.Equal(t, models.LoadFailed, repo.events[2].Status)
}

func TestProcessor_HeaderOnlySheetReplacesWithEmpty(t *testing.T) {
	fetcher := &fakeFetcher{body: sampleCSV}
	st := store.New()
	p := NewProcessor(fetcher, st)

	_, err := p.Load(context.Background())
	require.NoError(t, err)

	fetcher.set("ID_STD,CURSO\n", nil)
	ev, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.LoadSucceeded, ev.Status)
	assert.NotNil(t, st.Snapshot())
	assert.True(t, st.Snapshot().Empty())
}

func TestProcessor_LoadWithoutFeed(t *testing.T) {
	p := NewProcessor(nil, store.New())

	_, err := p.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoFeed)
	assert.False(t, p.TriggerReload())
}

func TestProcessor_LoadBody(t *testing.T) {
	st := store.New()
	p := NewProcessor(nil, st)

	ev, err := p.LoadBody(context.Background(), "upload:grades.html", []byte(sampleHTML), "")
	require.NoError(t, err)
	assert.Equal(t, models.LoadSucceeded, ev.Status)
	assert.Equal(t, "upload:grades.html", st.Snapshot().Source)
	assert.Equal(t, 1, st.Len())
}

func TestProcessor_TriggerReloadSkipsWhileLoading(t *testing.T) {
	fetcher := &fakeFetcher{body: sampleCSV, gate: make(chan struct{})}
	st := store.New()
	p := NewProcessor(fetcher, st)

	done := make(chan struct{})
	p.OnLoad(func(models.LoadEvent) { close(done) })

	assert.True(t, p.TriggerReload())
	assert.False(t, p.TriggerReload())

	close(fetcher.gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reload did not finish")
	}

	assert.Equal(t, 1, fetcher.callCount())
	assert.Eventually(t, func() bool { return st.Len() == 2 }, time.Second, 10*time.Millisecond)
}

func TestProcessor_Restore(t *testing.T) {
	repo := &memoryRepo{saved: &store.Snapshot{
		Records:     []models.Record{{StudentID: "1"}},
		LoadedAt:    time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		ContentHash: "abc",
	}}
	st := store.New()
	p := NewProcessor(nil, st, WithRepository(repo))

	restored, err := p.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, 1, st.Len())

	restored, err = p.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestProcessor_RunStopsWithContext(t *testing.T) {
	fetcher := &fakeFetcher{body: sampleCSV}
	st := store.New()
	p := NewProcessor(fetcher, st)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.Run(ctx, 5*time.Millisecond)
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return st.Len() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestProcessor_RunPrunesHistory(t *testing.T) {
	fetcher := &fakeFetcher{body: sampleCSV}
	repo := &pruningRepo{cutoffs: make(chan time.Time, 1)}
	repo.events = []models.LoadEvent{{ID: "ancient", CreatedAt: time.Now().Add(-90 * 24 * time.Hour)}}
	p := NewProcessor(fetcher, store.New(), WithRepository(repo), WithHistoryRetention(30*24*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, 5*time.Millisecond)

	select {
	case cutoff := <-repo.cutoffs:
		assert.WithinDuration(t, time.Now().Add(-30*24*time.Hour), cutoff, time.Minute)
	case <-time.After(time.Second):
		t.Fatal("history was not pruned")
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, ev := range repo.events {
		assert.NotEqual(t, "ancient", ev.ID)
	}
}

func TestProcessor_NoRetentionKeepsHistory(t *testing.T) {
	repo := &pruningRepo{cutoffs: make(chan time.Time, 1)}
	p := NewProcessor(nil, store.New(), WithRepository(repo))

	p.pruneHistory(context.Background())

	select {
	case <-repo.cutoffs:
		t.Fatal("pruned without a retention window")
	default:
	}
}

func TestProcessor_RecordsGaugeFollowsStore(t *testing.T) {
	repo := &memoryRepo{saved: &store.Snapshot{
		Records:  []models.Record{{StudentID: "1"}, {StudentID: "2"}, {StudentID: "3"}},
		LoadedAt: time.Now(),
	}}
	st := store.New()
	p := NewProcessor(nil, st, WithRepository(repo))

	restored, err := p.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, restored)
	assert.Equal(t, float64(3), gaugeValue(t, metrics.RecordsLoaded))

	_, err = p.LoadBody(context.Background(), "upload", []byte(sampleCSV), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, float64(2), gaugeValue(t, metrics.RecordsLoaded))
}
