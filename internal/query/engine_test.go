package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boletin/backend/internal/grading"
	"github.com/boletin/backend/internal/ingestion"
	"github.com/boletin/backend/internal/storage/models"
	"github.com/boletin/backend/internal/store"
)

const endToEndCSV = `ID_STD,APELLIDOS Y NOMBRES,ASIGNATURA,SUBNIVEL,TRIM-1,TRIM-2,TRIM-3,PROMEDIO
123,LOPEZ JUAN,Matemática,Básica Media,8,9,7,8.0
123,LOPEZ JUAN,Animación a la Lectura,Básica Superior,,,,"9,5"
`

type fakeReloader struct{ calls int }

func (f *fakeReloader) TriggerReload() bool {
	f.calls++
	return true
}

type memoryCache struct {
	entries map[string][]byte
	gets    int
	sets    int
}

func (c *memoryCache) GetStats(_ context.Context, hash string, stats interface{}) (bool, error) {
	c.gets++
	data, ok := c.entries[hash]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, stats)
}

func (c *memoryCache) SetStats(_ context.Context, hash string, stats interface{}) error {
	c.sets++
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	c.entries[hash] = data
	return nil
}

func (c *memoryCache) InvalidateStats(context.Context) error {
	c.entries = make(map[string][]byte)
	return nil
}

func newEngine(t *testing.T, records []models.Record, opts ...Option) (*Engine, *store.Store) {
	t.Helper()
	st := store.New()
	if records != nil {
		st.Replace(&store.Snapshot{
			Records:     records,
			LoadedAt:    time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
			ContentHash: "hash-1",
		})
	}
	return NewEngine(st, grading.NewClassifier(grading.DefaultRules()), opts...), st
}

func TestLookup_EndToEnd(t *testing.T) {
	parsed, err := ingestion.ParseCSV(strings.NewReader(endToEndCSV))
	require.NoError(t, err)

	engine, _ := newEngine(t, parsed.Records)

	result, err := engine.Lookup(context.Background(), " 123 ")
	require.NoError(t, err)

	assert.True(t, result.Exact)
	assert.Len(t, result.Records, 2)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, grading.Of(8), result.Average)
	assert.Equal(t, "LOPEZ JUAN", result.Student.Name)

	math := result.Rows[0]
	assert.Equal(t, grading.Quantitative, math.Classification)
	assert.Equal(t, grading.Display{Tier: grading.TierGood, Label: "8"}, math.Periods[0])
	assert.Equal(t, grading.Display{Tier: grading.TierGood, Label: "8"}, math.Average)
	assert.Equal(t, grading.TierNeutral, math.Status.Tier)

	reading := result.Rows[1]
	assert.Equal(t, grading.Qualitative, reading.Classification)
	assert.Equal(t, grading.TierIncomplete, reading.Average.Tier)
	assert.Equal(t, "-", reading.Average.Label)
	assert.Equal(t, "-", reading.Status.Label)
}

func TestLookup_EmptyIdentifier(t *testing.T) {
	engine, _ := newEngine(t, []models.Record{{StudentID: "1"}})

	_, err := engine.Lookup(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
}

func TestLookup_EmptyStoreTriggersReload(t *testing.T) {
	reloader := &fakeReloader{}
	engine, st := newEngine(t, nil, WithReloader(reloader))

	_, err := engine.Lookup(context.Background(), "123")
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Equal(t, 1, reloader.calls)

	st.Replace(&store.Snapshot{})
	_, err = engine.Lookup(context.Background(), "123")
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Equal(t, 2, reloader.calls)
}

func TestLookup_SubstringFallback(t *testing.T) {
	engine, _ := newEngine(t, []models.Record{
		{StudentID: "0912345678", Subject: "Lengua"},
		{StudentID: "0987654321", Subject: "Lengua"},
	})

	result, err := engine.Lookup(context.Background(), "12345")
	require.NoError(t, err)
	assert.False(t, result.Exact)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "0912345678", result.Student.StudentID)

	result, err = engine.Lookup(context.Background(), "0987654321-X")
	require.NoError(t, err)
	assert.Equal(t, "0987654321", result.Student.StudentID)
}

func TestLookup_ExactMatchWinsOverSubstring(t *testing.T) {
	engine, _ := newEngine(t, []models.Record{
		{StudentID: "1234"},
		{StudentID: "123"},
	})

	result, err := engine.Lookup(context.Background(), "123")
	require.NoError(t, err)
	assert.True(t, result.Exact)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "123", result.Records[0].StudentID)
}

func TestLookup_NotFoundCarriesSuggestions(t *testing.T) {
	engine, _ := newEngine(t, []models.Record{
		{StudentID: "0911111111"},
		{StudentID: "0911111111"},
		{StudentID: "9991234"},
		{StudentID: "1700000000"},
	})

	_, err := engine.Lookup(context.Background(), "0919999999")

	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "0919999999", notFound.Identifier)
	assert.Equal(t, []string{"0911111111", "9991234"}, notFound.Suggestions)
}

func TestSuggest_CapsAtTen(t *testing.T) {
	records := make([]models.Record, 0, 20)
	for i := 0; i < 20; i++ {
		records = append(records, models.Record{StudentID: "555" + strings.Repeat("0", i)})
	}

	assert.Len(t, Suggest(records, "5559"), 10)
}

func TestSuggest_ShortIdentifier(t *testing.T) {
	records := []models.Record{{StudentID: "0912"}, {StudentID: "1700"}}
	assert.Equal(t, []string{"0912"}, Suggest(records, "09"))
}

func TestStatistics(t *testing.T) {
	engine, _ := newEngine(t, []models.Record{
		{StudentID: "1", Course: "OCTAVO", Section: "A", Subject: "Matemática", Teacher: "Torres", Level: "Básica Superior", Average: grading.Of(9)},
		{StudentID: "2", Course: "OCTAVO", Section: "A", Subject: "Matemática", Teacher: "Torres", Level: "Básica Superior", Average: grading.Of(7)},
	})

	stats, err := engine.Statistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Totals.Records)
	assert.Equal(t, 2, stats.Totals.UniqueStudents)
	assert.Equal(t, "hash-1", stats.ContentHash)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), stats.LastUpdate)
	require.Len(t, stats.Top, 2)
	assert.Equal(t, "1", stats.Top[0].StudentID)
	assert.Equal(t, []string{"Torres"}, stats.Teachers)
}

func TestStatistics_NoSnapshot(t *testing.T) {
	engine, _ := newEngine(t, nil)

	_, err := engine.Statistics(context.Background())
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestStatistics_UsesCacheByContentHash(t *testing.T) {
	cache := &memoryCache{entries: make(map[string][]byte)}
	engine, st := newEngine(t, []models.Record{{StudentID: "1", Subject: "Lengua", Average: grading.Of(8)}}, WithStatsCache(cache))

	first, err := engine.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	touched := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	st.Touch(touched)

	second, err := engine.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 2, cache.gets)
	assert.Equal(t, first.Totals, second.Totals)
	assert.True(t, touched.Equal(second.LastUpdate))
}

func TestStatistics_ResetCacheRecomputes(t *testing.T) {
	cache := &memoryCache{entries: make(map[string][]byte)}
	engine, _ := newEngine(t, []models.Record{{StudentID: "1", Subject: "Lengua", Average: grading.Of(8)}}, WithStatsCache(cache))

	_, err := engine.Statistics(context.Background())
	require.NoError(t, err)
	require.Len(t, cache.entries, 1)

	require.NoError(t, engine.ResetStatisticsCache(context.Background()))
	assert.Empty(t, cache.entries)

	_, err = engine.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cache.sets)
}

func TestResetStatisticsCache_WithoutCache(t *testing.T) {
	engine, _ := newEngine(t, nil)
	assert.NoError(t, engine.ResetStatisticsCache(context.Background()))
}

func TestSubjectsAndStudents(t *testing.T) {
	engine, _ := newEngine(t, []models.Record{
		{StudentID: "1", Course: "OCTAVO", Section: "A", Subject: "Lengua"},
		{StudentID: "2", Course: "NOVENO", Section: "B", Subject: "Matemática"},
		{StudentID: "2", Course: "NOVENO", Section: "B", Subject: "Lengua"},
	})

	subjects, err := engine.Subjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"Lengua", "Matemática"}, subjects)

	all, err := engine.Students("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	ninth, err := engine.Students("NOVENO B")
	require.NoError(t, err)
	require.Len(t, ninth, 1)
	assert.Equal(t, "2", ninth[0].StudentID)
}
