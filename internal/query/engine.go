// Package query answers student lookups and administrator statistics over
// the current record snapshot.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boletin/backend/internal/aggregation"
	"github.com/boletin/backend/internal/grading"
	"github.com/boletin/backend/internal/metrics"
	"github.com/boletin/backend/internal/storage/models"
	"github.com/boletin/backend/internal/store"
	"github.com/boletin/backend/pkg/logger"
)

const (
	maxSuggestions = 10
	prefixLength   = 3
)

var (
	ErrEmptyIdentifier = errors.New("identifier is empty")
	ErrDataUnavailable = errors.New("grade data is not available yet")
)

// NotFoundError reports a well-formed identifier with no match. Suggestions
// are advisory.
type NotFoundError struct {
	Identifier  string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no student matches %q", e.Identifier)
}

// Reloader starts a background load; it reports false when one is already
// running.
type Reloader interface {
	TriggerReload() bool
}

type StatsCache interface {
	GetStats(ctx context.Context, contentHash string, stats interface{}) (bool, error)
	SetStats(ctx context.Context, contentHash string, stats interface{}) error
	InvalidateStats(ctx context.Context) error
}

type Engine struct {
	store      *store.Store
	classifier *grading.Classifier
	reloader   Reloader
	cache      StatsCache
}

type Option func(*Engine)

func WithReloader(r Reloader) Option {
	return func(e *Engine) { e.reloader = r }
}

func WithStatsCache(c StatsCache) Option {
	return func(e *Engine) { e.cache = c }
}

func NewEngine(st *store.Store, classifier *grading.Classifier, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		classifier: classifier,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type StudentDetail struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Level     string `json:"level"`
	Course    string `json:"course"`
	Section   string `json:"section"`
	Period    string `json:"period"`
}

// GradeRow is one rendered subject line of a report card.
type GradeRow struct {
	Subject        string                 `json:"subject"`
	Teacher        string                 `json:"teacher"`
	Classification grading.Classification `json:"classification"`
	Periods        [3]grading.Display     `json:"periods"`
	grading.Summary
}

type LookupResult struct {
	Identifier string          `json:"identifier"`
	Exact      bool            `json:"exact"`
	Student    StudentDetail   `json:"student"`
	Rows       []GradeRow      `json:"grades"`
	Average    grading.Grade   `json:"average"`
	LastUpdate time.Time       `json:"last_update"`
	Records    []models.Record `json:"-"`
}

// Lookup finds the records of one student. An exact ID match wins; otherwise
// any record whose ID contains the identifier, or is contained by it, matches.
func (e *Engine) Lookup(ctx context.Context, identifier string) (*LookupResult, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		metrics.Lookups.WithLabelValues("invalid").Inc()
		return nil, ErrEmptyIdentifier
	}

	snap := e.store.Snapshot()
	if snap.Empty() {
		metrics.Lookups.WithLabelValues("unavailable").Inc()
		if e.reloader != nil && e.reloader.TriggerReload() {
			logger.Info("Lookup against empty store triggered a reload")
		}
		return nil, ErrDataUnavailable
	}

	matches, exact := match(snap.Records, id)
	if len(matches) == 0 {
		metrics.Lookups.WithLabelValues("not_found").Inc()
		return nil, &NotFoundError{Identifier: id, Suggestions: Suggest(snap.Records, id)}
	}

	result := &LookupResult{
		Identifier: id,
		Exact:      exact,
		Student:    detail(matches[0]),
		Rows:       make([]GradeRow, 0, len(matches)),
		LastUpdate: snap.LoadedAt,
		Records:    matches,
	}
	for _, r := range matches {
		result.Rows = append(result.Rows, e.row(r))
	}
	if students := aggregation.Students(matches, e.classifier); len(students) > 0 {
		result.Average = students[0].Average
	}

	metrics.Lookups.WithLabelValues("found").Inc()
	logger.Debug("Student lookup",
		zap.Int("records", len(matches)),
		zap.Bool("exact", exact),
	)
	return result, nil
}

func match(records []models.Record, id string) ([]models.Record, bool) {
	var matches []models.Record
	for _, r := range records {
		if r.StudentID == id {
			matches = append(matches, r)
		}
	}
	if len(matches) > 0 {
		return matches, true
	}

	for _, r := range records {
		if strings.Contains(id, r.StudentID) || strings.Contains(r.StudentID, id) {
			matches = append(matches, r)
		}
	}
	return matches, false
}

// Suggest lists distinct IDs sharing a three-character prefix with the
// identifier, in either direction.
func Suggest(records []models.Record, id string) []string {
	queryPrefix := prefix(id)
	seen := make(map[string]struct{})
	suggestions := []string{}

	for _, r := range records {
		if len(suggestions) == maxSuggestions {
			break
		}
		if _, ok := seen[r.StudentID]; ok {
			continue
		}
		if strings.Contains(r.StudentID, queryPrefix) || strings.Contains(id, prefix(r.StudentID)) {
			seen[r.StudentID] = struct{}{}
			suggestions = append(suggestions, r.StudentID)
		}
	}
	return suggestions
}

func prefix(s string) string {
	runes := []rune(s)
	if len(runes) > prefixLength {
		runes = runes[:prefixLength]
	}
	return string(runes)
}

func detail(r models.Record) StudentDetail {
	return StudentDetail{
		StudentID: r.StudentID,
		Name:      r.StudentName,
		Level:     r.Level,
		Course:    r.Course,
		Section:   r.Section,
		Period:    r.Period,
	}
}

func (e *Engine) row(r models.Record) GradeRow {
	c := e.classifier.Classify(r.Subject, r.Level)
	periods := r.Periods()

	row := GradeRow{
		Subject:        r.Subject,
		Teacher:        r.Teacher,
		Classification: c,
		Summary:        grading.FormatSummary(periods, r.EffectiveAverage(), r.Status),
	}
	for i, g := range periods {
		row.Periods[i] = grading.Format(g, c)
	}
	return row
}

// Statistics aggregates the current snapshot. Results are cached by content
// hash when a cache is configured; cache failures fall back to computing.
func (e *Engine) Statistics(ctx context.Context) (*aggregation.Statistics, error) {
	snap := e.store.Snapshot()
	if snap == nil {
		return nil, ErrDataUnavailable
	}

	if e.cache != nil && snap.ContentHash != "" {
		var cached aggregation.Statistics
		hit, err := e.cache.GetStats(ctx, snap.ContentHash, &cached)
		if err != nil {
			logger.Warn("Stats cache read failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("stats").Inc()
			cached.LastUpdate = snap.LoadedAt
			cached.ContentHash = snap.ContentHash
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("stats").Inc()
	}

	start := time.Now()
	stats := aggregation.Compute(snap.Records, e.classifier)
	stats.LastUpdate = snap.LoadedAt
	stats.ContentHash = snap.ContentHash
	metrics.StatisticsDuration.Observe(time.Since(start).Seconds())

	if e.cache != nil && snap.ContentHash != "" {
		if err := e.cache.SetStats(ctx, snap.ContentHash, stats); err != nil {
			logger.Warn("Stats cache write failed", zap.Error(err))
		}
	}

	return &stats, nil
}

// ResetStatisticsCache drops every cached aggregate. Entries are keyed by
// content hash only, so they go stale when the classification rules change.
func (e *Engine) ResetStatisticsCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.InvalidateStats(ctx); err != nil {
		return fmt.Errorf("failed to reset statistics cache: %w", err)
	}
	return nil
}

func (e *Engine) Subjects() ([]string, error) {
	snap := e.store.Snapshot()
	if snap == nil {
		return nil, ErrDataUnavailable
	}
	return aggregation.DistinctSubjects(snap.Records), nil
}

// Students lists student aggregates, optionally limited to one course key
// ("CURSO PARALELO").
func (e *Engine) Students(course string) ([]aggregation.StudentAggregate, error) {
	snap := e.store.Snapshot()
	if snap == nil {
		return nil, ErrDataUnavailable
	}

	students := aggregation.Students(snap.Records, e.classifier)
	if course == "" {
		return students, nil
	}

	filtered := make([]aggregation.StudentAggregate, 0)
	for _, s := range students {
		if aggregation.CourseKey(s.Course, s.Section) == course {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}
