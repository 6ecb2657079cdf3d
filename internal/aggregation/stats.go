package aggregation

import (
	"time"

	"github.com/boletin/backend/internal/grading"
	"github.com/boletin/backend/internal/storage/models"
)

type Totals struct {
	Records        int `json:"records"`
	UniqueStudents int `json:"unique_students"`
	Subjects       int `json:"subjects"`
	RankedStudents int `json:"ranked_students"`
}

// Statistics is the administrator's view of one snapshot.
type Statistics struct {
	Totals      Totals             `json:"totals"`
	LastUpdate  time.Time          `json:"last_update"`
	ContentHash string             `json:"content_hash"`
	Top         []StudentAggregate `json:"top_students"`
	Bottom      []StudentAggregate `json:"bottom_students"`
	Courses     []CourseAggregate  `json:"courses"`
	Subjects    []SubjectAggregate `json:"subjects"`
	Teachers    []string           `json:"teachers"`
}

func Compute(records []models.Record, classifier *grading.Classifier) Statistics {
	students := Students(records, classifier)
	ranking := Rank(students)

	return Statistics{
		Totals: Totals{
			Records:        len(records),
			UniqueStudents: len(students),
			Subjects:       len(DistinctSubjects(records)),
			RankedStudents: len(ranking.Ranked),
		},
		Top:      ranking.Top,
		Bottom:   ranking.Bottom,
		Courses:  Courses(students),
		Subjects: Subjects(records),
		Teachers: Teachers(records),
	}
}

// DistinctSubjects lists non-empty subject names in first-seen order.
func DistinctSubjects(records []models.Record) []string {
	seen := make(map[string]struct{})
	subjects := []string{}
	for _, r := range records {
		if r.Subject == "" {
			continue
		}
		if _, ok := seen[r.Subject]; ok {
			continue
		}
		seen[r.Subject] = struct{}{}
		subjects = append(subjects, r.Subject)
	}
	return subjects
}
