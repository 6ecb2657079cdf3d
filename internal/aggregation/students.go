// Package aggregation derives per-student, per-course and per-subject
// averages from a snapshot of records. Nothing here is cached between calls.
package aggregation

import (
	"sort"

	"github.com/boletin/backend/internal/grading"
	"github.com/boletin/backend/internal/storage/models"
)

const rankingSize = 5

type StudentAggregate struct {
	StudentID string          `json:"student_id"`
	Name      string          `json:"name"`
	Course    string          `json:"course"`
	Section   string          `json:"section"`
	Records   []models.Record `json:"-"`
	Average   grading.Grade   `json:"average"`
}

// Students groups records by student in first-seen order. A student's
// average only counts quantitative subjects.
func Students(records []models.Record, classifier *grading.Classifier) []StudentAggregate {
	index := make(map[string]int)
	var students []StudentAggregate

	for _, r := range records {
		if r.StudentID == "" {
			continue
		}
		i, ok := index[r.StudentID]
		if !ok {
			i = len(students)
			index[r.StudentID] = i
			students = append(students, StudentAggregate{
				StudentID: r.StudentID,
				Name:      r.StudentName,
				Course:    r.Course,
				Section:   r.Section,
			})
		}
		students[i].Records = append(students[i].Records, r)
	}

	for i := range students {
		students[i].Average = studentAverage(students[i].Records, classifier)
	}
	return students
}

func studentAverage(records []models.Record, classifier *grading.Classifier) grading.Grade {
	grades := make([]grading.Grade, 0, len(records))
	for _, r := range records {
		if classifier.IsQualitative(r.Subject, r.Level) {
			continue
		}
		grades = append(grades, r.EffectiveAverage())
	}
	return grading.Mean(grades)
}

type Ranking struct {
	Ranked []StudentAggregate `json:"-"`
	Top    []StudentAggregate `json:"top"`
	Bottom []StudentAggregate `json:"bottom"`
}

// Rank drops students without an average and orders the rest best first.
// Ties keep grouping order. Bottom lists the worst student first.
func Rank(students []StudentAggregate) Ranking {
	ranked := make([]StudentAggregate, 0, len(students))
	for _, s := range students {
		if s.Average.Present {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Average.Value > ranked[j].Average.Value
	})

	top := ranked[:min(rankingSize, len(ranked))]

	bottom := make([]StudentAggregate, 0, rankingSize)
	for i := len(ranked) - 1; i >= 0 && len(bottom) < rankingSize; i-- {
		bottom = append(bottom, ranked[i])
	}

	return Ranking{
		Ranked: ranked,
		Top:    append([]StudentAggregate(nil), top...),
		Bottom: bottom,
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
