package aggregation

import (
	"sort"
	"strings"

	"github.com/boletin/backend/internal/grading"
	"github.com/boletin/backend/internal/storage/models"
)

type CourseAggregate struct {
	Course       string        `json:"course"`
	Average      grading.Grade `json:"average"`
	StudentCount int           `json:"student_count"`
}

type SubjectAggregate struct {
	Subject    string        `json:"subject"`
	Average    grading.Grade `json:"average"`
	GradeCount int           `json:"grade_count"`
	Teachers   []string      `json:"teachers"`
}

// CourseKey joins course and section verbatim, e.g. "8vo A".
func CourseKey(course, section string) string {
	return course + " " + section
}

// Courses averages the overall averages of the students in each course and
// section. Students without an average are left out.
func Courses(students []StudentAggregate) []CourseAggregate {
	index := make(map[string]int)
	var courses []CourseAggregate
	var members [][]grading.Grade

	for _, s := range students {
		if !s.Average.Present {
			continue
		}
		key := CourseKey(s.Course, s.Section)
		i, ok := index[key]
		if !ok {
			i = len(courses)
			index[key] = i
			courses = append(courses, CourseAggregate{Course: key})
			members = append(members, nil)
		}
		members[i] = append(members[i], s.Average)
	}

	for i := range courses {
		courses[i].Average = grading.Mean(members[i])
		courses[i].StudentCount = len(members[i])
	}

	sort.SliceStable(courses, func(i, j int) bool {
		return courses[i].Average.Value > courses[j].Average.Value
	})
	return courses
}

// Subjects averages every record's average per subject. Unlike Students it
// does not skip qualitative subjects.
func Subjects(records []models.Record) []SubjectAggregate {
	index := make(map[string]int)
	var subjects []SubjectAggregate
	var grades [][]grading.Grade
	var seenTeachers []map[string]struct{}

	for _, r := range records {
		if r.Subject == "" {
			continue
		}
		i, ok := index[r.Subject]
		if !ok {
			i = len(subjects)
			index[r.Subject] = i
			subjects = append(subjects, SubjectAggregate{Subject: r.Subject, Teachers: []string{}})
			grades = append(grades, nil)
			seenTeachers = append(seenTeachers, make(map[string]struct{}))
		}

		if avg := r.EffectiveAverage(); avg.Present {
			grades[i] = append(grades[i], avg)
		}
		if teacher := strings.TrimSpace(r.Teacher); teacher != "" {
			if _, dup := seenTeachers[i][teacher]; !dup {
				seenTeachers[i][teacher] = struct{}{}
				subjects[i].Teachers = append(subjects[i].Teachers, teacher)
			}
		}
	}

	for i := range subjects {
		subjects[i].Average = grading.Mean(grades[i])
		subjects[i].GradeCount = len(grades[i])
	}

	sort.SliceStable(subjects, func(i, j int) bool {
		a, b := subjects[i].Average, subjects[j].Average
		if a.Present != b.Present {
			return a.Present
		}
		return a.Value > b.Value
	})
	return subjects
}

// Teachers lists the distinct teacher names in lexical order.
func Teachers(records []models.Record) []string {
	seen := make(map[string]struct{})
	teachers := []string{}
	for _, r := range records {
		name := strings.TrimSpace(r.Teacher)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		teachers = append(teachers, name)
	}
	sort.Strings(teachers)
	return teachers
}
