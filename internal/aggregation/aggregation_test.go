package aggregation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boletin/backend/internal/grading"
	"github.com/boletin/backend/internal/storage/models"
)

func rec(id, name, course, section, level, subject, teacher string, avg grading.Grade) models.Record {
	return models.Record{
		StudentID:   id,
		StudentName: name,
		Course:      course,
		Section:     section,
		Level:       level,
		Subject:     subject,
		Teacher:     teacher,
		Average:     avg,
	}
}

func classifier() *grading.Classifier {
	return grading.NewClassifier(grading.DefaultRules())
}

func TestStudents_AverageExcludesQualitativeSubjects(t *testing.T) {
	records := []models.Record{
		rec("1", "Ana", "8vo", "A", "Básica Superior", "Matemática", "", grading.Of(8)),
		rec("1", "Ana", "8vo", "A", "Básica Superior", "Animación a la Lectura", "", grading.Of(2)),
	}

	students := Students(records, classifier())

	require.Len(t, students, 1)
	assert.Equal(t, grading.Of(8), students[0].Average)
	assert.Len(t, students[0].Records, 2)
}

func TestStudents_FallsBackToLegacyAverage(t *testing.T) {
	r := rec("1", "Ana", "8vo", "A", "Básica Media", "Matemática", "", grading.Absent)
	r.LegacyAverage = grading.Of(6)
	zero := rec("1", "Ana", "8vo", "A", "Básica Media", "Lengua", "", grading.Of(0))
	zero.LegacyAverage = grading.Of(10)

	students := Students([]models.Record{r, zero}, classifier())

	// PROMEDIO=0 is present, so PROM is not consulted for the second row.
	assert.Equal(t, grading.Of(3), students[0].Average)
}

func TestStudents_AllQualitativeMeansNoAverage(t *testing.T) {
	records := []models.Record{
		rec("1", "Ana", "2do", "A", "Elemental", "Matemática", "", grading.Of(9)),
		rec("2", "Luis", "2do", "A", "Básica Media", "Matemática", "", grading.Absent),
	}

	students := Students(records, classifier())

	require.Len(t, students, 2)
	assert.False(t, students[0].Average.Present)
	assert.False(t, students[1].Average.Present)
	assert.Empty(t, Rank(students).Ranked)
}

func TestStudents_GroupsInFirstSeenOrder(t *testing.T) {
	records := []models.Record{
		rec("2", "Luis", "8vo", "B", "", "Matemática", "", grading.Of(7)),
		rec("1", "Ana", "8vo", "A", "", "Matemática", "", grading.Of(9)),
		rec("2", "Luis", "8vo", "B", "", "Lengua", "", grading.Of(9)),
	}

	students := Students(records, classifier())

	require.Len(t, students, 2)
	assert.Equal(t, "2", students[0].StudentID)
	assert.Equal(t, "Luis", students[0].Name)
	assert.Equal(t, grading.Of(8), students[0].Average)
	assert.Equal(t, "1", students[1].StudentID)
}

func TestRank_TopAndBottom(t *testing.T) {
	var students []StudentAggregate
	for i, avg := range []float64{5, 9, 7, 10, 6, 8, 4} {
		students = append(students, StudentAggregate{
			StudentID: string(rune('a' + i)),
			Average:   grading.Of(avg),
		})
	}
	students = append(students, StudentAggregate{StudentID: "unranked"})

	ranking := Rank(students)

	require.Len(t, ranking.Ranked, 7)
	require.Len(t, ranking.Top, 5)
	require.Len(t, ranking.Bottom, 5)

	var top, bottom []float64
	for _, s := range ranking.Top {
		top = append(top, s.Average.Value)
	}
	for _, s := range ranking.Bottom {
		bottom = append(bottom, s.Average.Value)
	}
	assert.Equal(t, []float64{10, 9, 8, 7, 6}, top)
	assert.Equal(t, []float64{4, 5, 6, 7, 8}, bottom)
}

func TestRank_TiesKeepGroupingOrder(t *testing.T) {
	students := []StudentAggregate{
		{StudentID: "first", Average: grading.Of(8)},
		{StudentID: "second", Average: grading.Of(8)},
	}

	ranking := Rank(students)

	assert.Equal(t, "first", ranking.Top[0].StudentID)
	assert.Equal(t, "second", ranking.Bottom[0].StudentID)
}

func TestRank_FewerThanFive(t *testing.T) {
	ranking := Rank([]StudentAggregate{{StudentID: "a", Average: grading.Of(7)}})
	assert.Len(t, ranking.Top, 1)
	assert.Len(t, ranking.Bottom, 1)
}

func TestCourses(t *testing.T) {
	students := []StudentAggregate{
		{Course: "8vo", Section: "A", Average: grading.Of(6)},
		{Course: "9no", Section: "A", Average: grading.Of(9)},
		{Course: "8vo", Section: "A", Average: grading.Of(8)},
		{Course: "8vo", Section: "B"},
	}

	courses := Courses(students)

	require.Len(t, courses, 2)
	assert.Equal(t, CourseAggregate{Course: "9no A", Average: grading.Of(9), StudentCount: 1}, courses[0])
	assert.Equal(t, CourseAggregate{Course: "8vo A", Average: grading.Of(7), StudentCount: 2}, courses[1])
}

func TestCourseKey_IsVerbatim(t *testing.T) {
	assert.Equal(t, "8vo  A", CourseKey("8vo ", "A"))
	assert.Equal(t, " ", CourseKey("", ""))
}

func TestSubjects_IncludeQualitativeGrades(t *testing.T) {
	records := []models.Record{
		rec("1", "Ana", "8vo", "A", "Básica Superior", "Animación a la Lectura", "Pérez", grading.Of(10)),
		rec("2", "Luis", "8vo", "A", "Básica Superior", "Animación a la Lectura", "Gómez", grading.Of(8)),
		rec("3", "Eva", "8vo", "B", "Básica Superior", "Animación a la Lectura", "Pérez", grading.Absent),
		rec("1", "Ana", "8vo", "A", "Básica Superior", "Matemática", "Mora", grading.Of(6)),
		rec("1", "Ana", "8vo", "A", "Básica Superior", "Inglés", "", grading.Absent),
		rec("1", "Ana", "8vo", "A", "Básica Superior", "", "Nadie", grading.Of(1)),
	}

	subjects := Subjects(records)

	require.Len(t, subjects, 3)
	assert.Equal(t, "Animación a la Lectura", subjects[0].Subject)
	assert.Equal(t, grading.Of(9), subjects[0].Average)
	assert.Equal(t, 2, subjects[0].GradeCount)
	assert.Equal(t, []string{"Pérez", "Gómez"}, subjects[0].Teachers)

	assert.Equal(t, "Matemática", subjects[1].Subject)
	assert.Equal(t, "Inglés", subjects[2].Subject)
	assert.False(t, subjects[2].Average.Present)
	assert.Empty(t, subjects[2].Teachers)
}

func TestTeachers(t *testing.T) {
	records := []models.Record{
		{Teacher: "Mora"},
		{Teacher: "Álvarez"},
		{Teacher: ""},
		{Teacher: "Mora"},
		{Teacher: "Benítez"},
	}

	assert.Equal(t, []string{"Benítez", "Mora", "Álvarez"}, Teachers(records))
	assert.Empty(t, Teachers(nil))
}

func TestCompute_IsIdempotent(t *testing.T) {
	records := []models.Record{
		rec("1", "Ana", "8vo", "A", "Básica Superior", "Matemática", "Mora", grading.Of(8)),
		rec("1", "Ana", "8vo", "A", "Básica Superior", "Animación a la Lectura", "Pérez", grading.Of(2)),
		rec("2", "Luis", "8vo", "B", "Básica Superior", "Matemática", "Mora", grading.Of(6)),
		rec("3", "Eva", "2do", "A", "Elemental", "Matemática", "Ríos", grading.Of(9)),
	}
	c := classifier()

	first := Compute(records, c)
	second := Compute(records, c)

	assert.Equal(t, first, second)
	assert.Equal(t, Totals{Records: 4, UniqueStudents: 3, Subjects: 2, RankedStudents: 2}, first.Totals)
	assert.Equal(t, []string{"Mora", "Pérez", "Ríos"}, first.Teachers)
	require.Len(t, first.Top, 2)
	assert.Equal(t, "Ana", first.Top[0].Name)
	assert.Equal(t, grading.Of(8), first.Top[0].Average)
}

func TestDistinctSubjects(t *testing.T) {
	records := []models.Record{{Subject: "B"}, {Subject: ""}, {Subject: "A"}, {Subject: "B"}}
	assert.Equal(t, []string{"B", "A"}, DistinctSubjects(records))
}
