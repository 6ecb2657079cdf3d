package ingestion

import (
	"errors"
	"strings"

	"github.com/boletin/backend/internal/grading"
	"github.com/boletin/backend/internal/storage/models"
)

// Column headers of the published sheet.
const (
	ColStudentID   = "ID_STD"
	ColStudentName = "APELLIDOS Y NOMBRES"
	ColCourse      = "CURSO"
	ColSection     = "PARALELO"
	ColLevel       = "SUBNIVEL"
	ColPeriod      = "PERIODO LECTIVO"
	ColSubject     = "ASIGNATURA"
	ColTeacher     = "DOCENTE"
	ColTrimester1  = "TRIM-1"
	ColTrimester2  = "TRIM-2"
	ColTrimester3  = "TRIM-3"
	ColAverage     = "PROMEDIO"
	ColLegacyAvg   = "PROM"
	ColStatus      = "ESTADO"
)

var (
	ErrNoHeader        = errors.New("sheet has no header row")
	ErrMissingIDColumn = errors.New("sheet has no " + ColStudentID + " column")
)

// columnMap resolves header names to cell positions. Headers are trimmed;
// unknown headers are ignored and the first occurrence of a name wins.
type columnMap map[string]int

func newColumnMap(header []string) (columnMap, error) {
	if len(header) == 0 {
		return nil, ErrNoHeader
	}
	m := make(columnMap, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			continue
		}
		if _, dup := m[name]; !dup {
			m[name] = i
		}
	}
	if _, ok := m[ColStudentID]; !ok {
		return nil, ErrMissingIDColumn
	}
	return m, nil
}

func (m columnMap) get(row []string, col string) string {
	i, ok := m[col]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// record maps one row. It reports false when the row has no student ID.
func (m columnMap) record(row []string) (models.Record, bool) {
	id := strings.TrimSpace(m.get(row, ColStudentID))
	if id == "" {
		return models.Record{}, false
	}

	return models.Record{
		StudentID:     id,
		StudentName:   m.get(row, ColStudentName),
		Course:        m.get(row, ColCourse),
		Section:       m.get(row, ColSection),
		Level:         m.get(row, ColLevel),
		Period:        m.get(row, ColPeriod),
		Subject:       m.get(row, ColSubject),
		Teacher:       m.get(row, ColTeacher),
		Trimester1:    grading.ParseGrade(m.get(row, ColTrimester1)),
		Trimester2:    grading.ParseGrade(m.get(row, ColTrimester2)),
		Trimester3:    grading.ParseGrade(m.get(row, ColTrimester3)),
		Average:       grading.ParseGrade(m.get(row, ColAverage)),
		LegacyAverage: grading.ParseGrade(m.get(row, ColLegacyAvg)),
		Status:        m.get(row, ColStatus),
	}, true
}
