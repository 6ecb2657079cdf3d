package models

import (
	"time"

	"github.com/boletin/backend/internal/grading"
)

// Record is one student-subject row of the published spreadsheet.
type Record struct {
	StudentID     string        `json:"student_id"`
	StudentName   string        `json:"student_name"`
	Level         string        `json:"level"`
	Course        string        `json:"course"`
	Section       string        `json:"section"`
	Period        string        `json:"period"`
	Subject       string        `json:"subject"`
	Teacher       string        `json:"teacher"`
	Trimester1    grading.Grade `json:"trimester_1"`
	Trimester2    grading.Grade `json:"trimester_2"`
	Trimester3    grading.Grade `json:"trimester_3"`
	Average       grading.Grade `json:"average"`
	LegacyAverage grading.Grade `json:"legacy_average"`
	Status        string        `json:"status"`
}

// EffectiveAverage prefers the PROMEDIO column and falls back to PROM.
func (r Record) EffectiveAverage() grading.Grade {
	if r.Average.Present {
		return r.Average
	}
	return r.LegacyAverage
}

func (r Record) Periods() grading.Periods {
	return grading.Periods{r.Trimester1, r.Trimester2, r.Trimester3}
}

type LoadStatus string

const (
	LoadSucceeded LoadStatus = "succeeded"
	LoadUnchanged LoadStatus = "unchanged"
	LoadFailed    LoadStatus = "failed"
)

// LoadEvent is one entry of the load history.
type LoadEvent struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Status      LoadStatus `json:"status"`
	RecordCount int        `json:"record_count"`
	ContentHash string     `json:"content_hash,omitempty"`
	Error       string     `json:"error,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `json:"created_at"`
}
