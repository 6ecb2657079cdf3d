package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat_Absent(t *testing.T) {
	assert.Equal(t, Display{Tier: TierNeutral, Label: "-"}, Format(Absent, Quantitative))
	assert.Equal(t, Display{Tier: TierNeutral, Label: "-"}, Format(Absent, Qualitative))
}

func TestFormat_Quantitative(t *testing.T) {
	tests := []struct {
		value float64
		want  Display
	}{
		{10, Display{TierExcellent, "10"}},
		{9, Display{TierExcellent, "9"}},
		{8.999, Display{TierGood, "9"}},
		{7, Display{TierGood, "7"}},
		{6.5, Display{TierRegular, "6.5"}},
		{5, Display{TierRegular, "5"}},
		{4.99, Display{TierPoor, "4.99"}},
		{0, Display{TierPoor, "0"}},
		{7.125, Display{TierGood, "7.13"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(Of(tt.value), Quantitative), "value %v", tt.value)
	}
}

func TestFormat_Qualitative(t *testing.T) {
	tests := []struct {
		value float64
		label string
		tier  Tier
	}{
		{10, "A+", TierExcellent},
		{9.5, "A+", TierExcellent},
		{9.49, "A-", TierExcellent},
		{8.5, "A-", TierExcellent},
		{7.5, "B+", TierGood},
		{6.5, "B-", TierGood},
		{5.5, "C+", TierRegular},
		{4.5, "C-", TierRegular},
		{3.5, "D+", TierPoor},
		{2.5, "D-", TierPoor},
		{1.5, "E+", TierPoor},
		{1.49, "E-", TierPoor},
		{0.01, "E-", TierPoor},
		{0, "NE", TierPoor},
	}

	for _, tt := range tests {
		got := Format(Of(tt.value), Qualitative)
		assert.Equal(t, tt.label, got.Label, "value %v", tt.value)
		assert.Equal(t, tt.tier, got.Tier, "value %v", tt.value)
	}
}

func TestFormatSummary_IncompletePeriodsHideAverageAndStatus(t *testing.T) {
	periods := Periods{Of(8), Absent, Of(9)}

	got := FormatSummary(periods, Of(8.5), "APROBADO")

	hidden := Display{Tier: TierIncomplete, Label: "-"}
	assert.Equal(t, hidden, got.Average)
	assert.Equal(t, hidden, got.Status)
}

func TestFormatSummary_Complete(t *testing.T) {
	periods := Periods{Of(8), Of(7), Of(9)}

	got := FormatSummary(periods, Of(8), "APROBADO")
	assert.Equal(t, Display{TierGood, "8"}, got.Average)
	assert.Equal(t, Display{TierStatus, "APROBADO"}, got.Status)

	got = FormatSummary(periods, Absent, " ")
	assert.Equal(t, Display{TierNeutral, "-"}, got.Average)
	assert.Equal(t, Display{TierNeutral, "-"}, got.Status)
}

func TestPeriods_ZeroCountsAsPresent(t *testing.T) {
	assert.True(t, Periods{Of(0), Of(0), Of(0)}.Complete())
	assert.False(t, Periods{}.Complete())
}
