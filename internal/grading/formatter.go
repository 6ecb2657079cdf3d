package grading

import "strings"

type Tier string

const (
	TierExcellent  Tier = "excellent"
	TierGood       Tier = "good"
	TierRegular    Tier = "regular"
	TierPoor       Tier = "poor"
	TierNeutral    Tier = "neutral"
	TierIncomplete Tier = "incomplete"
	TierStatus     Tier = "status"
)

const placeholder = "-"

type Display struct {
	Tier  Tier   `json:"tier"`
	Label string `json:"label"`
}

type letterStep struct {
	min       float64
	inclusive bool
	label     string
	tier      Tier
}

// Highest first. The last step catches everything at or below zero.
var letterScale = []letterStep{
	{9.5, true, "A+", TierExcellent},
	{8.5, true, "A-", TierExcellent},
	{7.5, true, "B+", TierGood},
	{6.5, true, "B-", TierGood},
	{5.5, true, "C+", TierRegular},
	{4.5, true, "C-", TierRegular},
	{3.5, true, "D+", TierPoor},
	{2.5, true, "D-", TierPoor},
	{1.5, true, "E+", TierPoor},
	{0, false, "E-", TierPoor},
}

func Format(g Grade, c Classification) Display {
	if !g.Present {
		return Display{Tier: TierNeutral, Label: placeholder}
	}
	if c == Qualitative {
		return formatLetter(g.Value)
	}
	return formatNumeric(g.Value)
}

func NumericTier(v float64) Tier {
	switch {
	case v >= 9:
		return TierExcellent
	case v >= 7:
		return TierGood
	case v >= 5:
		return TierRegular
	default:
		return TierPoor
	}
}

func formatNumeric(v float64) Display {
	return Display{Tier: NumericTier(v), Label: trimDecimal(v)}
}

func formatLetter(v float64) Display {
	for _, step := range letterScale {
		if v >= step.min && (step.inclusive || v > step.min) {
			return Display{Tier: step.tier, Label: step.label}
		}
	}
	return Display{Tier: TierPoor, Label: "NE"}
}

// Periods holds the three trimester grades of one subject row.
type Periods [3]Grade

func (p Periods) Complete() bool {
	return p[0].Present && p[1].Present && p[2].Present
}

// Summary is the rendered average and status pair of a subject row.
type Summary struct {
	Average Display `json:"average"`
	Status  Display `json:"status"`
}

// FormatSummary renders the average and status columns. Both stay hidden
// until every trimester has a grade, whatever the stored average says.
// Averages always use the numeric scale.
func FormatSummary(periods Periods, average Grade, status string) Summary {
	if !periods.Complete() {
		hidden := Display{Tier: TierIncomplete, Label: placeholder}
		return Summary{Average: hidden, Status: hidden}
	}

	s := Summary{
		Average: Format(average, Quantitative),
		Status:  Display{Tier: TierStatus, Label: status},
	}
	if strings.TrimSpace(status) == "" {
		s.Status = Display{Tier: TierNeutral, Label: placeholder}
	}
	return s
}
