// Package grading turns spreadsheet cells into grades, decides which scale a
// subject is graded on, and renders grades for display.
package grading

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Grade is a parsed cell value. The zero value is Absent, which is distinct
// from a present zero.
type Grade struct {
	Value   float64
	Present bool
}

var Absent = Grade{}

func Of(v float64) Grade {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Absent
	}
	return Grade{Value: v, Present: true}
}

// ParseGrade reads a cell such as " 8,5 " or "9.25". Anything that is not a
// finite decimal number, including the strings "undefined" and "null", is
// Absent. Hex literals and digit separators are rejected.
func ParseGrade(raw string) Grade {
	s := strings.TrimSpace(raw)
	if s == "" || s == "undefined" || s == "null" || strings.ContainsAny(s, "xX_") {
		return Absent
	}
	s = strings.Replace(s, ",", ".", 1)

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Absent
	}
	return Of(v)
}

// ParseValue accepts the loosely typed values a decoder may hand back.
func ParseValue(v any) Grade {
	switch t := v.(type) {
	case nil:
		return Absent
	case Grade:
		return t
	case string:
		return ParseGrade(t)
	case json.Number:
		return ParseGrade(t.String())
	case float64:
		return Of(t)
	case float32:
		return Of(float64(t))
	case int:
		return Of(float64(t))
	case int32:
		return Of(float64(t))
	case int64:
		return Of(float64(t))
	default:
		return Absent
	}
}

func (g Grade) String() string {
	if !g.Present {
		return "-"
	}
	return trimDecimal(g.Value)
}

func (g Grade) MarshalJSON() ([]byte, error) {
	if !g.Present {
		return []byte("null"), nil
	}
	return json.Marshal(g.Value)
}

func (g *Grade) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*g = Absent
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*g = ParseValue(v)
	return nil
}

// Mean averages the present grades. It is Absent when none are present.
func Mean(grades []Grade) Grade {
	var sum float64
	n := 0
	for _, g := range grades {
		if !g.Present {
			continue
		}
		sum += g.Value
		n++
	}
	if n == 0 {
		return Absent
	}
	return Of(sum / float64(n))
}

// trimDecimal renders up to two decimals without trailing zeros: 8.50 -> "8.5".
// Digits come from the exact binary value, so 8.345 -> "8.34"; exact halves
// round away from zero, so 7.125 -> "7.13".
func trimDecimal(v float64) string {
	if r, ok := roundExactHalf(v); ok {
		v = r
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		return "0"
	}
	return s
}

// roundExactHalf reports whether v*100 lies exactly halfway between two
// integers and, if so, returns v rounded to hundredths away from zero.
func roundExactHalf(v float64) (float64, bool) {
	scaled := new(big.Float).SetPrec(256).SetFloat64(math.Abs(v))
	scaled.Mul(scaled, big.NewFloat(100))

	whole, _ := scaled.Int(nil)
	frac := new(big.Float).SetPrec(256).Sub(scaled, new(big.Float).SetInt(whole))
	if frac.Cmp(big.NewFloat(0.5)) != 0 {
		return 0, false
	}

	whole.Add(whole, big.NewInt(1))
	up, _ := new(big.Float).SetInt(whole).Float64()
	return math.Copysign(up/100, v), true
}
