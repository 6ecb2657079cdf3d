package grading

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Classification int

const (
	Quantitative Classification = iota
	Qualitative
)

func (c Classification) String() string {
	if c == Qualitative {
		return "qualitative"
	}
	return "quantitative"
}

func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Rules decide which subject and level combinations use the letter scale.
// Entries are matched after Normalize, so "Básica Superior" and
// "basica superior" are the same level.
type Rules struct {
	// Any level containing one of these is graded qualitatively.
	QualitativeLevels []string
	// Subjects in QualitativeSubjects are qualitative only within levels
	// containing ExceptionLevel.
	ExceptionLevel      string
	QualitativeSubjects []string
}

func DefaultRules() Rules {
	return Rules{
		QualitativeLevels: []string{"elemental"},
		ExceptionLevel:    "superior",
		QualitativeSubjects: []string{
			"animacion a la lectura",
			"orientacion vocacional y profesional",
		},
	}
}

type Classifier struct {
	levels         []string
	exceptionLevel string
	subjects       map[string]struct{}
}

func NewClassifier(rules Rules) *Classifier {
	c := &Classifier{
		exceptionLevel: Normalize(rules.ExceptionLevel),
		subjects:       make(map[string]struct{}, len(rules.QualitativeSubjects)),
	}
	for _, level := range rules.QualitativeLevels {
		if n := Normalize(level); n != "" {
			c.levels = append(c.levels, n)
		}
	}
	for _, subject := range rules.QualitativeSubjects {
		if n := Normalize(subject); n != "" {
			c.subjects[n] = struct{}{}
		}
	}
	return c
}

func (c *Classifier) Classify(subject, level string) Classification {
	lvl := Normalize(level)
	for _, keyword := range c.levels {
		if strings.Contains(lvl, keyword) {
			return Qualitative
		}
	}

	if c.exceptionLevel != "" && strings.Contains(lvl, c.exceptionLevel) {
		if _, ok := c.subjects[Normalize(subject)]; ok {
			return Qualitative
		}
	}

	return Quantitative
}

func (c *Classifier) IsQualitative(subject, level string) bool {
	return c.Classify(subject, level) == Qualitative
}

// Normalize strips diacritics, lowercases and trims: " Animación " -> "animacion".
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(strings.ToLower(out))
}
