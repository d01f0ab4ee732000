// Package pacing scores free-text fields of an intent's context for
// urgency and pressure language. The signal is advisory: operators feed it
// into governance rules or dashboards, the kernel never consults it.
package pacing

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Signal is the analyzer's advisory output.
type Signal struct {
	// Score is 0..1; higher means more pressure language.
	Score float64 `json:"score"`
	// Matches lists the keywords that fired, normalized form.
	Matches []string `json:"matches,omitempty"`
	// Elevated is true once Score crosses the threshold.
	Elevated bool `json:"elevated"`
}

// Analyzer holds the keyword weights. Zero value is unusable; use New.
type Analyzer struct {
	weights   map[string]float64
	threshold float64
	folder    cases.Caser
}

// defaultWeights cover the pressure vocabulary the analyzer ships with.
// Weights are relative; the score saturates at 1.
var defaultWeights = map[string]float64{
	"urgent":      0.4,
	"immediately": 0.4,
	"now":         0.2,
	"asap":        0.4,
	"emergency":   0.5,
	"override":    0.5,
	"bypass":      0.6,
	"skip":        0.3,
	"force":       0.4,
	"critical":    0.3,
	"deadline":    0.2,
	"hurry":       0.4,
}

// New creates an analyzer with the default vocabulary.
func New() *Analyzer {
	return NewWithWeights(defaultWeights, 0.5)
}

// NewWithWeights creates an analyzer with a custom vocabulary. Keys are
// matched after NFC normalization and case folding.
func NewWithWeights(weights map[string]float64, threshold float64) *Analyzer {
	folder := cases.Fold()
	normalized := make(map[string]float64, len(weights))
	for k, w := range weights {
		normalized[folder.String(norm.NFC.String(k))] = w
	}
	return &Analyzer{weights: normalized, threshold: threshold, folder: cases.Fold()}
}

// Analyze scores one text. Unicode input is NFC-normalized and case-folded
// before tokenization, so "URGENT", "urgent", and decomposed forms all
// match the same keyword.
func (a *Analyzer) Analyze(text string) Signal {
	if text == "" {
		return Signal{}
	}
	folded := a.folder.String(norm.NFC.String(text))

	var score float64
	var matches []string
	seen := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		w, ok := a.weights[tok]
		if !ok || seen[tok] {
			continue
		}
		seen[tok] = true
		score += w
		matches = append(matches, tok)
	}
	if score > 1 {
		score = 1
	}
	return Signal{Score: score, Matches: matches, Elevated: score >= a.threshold}
}

// AnalyzeContext walks an intent context and scores every string value,
// returning the strongest signal found.
func (a *Analyzer) AnalyzeContext(ctx map[string]any) Signal {
	var strongest Signal
	a.walk(ctx, &strongest)
	return strongest
}

func (a *Analyzer) walk(v any, strongest *Signal) {
	switch val := v.(type) {
	case string:
		if s := a.Analyze(val); s.Score > strongest.Score {
			*strongest = s
		}
	case map[string]any:
		for _, inner := range val {
			a.walk(inner, strongest)
		}
	case []any:
		for _, inner := range val {
			a.walk(inner, strongest)
		}
	}
}
