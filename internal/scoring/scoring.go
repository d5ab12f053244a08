// Package scoring maps a caption to a bounded plausibility score.
package scoring

import (
	"math/rand/v2"
	"strings"
	"unicode/utf8"
)

const (
	MinScore = -0.9
	MaxScore = 0.9

	// ShortCaptionScore is returned for captions under MinCaptionLength.
	ShortCaptionScore = -0.5
	MinCaptionLength  = 15

	longCaptionLength = 50
	longCaptionBonus  = 0.3
	keywordBonus      = 0.1
	sentenceBonus     = 0.2
	perturbation      = 0.15
)

// Keywords are the descriptive terms that each add keywordBonus when present.
var Keywords = []string{
	"shows", "displays", "contains", "depicts",
	"image", "picture", "photo", "photograph",
	"background", "foreground", "color", "featuring",
}

// RandomSource yields values in [0, 1).
type RandomSource interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// DefaultSource draws from the process-wide math/rand/v2 generator.
func DefaultSource() RandomSource { return globalSource{} }

// FixedSource always returns the same value.
type FixedSource float64

func (f FixedSource) Float64() float64 { return float64(f) }

// ZeroPerturbation makes Score deterministic.
const ZeroPerturbation = FixedSource(0.5)

// Engine scores captions. It is safe for sequential use; concurrent use is
// as safe as its RandomSource.
type Engine struct {
	rnd RandomSource
}

// NewEngine returns an Engine drawing perturbation from src, or from
// DefaultSource when src is nil.
func NewEngine(src RandomSource) *Engine {
	if src == nil {
		src = DefaultSource()
	}
	return &Engine{rnd: src}
}

// Score returns the plausibility of caption in [MinScore, MaxScore].
func (e *Engine) Score(caption string) float64 {
	length := utf8.RuneCountInString(caption)
	if length < MinCaptionLength {
		return ShortCaptionScore
	}

	score := 0.0
	if length > longCaptionLength {
		score += longCaptionBonus
	}
	score += float64(KeywordMatches(caption)) * keywordBonus
	if IsSentence(caption) {
		score += sentenceBonus
	}
	score += e.perturbation()

	return clamp(score, MinScore, MaxScore)
}

// KeywordMatches counts the distinct keywords contained in caption, ignoring case.
func KeywordMatches(caption string) int {
	lower := strings.ToLower(caption)
	count := 0
	for _, kw := range Keywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	return count
}

// IsSentence reports whether caption starts with an ASCII uppercase letter
// and ends with '.', '!' or '?' without spanning lines.
func IsSentence(caption string) bool {
	if len(caption) < 2 || strings.ContainsAny(caption, "\n\r\u2028\u2029") {
		return false
	}
	first := caption[0]
	if first < 'A' || first > 'Z' {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(caption)
	return last == '.' || last == '!' || last == '?'
}

func (e *Engine) perturbation() float64 {
	return clamp(e.rnd.Float64()*2*perturbation-perturbation, -perturbation, perturbation)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
