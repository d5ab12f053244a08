package scoring

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortCaptionsScoreExactlyMinusHalf(t *testing.T) {
	engine := NewEngine(FixedSource(0.99))
	for _, caption := range []string{"", "a", "Short caption.", strings.Repeat("x", 14)} {
		assert.Equal(t, -0.5, engine.Score(caption), "caption %q", caption)
	}
}

func TestShortCaptionCountsRunesNotBytes(t *testing.T) {
	// 14 runes, more than 15 bytes.
	caption := "Café Crème Brû"
	assert.Equal(t, -0.5, NewEngine(ZeroPerturbation).Score(caption))
}

func TestEmojiCaptionLengthCountsCodePoints(t *testing.T) {
	engine := NewEngine(ZeroPerturbation)
	// One rune each, two UTF-16 units each.
	short := strings.Repeat("a", 13) + "😀"
	assert.Equal(t, 14, len([]rune(short)))
	assert.Equal(t, -0.5, engine.Score(short))

	long := strings.Repeat("a", 14) + "😀"
	assert.Equal(t, 0.0, engine.Score(long))
}

func TestSentenceWithoutKeywordsScenario(t *testing.T) {
	caption := "A cat sits on a mat."
	assert.InDelta(t, 0.2, NewEngine(ZeroPerturbation).Score(caption), 1e-9)

	for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999999} {
		got := NewEngine(FixedSource(r)).Score(caption)
		assert.GreaterOrEqual(t, got, 0.05-1e-9)
		assert.LessOrEqual(t, got, 0.35+1e-9)
	}
}

func TestLongCaptionWithKeywords(t *testing.T) {
	caption := "This photo shows a red color car in the foreground of the picture"
	// long (+0.3), photo/shows/color/foreground/picture (+0.5), no sentence.
	assert.InDelta(t, 0.8, NewEngine(ZeroPerturbation).Score(caption), 1e-9)
}

func TestScoreIsClamped(t *testing.T) {
	caption := "The photograph image shows, displays, contains and depicts a picture featuring background and foreground color."
	assert.Equal(t, MaxScore, NewEngine(FixedSource(0.999999)).Score(caption))
	assert.Equal(t, MaxScore, NewEngine(ZeroPerturbation).Score(caption))
}

func TestScoreAlwaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	engine := NewEngine(rng)
	words := append([]string{"cat", "Dog", "tree", "."}, Keywords...)
	for i := 0; i < 2000; i++ {
		n := rng.IntN(30)
		parts := make([]string, n)
		for j := range parts {
			parts[j] = words[rng.IntN(len(words))]
		}
		got := engine.Score(strings.Join(parts, " "))
		assert.GreaterOrEqual(t, got, MinScore)
		assert.LessOrEqual(t, got, MaxScore)
	}
}

func TestPerturbationRangeIsClosed(t *testing.T) {
	caption := "a plain lowercase caption"
	lo := NewEngine(FixedSource(0)).Score(caption)
	hi := NewEngine(FixedSource(1)).Score(caption)
	assert.InDelta(t, -0.15, lo, 1e-9)
	assert.InDelta(t, 0.15, hi, 1e-9)
}

func TestMoreKeywordsNeverLowerScore(t *testing.T) {
	engine := NewEngine(ZeroPerturbation)
	base := "a scene of a quiet street at night"
	prev := engine.Score(base)
	caption := base
	for _, kw := range Keywords {
		caption += " " + kw
		got := engine.Score(caption)
		assert.GreaterOrEqual(t, got, prev, "after adding %q", kw)
		prev = got
	}
}

func TestKeywordMatchesIsCaseInsensitiveAndDistinct(t *testing.T) {
	assert.Equal(t, 1, KeywordMatches("SHOWS shows Shows"))
	// "photograph" also contains "photo".
	assert.Equal(t, 2, KeywordMatches("a Photograph"))
	assert.Equal(t, 0, KeywordMatches("nothing here"))
}

func TestIsSentence(t *testing.T) {
	cases := map[string]bool{
		"A cat sits on a mat.":  true,
		"Wow!":                  true,
		"Is it?":                true,
		"a cat sits on a mat.":  false,
		"A cat sits on a mat":   false,
		"A cat\nsits on a mat.": false,
		"Élan vital.":           false,
		"A":                     false,
	}
	for in, want := range cases {
		assert.Equal(t, want, IsSentence(in), "caption %q", in)
	}
}
