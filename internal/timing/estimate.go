package timing

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	DefaultDurationMS = 5000
	DefaultPaddingMS  = 100
	DefaultMinWordMS  = 100
)

// EstimateOptions tune the proportional word timing estimate.
type EstimateOptions struct {
	PaddingMS uint32
	MinWordMS uint32
}

// DefaultEstimate pads 100ms at each end and keeps every word at least 100ms long.
var DefaultEstimate = EstimateOptions{PaddingMS: DefaultPaddingMS, MinWordMS: DefaultMinWordMS}

// WordWeight is len(word)+1, stretched for trailing punctuation.
func WordWeight(word string) float64 {
	weight := float64(utf8.RuneCountInString(word) + 1)
	switch {
	case strings.HasSuffix(word, ".") || strings.HasSuffix(word, "!") || strings.HasSuffix(word, "?"):
		weight *= 1.5
	case strings.HasSuffix(word, ",") || strings.HasSuffix(word, ";") || strings.HasSuffix(word, ":"):
		weight *= 1.2
	}
	return weight
}

// Estimate spreads the words of text across durationMS proportionally to
// their weight. A zero duration means DefaultDurationMS.
func Estimate(text string, durationMS uint32, opts EstimateOptions) Track {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if durationMS == 0 {
		durationMS = DefaultDurationMS
	}

	weights := make([]float64, len(words))
	var total float64
	for i, w := range words {
		weights[i] = WordWeight(w)
		total += weights[i]
	}

	padding := float64(opts.PaddingMS)
	minWord := float64(opts.MinWordMS)
	usable := float64(durationMS) - 2*padding

	track := make(Track, 0, len(words))
	var cursor float64
	for i, w := range words {
		dur := math.Max(minWord, weights[i]/total*usable)
		start := cursor + padding
		track = append(track, Mark{
			Label:   w,
			StartMS: clampMS(start),
			EndMS:   clampMS(start + dur),
		})
		cursor += dur
	}
	return track
}
