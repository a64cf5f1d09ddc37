package timing

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/bytedance/sonic"
)

// ErrSourceUnusable is returned when a timing source cannot be turned into marks.
var ErrSourceUnusable = errors.New("timing source unusable")

// Source is a raw timing document: a JSON array of viseme or word entries.
type Source []byte

type rawEntry struct {
	Viseme    *string  `json:"viseme"`
	Phoneme   *string  `json:"phoneme"`
	Word      *string  `json:"word"`
	StartMS   *float64 `json:"start_ms"`
	EndMS     *float64 `json:"end_ms"`
	StartTime *float64 `json:"start_time"`
	EndTime   *float64 `json:"end_time"`
}

func (e rawEntry) label() (string, bool) {
	switch {
	case e.Viseme != nil:
		return *e.Viseme, true
	case e.Phoneme != nil:
		return *e.Phoneme, true
	case e.Word != nil:
		return *e.Word, true
	}
	return "", false
}

func (e rawEntry) bounds() (start, end float64) {
	start = firstSet(e.StartTime, e.StartMS)
	end = firstSet(e.EndTime, e.EndMS)
	return start, end
}

// firstSet mirrors the word-format precedence: start_time wins over start_ms
// unless it is absent or zero.
func firstSet(primary, secondary *float64) float64 {
	if primary != nil && *primary != 0 {
		return *primary
	}
	if secondary != nil {
		return *secondary
	}
	return 0
}

// Normalize converts a timing source into a track. Entries without a label
// or with an empty interval are dropped. An undecodable source, or one that
// yields no marks, is ErrSourceUnusable.
func Normalize(src Source) (Track, error) {
	var entries []rawEntry
	if err := sonic.Unmarshal(src, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnusable, err)
	}
	track := make(Track, 0, len(entries))
	for _, e := range entries {
		label, ok := e.label()
		if !ok {
			continue
		}
		start, end := e.bounds()
		if start < 0 || end <= start {
			continue
		}
		track = append(track, Mark{
			Label:   label,
			StartMS: clampMS(start),
			EndMS:   clampMS(end),
		})
	}
	if len(track) == 0 {
		return nil, fmt.Errorf("%w: no usable entries", ErrSourceUnusable)
	}
	return track, nil
}

func clampMS(v float64) uint32 {
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// BuildOptions control the synthesis fallback.
type BuildOptions struct {
	Text       string
	DurationMS uint32
	Estimate   EstimateOptions
	Logger     *slog.Logger
}

// Build prefers the supplied source and falls back to estimated word timings
// when the source is absent or unusable.
func Build(src Source, opts BuildOptions) Track {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if len(src) > 0 {
		track, err := Normalize(src)
		if err == nil {
			return track
		}
		log.Warn("timing source rejected, estimating word timings", slog.String("error", err.Error()))
	}
	return Estimate(opts.Text, opts.DurationMS, opts.Estimate)
}
