package timing

import "strings"

// Silence is the label reported when no mark covers a timestamp.
const Silence = "sil"

// IsSilence reports whether label is the silence label, ignoring case and
// surrounding space.
func IsSilence(label string) bool {
	return strings.EqualFold(strings.TrimSpace(label), Silence)
}

// Mark is one timed label, a word or a viseme code. The interval is [StartMS, EndMS).
type Mark struct {
	Label   string `json:"label"`
	StartMS uint32 `json:"start_ms"`
	EndMS   uint32 `json:"end_ms"`
}

// Contains reports whether t falls inside the mark.
func (m Mark) Contains(t uint32) bool {
	return m.StartMS <= t && t < m.EndMS
}

// Track is an ordered list of marks. Marks may overlap or leave gaps.
type Track []Mark

// Lookup returns the label of the first mark containing t, or Silence.
func (tr Track) Lookup(t uint32) string {
	for _, m := range tr {
		if m.Contains(t) {
			return m.Label
		}
	}
	return Silence
}

// DurationMS is the latest end of any mark, or zero for an empty track.
// Marks need not be ordered by end time.
func (tr Track) DurationMS() uint32 {
	var end uint32
	for _, m := range tr {
		end = max(end, m.EndMS)
	}
	return end
}
