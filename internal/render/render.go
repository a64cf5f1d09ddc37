// Package render turns a resolved face and a timing track into channel frames.
package render

import (
	"github.com/loqalabs/loqa-facesync/internal/face"
	"github.com/loqalabs/loqa-facesync/internal/timing"
	"github.com/loqalabs/loqa-facesync/internal/viseme"
)

// Frame holds one byte per channel; index 0 is channel 1.
type Frame []byte

// Stats counts what a render skipped.
type Stats struct {
	// OutOfBounds counts node writes that fell outside the frame.
	OutOfBounds int
	// Category is the mouth category shown, empty when no mouth was overlaid.
	Category viseme.Category
}

// Add accumulates another frame's stats.
func (s *Stats) Add(o Stats) {
	s.OutOfBounds += o.OutOfBounds
}

// Render builds the frame at timeMS in two passes: static (non-mouth)
// elements first, then the mouth shape for the active label unless the label
// is silence. Node n writes channels (n-1)*3+offset through +2.
func Render(timeMS uint32, elems *face.Elements, track timing.Track, totalChannels, channelOffset int) (Frame, Stats) {
	frame := make(Frame, max(totalChannels, 0))
	var stats Stats

	for _, el := range elems.All() {
		if el.Mouth {
			continue
		}
		stats.OutOfBounds += paint(frame, el, channelOffset)
	}

	label := track.Lookup(timeMS)
	if timing.IsSilence(label) {
		return frame, stats
	}
	category := viseme.Classify(label)
	mouth, ok := elems.Get(category.ShapeName())
	if !ok {
		return frame, stats
	}
	stats.OutOfBounds += paint(frame, mouth, channelOffset)
	stats.Category = category
	return frame, stats
}

func paint(frame Frame, el face.Element, offset int) int {
	skipped := 0
	for _, node := range el.Nodes {
		base := (node-1)*3 + offset
		if base < 0 || base+2 >= len(frame) {
			skipped++
			continue
		}
		frame[base] = el.Color.R
		frame[base+1] = el.Color.G
		frame[base+2] = el.Color.B
	}
	return skipped
}
