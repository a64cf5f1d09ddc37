package fixture

import (
	"errors"
	"strings"
)

// ErrMalformedFixture is returned when a description cannot yield a usable
// channel layout even after the fallback rules.
var ErrMalformedFixture = errors.New("malformed fixture")

// Kind is the normalised display type of a fixture.
type Kind string

const (
	KindMatrix     Kind = "matrix"
	KindSingleLine Kind = "single_line"
	KindPolyLine   Kind = "poly_line"
	KindCustom     Kind = "custom"
	KindOther      Kind = "other"
)

// Node is one RGB light position in a linear layout.
type Node struct {
	Index        int
	StartChannel int
	ChannelSpan  int
}

// FaceInfo maps named face shapes to node ranges and colours.
type FaceInfo struct {
	Name   string
	Type   string
	Shapes map[string]string
	Colors map[string]RGB
	// Order lists shape names as they were declared in the document.
	Order []string
}

// MouthShapes returns the "Mouth-*" shapes keyed by their suffix (AI, O, etc, rest...).
func (f *FaceInfo) MouthShapes() map[string]string {
	out := make(map[string]string)
	if f == nil {
		return out
	}
	for name, nodes := range f.Shapes {
		if suffix, ok := strings.CutPrefix(name, MouthPrefix); ok {
			out[suffix] = nodes
		}
	}
	return out
}

// MouthPrefix marks face shapes that are driven by the timing track.
const MouthPrefix = "Mouth-"

// IsMouthShape reports whether a face shape name belongs to the mouth group.
func IsMouthShape(name string) bool {
	return strings.Contains(name, "Mouth")
}

// Model is one parsed lighting fixture. It is never mutated after Parse returns.
type Model struct {
	Name         string
	Filename     string
	DisplayAs    string
	Kind         Kind
	StartChannel int
	ChannelCount int
	Width        int
	Height       int
	Nodes        []Node
	Face         *FaceInfo
	States       map[string]StateOverride
}

// EndChannel is the last 1-based channel used by the fixture.
func (m *Model) EndChannel() int {
	return m.StartChannel + m.ChannelCount - 1
}

// NodeCount is the number of RGB nodes the channel layout covers.
func (m *Model) NodeCount() int {
	return m.ChannelCount / 3
}

// State looks up a named state override.
func (m *Model) State(name string) (*StateOverride, bool) {
	if m == nil || name == "" {
		return nil, false
	}
	st, ok := m.States[name]
	if !ok {
		return nil, false
	}
	return &st, true
}
