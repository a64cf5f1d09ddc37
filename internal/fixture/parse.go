package fixture

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Default node counts used when nothing better can be derived.
const (
	DefaultLinearNodes = 50
	DefaultCustomNodes = 30
	DefaultOtherNodes  = 20
	DefaultMatrixEdge  = 10
)

// Geometry limits. A fixture past them is rejected as malformed so the last
// channel always fits the 32-bit channel count of an FSEQ header.
const (
	MaxNodes        = MaxNodeID
	MaxStartChannel = 1 << 24
	MaxEndChannel   = MaxStartChannel + 3*MaxNodes - 1
)

// ParseOptions tunes Parse.
type ParseOptions struct {
	// StateSlots bounds how many sNNN slots are read per stateInfo block.
	StateSlots int
	Logger     *slog.Logger
}

func (o ParseOptions) withDefaults() ParseOptions {
	if o.StateSlots <= 0 {
		o.StateSlots = DefaultStateSlots
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// element is a generic XML node; attribute order is preserved.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []element  `xml:",any"`
}

func (e element) attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// walk visits e and all descendants depth first.
func (e element) walk(fn func(element)) {
	fn(e)
	for _, c := range e.Children {
		c.walk(fn)
	}
}

func (e element) descendants(tag string) []element {
	var out []element
	for _, c := range e.Children {
		c.walk(func(d element) {
			if d.XMLName.Local == tag {
				out = append(out, d)
			}
		})
	}
	return out
}

var reservedFaceAttrs = map[string]bool{
	"Name":         true,
	"CustomColors": true,
	"Type":         true,
}

var linearDisplays = map[string]bool{
	"single line": true,
	"poly line":   true,
	"icicles":     true,
	"tree":        true,
	"star":        true,
	"wreath":      true,
}

// shapeAttrPrefixes identify node-range attributes anywhere in the document.
var shapeAttrPrefixes = []string{"Mouth-", "Eyes-", "FaceOutline"}

// ParseFile parses the fixture description at path.
func ParseFile(path string, opts ParseOptions) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return Parse(f, filepath.Base(path), opts)
}

// Parse reads one fixture description. Individual malformed attributes are
// skipped with a warning; only an unusable channel layout fails the parse.
func Parse(r io.Reader, filename string, opts ParseOptions) (*Model, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With(slog.String("fixture", filename))

	var root element
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFixture, filename, err)
	}

	m := &Model{
		Filename:  filename,
		Name:      attrOr(root, "name", filename),
		DisplayAs: attrOr(root, "DisplayAs", "Unknown"),
	}
	m.Kind = kindFor(m.DisplayAs, root.XMLName.Local)
	m.StartChannel = intAttr(root, "StartChannel", 1, log)
	if m.StartChannel < 1 {
		log.Warn("start channel below 1, using 1", slog.Int("start_channel", m.StartChannel))
		m.StartChannel = 1
	}
	if m.StartChannel > MaxStartChannel {
		return nil, fmt.Errorf("%w: %s: start channel %d exceeds %d", ErrMalformedFixture, filename, m.StartChannel, MaxStartChannel)
	}

	if infos := root.descendants("faceInfo"); len(infos) > 0 {
		m.Face = parseFaceInfo(infos[0], log)
	}
	for _, st := range root.descendants("stateInfo") {
		state := parseStateInfo(st, opts.StateSlots, log)
		if state.Name == "" {
			log.Warn("stateInfo without name skipped")
			continue
		}
		if m.States == nil {
			m.States = make(map[string]StateOverride)
		}
		m.States[state.Name] = state
	}

	nodes, source := deriveNodeCount(root, m, opts.StateSlots, log)
	if nodes > MaxNodes {
		return nil, fmt.Errorf("%w: %s: %d nodes (%s) exceeds %d", ErrMalformedFixture, filename, nodes, source, MaxNodes)
	}
	m.ChannelCount = nodes * 3
	if m.ChannelCount <= 0 {
		return nil, fmt.Errorf("%w: %s: no channel geometry (%s gave %d nodes)", ErrMalformedFixture, filename, source, nodes)
	}
	if linearDisplays[strings.ToLower(m.DisplayAs)] {
		m.Nodes = make([]Node, nodes)
		for i := range m.Nodes {
			m.Nodes[i] = Node{Index: i, StartChannel: m.StartChannel + i*3, ChannelSpan: 3}
		}
	}
	log.Debug("fixture parsed",
		slog.String("name", m.Name),
		slog.String("kind", string(m.Kind)),
		slog.Int("channels", m.ChannelCount),
		slog.String("source", source))
	return m, nil
}

func kindFor(displayAs, tag string) Kind {
	switch strings.ToLower(displayAs) {
	case "matrix":
		return KindMatrix
	case "single line":
		return KindSingleLine
	case "poly line":
		return KindPolyLine
	case "custom":
		return KindCustom
	}
	if strings.EqualFold(tag, "custommodel") {
		return KindCustom
	}
	return KindOther
}

// deriveNodeCount applies the channel-count rules in priority order and
// reports which rule produced the answer.
func deriveNodeCount(root element, m *Model, slots int, log *slog.Logger) (int, string) {
	if m.Kind == KindMatrix {
		m.Width = intAttr(root, "parm1", DefaultMatrixEdge, log)
		m.Height = intAttr(root, "parm2", DefaultMatrixEdge, log)
		if m.Width <= 0 || m.Height <= 0 {
			return 0, "matrix"
		}
		if m.Width > MaxNodes || m.Height > MaxNodes {
			// either edge alone is already over the limit; skip the product
			return max(m.Width, m.Height), "matrix"
		}
		return m.Width * m.Height, "matrix"
	}
	if compressed, ok := root.attr("CustomModelCompressed"); ok && strings.TrimSpace(compressed) != "" {
		if highest := maxCompressedNode(compressed); highest > 0 {
			return highest, "compressed"
		}
		log.Warn("CustomModelCompressed holds no usable nodes")
	}
	if highest := maxShapeNode(root, m.Face, slots); highest > 0 {
		return highest, "shapes"
	}
	if m.Kind == KindCustom {
		if n := countNodeElements(root); n > 0 {
			return n, "elements"
		}
	}
	return intAttr(root, "parm1", defaultNodeCount(m), log), "parm1"
}

func defaultNodeCount(m *Model) int {
	switch {
	case linearDisplays[strings.ToLower(m.DisplayAs)]:
		return DefaultLinearNodes
	case m.Kind == KindCustom:
		return DefaultCustomNodes
	}
	return DefaultOtherNodes
}

// maxCompressedNode reads "node,x,y;node,x,y;..." entries.
func maxCompressedNode(s string) int {
	highest := 0
	for _, entry := range strings.Split(s, ";") {
		parts := strings.Split(strings.TrimSpace(entry), ",")
		if len(parts) < 3 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest
}

func maxShapeNode(root element, face *FaceInfo, slots int) int {
	highest := 0
	consider := func(value string) {
		if n := ParseRange(value).Max(); n > highest {
			highest = n
		}
	}
	root.walk(func(e element) {
		for _, a := range e.Attrs {
			key := a.Name.Local
			if isSlotKey(key, slots) {
				consider(a.Value)
				continue
			}
			if !hasAnyPrefix(key, shapeAttrPrefixes) ||
				strings.HasSuffix(key, "-Color") || strings.HasSuffix(key, "-Name") {
				continue
			}
			consider(a.Value)
		}
	})
	if face != nil {
		for _, nodes := range face.Shapes {
			consider(nodes)
		}
	}
	return highest
}

func countNodeElements(root element) int {
	count := 0
	for _, c := range root.Children {
		c.walk(func(e element) {
			switch strings.ToLower(e.XMLName.Local) {
			case "node", "pixel", "light":
				count++
			}
		})
	}
	return count
}

// parseFaceInfo classifies faceInfo attributes: "*-Color" keys are colours,
// reserved keys are metadata, everything else non-empty is a shape.
func parseFaceInfo(el element, log *slog.Logger) *FaceInfo {
	info := &FaceInfo{
		Shapes: make(map[string]string),
		Colors: make(map[string]RGB),
	}
	info.Name, _ = el.attr("Name")
	info.Type, _ = el.attr("Type")
	for _, a := range el.Attrs {
		key := a.Name.Local
		value := strings.TrimSpace(a.Value)
		if reservedFaceAttrs[key] || value == "" {
			continue
		}
		if shape, ok := strings.CutSuffix(key, "-Color"); ok {
			color, ok := ColorOrFallback(value)
			if !ok {
				log.Warn("unreadable face color", slog.String("attribute", key), slog.String("value", value))
			}
			info.Colors[shape] = color
			continue
		}
		if _, dup := info.Shapes[key]; !dup {
			info.Order = append(info.Order, key)
		}
		info.Shapes[key] = value
	}
	return info
}

func attrOr(e element, name, fallback string) string {
	if v, ok := e.attr(name); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func intAttr(e element, name string, fallback int, log *slog.Logger) int {
	v, ok := e.attr(name)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Warn("ignoring malformed attribute",
			slog.String("attribute", name),
			slog.String("value", v),
			slog.Int("default", fallback))
		return fallback
	}
	return n
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
