// Package face resolves a fixture's named face shapes and an optional state
// palette into the ordered element set rendered for every frame.
package face

import (
	"strings"

	"github.com/loqalabs/loqa-facesync/internal/fixture"
)

// Element is one named shape with its nodes and colour.
type Element struct {
	Name  string
	Nodes fixture.NodeRange
	Color fixture.RGB
	// HasColor is false when neither the fixture nor a state supplied a colour.
	HasColor bool
	Mouth    bool
}

// Elements is the ordered, read-only element set for one run.
type Elements struct {
	list  []Element
	index map[string]int
}

func newElements() *Elements {
	return &Elements{index: make(map[string]int)}
}

func (e *Elements) put(el Element) {
	if i, ok := e.index[el.Name]; ok {
		e.list[i] = el
		return
	}
	e.index[el.Name] = len(e.list)
	e.list = append(e.list, el)
}

// All returns the elements in resolution order.
func (e *Elements) All() []Element {
	if e == nil {
		return nil
	}
	return e.list
}

// Get looks an element up by exact name.
func (e *Elements) Get(name string) (Element, bool) {
	if e == nil {
		return Element{}, false
	}
	i, ok := e.index[name]
	if !ok {
		return Element{}, false
	}
	return e.list[i], true
}

func (e *Elements) Len() int {
	if e == nil {
		return 0
	}
	return len(e.list)
}

// Resolve merges face shapes with their colours in declared order, then
// applies the override entries in slot order. An entry whose normalised name
// matches an existing element replaces its nodes and colour; any other entry
// is added under its own identifier.
func Resolve(info *fixture.FaceInfo, override *fixture.StateOverride) *Elements {
	elems := newElements()
	if info != nil {
		for _, name := range info.Order {
			nodes, ok := info.Shapes[name]
			if !ok {
				continue
			}
			color, hasColor := info.Colors[name]
			if !hasColor {
				color = fixture.White
			}
			elems.put(Element{
				Name:     name,
				Nodes:    fixture.ParseRange(nodes),
				Color:    color,
				HasColor: hasColor,
				Mouth:    fixture.IsMouthShape(name),
			})
		}
	}
	if override == nil {
		return elems
	}
	for _, entry := range override.Entries {
		target := entry.Identifier()
		if existing, ok := elems.match(target); ok {
			target = existing
		}
		elems.put(Element{
			Name:     target,
			Nodes:    fixture.ParseRange(entry.Nodes),
			Color:    entry.Color,
			HasColor: true,
			Mouth:    fixture.IsMouthShape(target),
		})
	}
	return elems
}

func (e *Elements) match(name string) (string, bool) {
	want := normalize(name)
	for _, el := range e.list {
		if normalize(el.Name) == want {
			return el.Name, true
		}
	}
	return "", false
}

func normalize(name string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(name))
}
