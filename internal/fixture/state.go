package fixture

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// DefaultStateSlots is the number of sNNN slots read from a stateInfo block
// when no explicit bound is configured. xLights writes at most nine.
const DefaultStateSlots = 9

// StateEntry is one slot of a named state palette.
type StateEntry struct {
	Slot  string
	Name  string
	Nodes string
	Color RGB
}

// Identifier is the shape name the entry resolves to when it matches nothing.
func (e StateEntry) Identifier() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Slot
}

// StateOverride is a named palette that replaces or adds face shapes.
type StateOverride struct {
	Name    string
	Entries []StateEntry
}

func slotKey(i int) string {
	return fmt.Sprintf("s%03d", i)
}

// isSlotKey reports whether key names a state slot s001..sNNN within the bound.
func isSlotKey(key string, slots int) bool {
	if len(key) != 4 || key[0] != 's' {
		return false
	}
	n, err := strconv.Atoi(key[1:])
	return err == nil && key[1] >= '0' && key[1] <= '9' && n >= 1 && n <= slots
}

// parseStateInfo reads slots s001..sNNN in order. A slot needs both nodes and
// a colour to count.
func parseStateInfo(el element, slots int, log *slog.Logger) StateOverride {
	name, _ := el.attr("Name")
	st := StateOverride{Name: name}
	for i := 1; i <= slots; i++ {
		key := slotKey(i)
		nodes, _ := el.attr(key)
		colorStr, _ := el.attr(key + "-Color")
		nodes = strings.TrimSpace(nodes)
		colorStr = strings.TrimSpace(colorStr)
		if nodes == "" || colorStr == "" {
			continue
		}
		color, ok := ColorOrFallback(colorStr)
		if !ok {
			log.Warn("unreadable state color",
				slog.String("state", name),
				slog.String("slot", key),
				slog.String("value", colorStr))
		}
		elemName, _ := el.attr(key + "-Name")
		st.Entries = append(st.Entries, StateEntry{
			Slot:  key,
			Name:  strings.TrimSpace(elemName),
			Nodes: nodes,
			Color: color,
		})
	}
	return st
}
