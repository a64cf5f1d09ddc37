package fixture

import (
	"sort"
	"strconv"
	"strings"
)

// MaxNodeID bounds a single range token so a typo such as "1-9999999999"
// cannot allocate an unbounded node list.
const MaxNodeID = 1 << 20

// NodeRange is an ascending, duplicate-free list of 1-based node ids.
type NodeRange []int

// ParseRange parses range syntax such as "1-5,10,15-20". It never fails:
// malformed tokens ("x-", "5-", "a") and ids outside [1, MaxNodeID] are dropped.
func ParseRange(s string) NodeRange {
	seen := make(map[int]struct{})
	for _, part := range strings.Split(s, ",") {
		lo, hi, ok := parseRangeToken(strings.TrimSpace(part))
		if !ok {
			continue
		}
		for n := lo; n <= hi; n++ {
			seen[n] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	nodes := make(NodeRange, 0, len(seen))
	for n := range seen {
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)
	return nodes
}

func parseRangeToken(tok string) (int, int, bool) {
	if tok == "" {
		return 0, 0, false
	}
	startStr, endStr, isRange := strings.Cut(tok, "-")
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil || start < 1 || start > MaxNodeID {
		return 0, 0, false
	}
	if !isRange {
		return start, start, true
	}
	end, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil || end < 1 || end > MaxNodeID {
		return 0, 0, false
	}
	// a reversed range ("9-3") covers no nodes
	return start, end, start <= end
}

// Max returns the highest node id, or 0 for an empty range.
func (r NodeRange) Max() int {
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}
