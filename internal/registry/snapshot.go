package registry

import (
	"math"

	"github.com/loqalabs/loqa-facesync/internal/fixture"
)

// Fixture is an active fixture with its assigned role.
type Fixture struct {
	Model *fixture.Model
	Role  fixture.Role
}

// Snapshot is an immutable view of the active fixtures, ordered by file name.
// A generation run holds one snapshot for its whole duration.
type Snapshot struct {
	Version  uint64
	Fixtures []Fixture
	budget   uint32
}

func newSnapshot(version uint64, fixtures []Fixture) *Snapshot {
	s := &Snapshot{Version: version, Fixtures: fixtures}
	s.budget = ChannelBudget(fixtures)
	return s
}

// ByRole returns the fixtures assigned to role in file name order.
func (s *Snapshot) ByRole(role fixture.Role) []Fixture {
	if s == nil {
		return nil
	}
	var out []Fixture
	for _, f := range s.Fixtures {
		if f.Role == role {
			out = append(out, f)
		}
	}
	return out
}

// Primary is the first fixture of a role.
func (s *Snapshot) Primary(role fixture.Role) (Fixture, bool) {
	matches := s.ByRole(role)
	if len(matches) == 0 {
		return Fixture{}, false
	}
	return matches[0], true
}

// TotalChannelBudget is the highest channel used by any active fixture,
// rounded up to a multiple of 64, or DefaultChannelBudget when none is active.
func (s *Snapshot) TotalChannelBudget() uint32 {
	if s == nil {
		return DefaultChannelBudget
	}
	return s.budget
}

// ChannelBudget computes the budget for a fixture set.
func ChannelBudget(fixtures []Fixture) uint32 {
	highest := 0
	for _, f := range fixtures {
		highest = max(highest, f.Model.EndChannel())
	}
	if highest <= 0 {
		return DefaultChannelBudget
	}
	aligned := (uint64(highest) + channelAlignment - 1) / channelAlignment * channelAlignment
	if aligned > math.MaxUint32 {
		return math.MaxUint32 / channelAlignment * channelAlignment
	}
	return uint32(aligned)
}
