package fixture

import "strings"

// Role is the part a fixture plays in the display.
type Role string

const (
	RoleFace       Role = "face"
	RoleOutline    Role = "outline"
	RoleBackground Role = "background"
	RoleProp       Role = "prop"
)

// smallMatrixLimit is the largest matrix edge still treated as a face.
const smallMatrixLimit = 32

type roleRule struct {
	role  Role
	match func(m *Model, name, display string) bool
}

// roleRules are evaluated in order; the first match wins and prop catches the rest.
var roleRules = []roleRule{
	{RoleFace, func(m *Model, name, _ string) bool {
		return containsAny(name, "face", "head", "mouth", "reindeer") ||
			(m.Kind == KindMatrix && m.Width <= smallMatrixLimit && m.Height <= smallMatrixLimit) ||
			m.Face != nil
	}},
	{RoleOutline, func(m *Model, name, display string) bool {
		return m.Kind == KindSingleLine || m.Kind == KindPolyLine || display == "icicles" ||
			containsAny(name, "outline", "border", "perimeter")
	}},
	{RoleBackground, func(m *Model, name, _ string) bool {
		return (m.Kind == KindMatrix && (m.Width > smallMatrixLimit || m.Height > smallMatrixLimit)) ||
			containsAny(name, "background", "fill", "wash")
	}},
}

// Categorize assigns exactly one role to a fixture.
func Categorize(m *Model) Role {
	name := strings.ToLower(m.Name)
	display := strings.ToLower(m.DisplayAs)
	for _, rule := range roleRules {
		if rule.match(m, name, display) {
			return rule.role
		}
	}
	return RoleProp
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
