package viseme

import "strings"

// Category is a mouth shape group. Its string form is the suffix of the
// matching face shape (see ShapeName).
type Category string

const (
	AI   Category = "AI"
	O    Category = "O"
	E    Category = "E"
	U    Category = "U"
	L    Category = "L"
	WQ   Category = "WQ"
	MBP  Category = "MBP"
	FV   Category = "FV"
	ETC  Category = "etc"
	REST Category = "rest"
)

// Categories lists every category in a stable order.
var Categories = []Category{AI, O, E, U, L, WQ, MBP, FV, ETC, REST}

var table = map[string]Category{
	"a":   AI,
	"i":   E,
	"u":   U,
	"o":   O,
	"s":   ETC,
	"z":   ETC,
	"t":   ETC,
	"d":   ETC,
	"f":   FV,
	"v":   FV,
	"p":   MBP,
	"b":   MBP,
	"m":   MBP,
	"r":   L,
	"l":   L,
	"w":   WQ,
	"sil": REST,
}

// Classify maps a timing label to a mouth category. Unknown labels are REST.
func Classify(label string) Category {
	if c, ok := table[strings.ToLower(strings.TrimSpace(label))]; ok {
		return c
	}
	return REST
}

// ShapeName is the face shape that renders the category.
func (c Category) ShapeName() string {
	return "Mouth-" + string(c)
}

// Label is the single timing label that classifies back to the category.
func (c Category) Label() string {
	switch c {
	case AI:
		return "a"
	case E:
		return "i"
	case U:
		return "u"
	case O:
		return "o"
	case ETC:
		return "t"
	case FV:
		return "f"
	case MBP:
		return "p"
	case L:
		return "l"
	case WQ:
		return "w"
	default:
		return "sil"
	}
}
