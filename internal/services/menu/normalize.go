package menu

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DishKey canonicalizes a dish name so favorites match across devices
// and menu revisions: Unicode NFKC normalization, case folding, and
// whitespace collapse. "Café  Latte" and "café latte" map to the
// same key.
func DishKey(name string) string {
	folded := cases.Fold().String(norm.NFKC.String(name))
	return strings.Join(strings.Fields(folded), " ")
}
