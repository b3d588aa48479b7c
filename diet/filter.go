package diet

import (
	"diningagent/menu"
)

// IsAdmissible reports whether item satisfies every restriction and contains
// none of the allergies. Restrictions are conjunctive: each tag must appear in
// the item's dietary flags. Tags are compared after menu.NormalizeTag, so an
// unknown tag matches nothing.
func IsAdmissible(item menu.Item, restrictions, allergies []string) bool {
	for _, r := range restrictions {
		tag := menu.NormalizeTag(r)
		if tag == "" {
			continue
		}
		if !item.HasFlag(tag) {
			return false
		}
	}
	for _, a := range allergies {
		tag := menu.NormalizeTag(a)
		if tag == "" {
			continue
		}
		if item.HasAllergen(tag) {
			return false
		}
	}
	return true
}

// Filter returns the admissible items in their original order.
func Filter(items []menu.Item, restrictions, allergies []string) []menu.Item {
	out := make([]menu.Item, 0, len(items))
	for _, it := range items {
		if IsAdmissible(it, restrictions, allergies) {
			out = append(out, it)
		}
	}
	return out
}
