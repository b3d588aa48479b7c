package menu

// DefaultPortion is the label used when no portion size was requested.
const DefaultPortion = "1 serving"

// Portion pairs an item with a serving size.
type Portion struct {
	Item     Item    `json:"item"`
	Label    string  `json:"portion"`
	Servings float64 `json:"servings"`
}

// Plate is an ordered selection of portions. Totals are always derived from
// the portions, never stored.
type Plate struct {
	Portions []Portion `json:"portions"`
}

// NewPlate gives every item a single default portion.
func NewPlate(items []Item) Plate {
	p := Plate{Portions: make([]Portion, 0, len(items))}
	for _, it := range items {
		p.Portions = append(p.Portions, Portion{Item: it, Label: DefaultPortion, Servings: 1})
	}
	return p
}

// Items returns the plate's items in order.
func (p Plate) Items() []Item {
	out := make([]Item, 0, len(p.Portions))
	for _, pt := range p.Portions {
		out = append(out, pt.Item)
	}
	return out
}

// Calories sums calories across portions, scaled by servings.
func (p Plate) Calories() float64 {
	var total float64
	for _, pt := range p.Portions {
		total += pt.Item.Calories * pt.Servings
	}
	return total
}

// ProteinG sums protein grams across portions, scaled by servings.
func (p Plate) ProteinG() float64 {
	var total float64
	for _, pt := range p.Portions {
		total += pt.Item.ProteinG * pt.Servings
	}
	return total
}
