package flanking

import "math"

// ReachRules holds the reach values, in distance units, used when an item
// does not declare an explicit range.
type ReachRules struct {
	// Default is the reach of ordinary and thrown melee weapons and of an
	// unarmed creature.
	Default float64 `json:"default" yaml:"default"`

	// Long is the reach of weapons with the reach property.
	Long float64 `json:"long" yaml:"long"`
}

// DefaultReachRules are the d20 defaults: 5 ft, or 10 ft with a reach weapon.
var DefaultReachRules = ReachRules{Default: 5, Long: 10}

// normalized replaces non-positive values with [DefaultReachRules].
func (r ReachRules) normalized() ReachRules {
	if !(r.Default > 0) {
		r.Default = DefaultReachRules.Default
	}
	if !(r.Long > 0) {
		r.Long = DefaultReachRules.Long
	}
	return r
}

// ItemReach returns the reach of a single melee item. An explicit range
// takes precedence over everything; otherwise the thrown property forces the
// default reach even on a reach weapon. A range of zero or less counts as
// not declared, so malformed negative ranges fall back to the properties.
func ItemReach(it Item, rules ReachRules) float64 {
	rules = rules.normalized()
	switch {
	case it.Range > 0:
		return it.Range
	case it.Properties.Thrown:
		return rules.Default
	case it.Properties.Reach:
		return rules.Long
	}
	return rules.Default
}

// MaxReach returns the longest reach among the melee items, never less than
// the unarmed default.
func MaxReach(items []Item, rules ReachRules) float64 {
	rules = rules.normalized()
	reach := rules.Default
	for _, it := range items {
		if !it.IsMelee() {
			continue
		}
		reach = math.Max(reach, ItemReach(it, rules))
	}
	return reach
}

// IsAdjacent reports whether target is within the attacker's melee reach.
//
// The threshold is the attacker's maximum reach plus half the summed token
// widths. Horizontal, vertical and elevation separation must each be
// strictly below it. Reach belongs to the attacker, so the relation is not
// symmetric.
func IsAdjacent(attacker, target Token, grid Grid, rules ReachRules) bool {
	if !grid.Valid() {
		return false
	}
	scale := grid.Scale()

	dx := math.Abs(attacker.Center.X-target.Center.X) * scale
	dy := math.Abs(attacker.Center.Y-target.Center.Y) * scale
	dz := math.Abs(attacker.Elevation - target.Elevation)

	threshold := MaxReach(attacker.Items, rules) + (attacker.Width+target.Width)*scale/2

	// NaN compares false and therefore never counts as adjacent.
	return dx < threshold && dy < threshold && dz < threshold
}
