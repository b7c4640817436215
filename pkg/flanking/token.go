// Package flanking implements the flanking rule for creatures on a 2D grid
// battlefield.
//
// A target is flanked when at least two hostile, active opponents within
// melee reach stand on opposite sides of its bounding box. Each such
// opponent adds +1 to melee attack rolls against the target, capped by a
// configurable maximum.
//
// The package is pure: every function takes explicit snapshots of the tokens
// and the grid and never touches host state. Results are recomputed from
// scratch for each call; nothing is cached between calls.
//
// Typical usage:
//
//	res := flanking.Evaluate(scene.Tokens, target, scene.Grid, flanking.Options{
//	    MaxBonus: 4,
//	    Reach:    flanking.DefaultReachRules,
//	})
//	if res.Flanked {
//	    roll.Parts = append(roll.Parts, strconv.Itoa(res.Bonus))
//	}
package flanking

// Disposition classifies a token as friend, foe or neutral. Two tokens are
// enemies when their dispositions differ; the concrete values only matter
// for display.
type Disposition int

const (
	DispositionHostile  Disposition = -1
	DispositionNeutral  Disposition = 0
	DispositionFriendly Disposition = 1
)

// String returns a lower-case label for d. Unknown codes render as "custom".
func (d Disposition) String() string {
	switch d {
	case DispositionHostile:
		return "hostile"
	case DispositionNeutral:
		return "neutral"
	case DispositionFriendly:
		return "friendly"
	}
	return "custom"
}

// ActionMeleeWeapon is the action type of a melee weapon attack. Only items
// with this action type contribute to a token's reach.
const ActionMeleeWeapon = "mwak"

// Point is a position on the canvas. Y grows downwards.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Effect is an active status effect on a token, identified by its label
// (e.g. "Unconscious").
type Effect struct {
	Label string `json:"label" yaml:"label"`
}

// ItemProperties holds the weapon properties relevant to reach.
type ItemProperties struct {
	// Reach marks a reach weapon (property code "rch").
	Reach bool `json:"rch,omitempty" yaml:"rch,omitempty"`

	// Thrown marks a thrown weapon (property code "thr"). It overrides Reach.
	Thrown bool `json:"thr,omitempty" yaml:"thr,omitempty"`
}

// Item is an equipped item carried by a token.
type Item struct {
	Name string `json:"name" yaml:"name"`

	// ActionType is the item's attack action code, e.g. [ActionMeleeWeapon]
	// ("mwak") or "rwak" for ranged weapon attacks.
	ActionType string `json:"action_type" yaml:"action_type"`

	Properties ItemProperties `json:"properties" yaml:"properties"`

	// Range is an explicitly declared reach in distance units. Zero means
	// the item declares no range.
	Range float64 `json:"range,omitempty" yaml:"range,omitempty"`
}

// IsMelee reports whether the item is a melee weapon attack.
func (it Item) IsMelee() bool {
	return it.ActionType == ActionMeleeWeapon
}

// Token is a snapshot of a positioned creature on the battlefield.
//
// Center, Width and Height are in canvas units (pixels on most hosts).
// Elevation is already expressed in distance units (feet, metres) and is
// never scaled.
type Token struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Center      Point       `json:"center" yaml:"center"`
	Width       float64     `json:"width" yaml:"width"`
	Height      float64     `json:"height" yaml:"height"`
	Elevation   float64     `json:"elevation,omitempty" yaml:"elevation,omitempty"`
	Disposition Disposition `json:"disposition" yaml:"disposition"`
	Effects     []Effect    `json:"effects,omitempty" yaml:"effects,omitempty"`
	Items       []Item      `json:"items,omitempty" yaml:"items,omitempty"`
}

// Bounds returns the token's axis-aligned bounding rectangle derived from
// its centre and size.
func (t Token) Bounds() Rect {
	return Rect{
		X: t.Center.X - t.Width/2,
		Y: t.Center.Y - t.Height/2,
		W: t.Width,
		H: t.Height,
	}
}

// Grid describes the scale of the battlefield.
type Grid struct {
	// Distance is the number of distance units per grid cell (5 ft on most
	// d20 maps).
	Distance float64 `json:"distance" yaml:"distance"`

	// Size is the number of canvas units per grid cell.
	Size float64 `json:"size" yaml:"size"`
}

// Scale returns the factor converting canvas units to distance units.
func (g Grid) Scale() float64 {
	return g.Distance / g.Size
}

// Valid reports whether g can be used to convert distances.
func (g Grid) Valid() bool {
	return g.Distance > 0 && g.Size > 0
}
