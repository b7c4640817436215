package flanking

import "testing"

// foundryGrid is the common 100 px, 5 ft grid.
var foundryGrid = Grid{Distance: 5, Size: 100}

var (
	longsword = Item{Name: "Longsword", ActionType: ActionMeleeWeapon}
	glaive    = Item{Name: "Glaive", ActionType: ActionMeleeWeapon, Properties: ItemProperties{Reach: true}}
	dagger    = Item{Name: "Dagger", ActionType: ActionMeleeWeapon, Properties: ItemProperties{Thrown: true}}
	longbow   = Item{Name: "Longbow", ActionType: "rwak", Range: 150}
)

func TestItemReach(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		item  Item
		rules ReachRules
		want  float64
	}{
		{"plain melee", longsword, DefaultReachRules, 5},
		{"reach weapon", glaive, DefaultReachRules, 10},
		{"thrown weapon", dagger, DefaultReachRules, 5},
		{"thrown overrides reach", Item{ActionType: ActionMeleeWeapon, Properties: ItemProperties{Reach: true, Thrown: true}}, DefaultReachRules, 5},
		{"explicit range wins", Item{ActionType: ActionMeleeWeapon, Range: 15}, DefaultReachRules, 15},
		{"explicit range beats thrown", Item{ActionType: ActionMeleeWeapon, Range: 15, Properties: ItemProperties{Thrown: true}}, DefaultReachRules, 15},
		{"metric rules", glaive, ReachRules{Default: 1.5, Long: 3}, 3},
		{"zero rules use defaults", glaive, ReachRules{}, 10},
		{"negative range is undeclared", Item{ActionType: ActionMeleeWeapon, Range: -5}, DefaultReachRules, 5},
		{"negative range on reach weapon uses long reach", Item{ActionType: ActionMeleeWeapon, Range: -5, Properties: ItemProperties{Reach: true}}, DefaultReachRules, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ItemReach(tt.item, tt.rules); got != tt.want {
				t.Errorf("ItemReach(%+v) = %v, want %v", tt.item, got, tt.want)
			}
		})
	}
}

func TestMaxReach(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		items []Item
		want  float64
	}{
		{"unarmed", nil, 5},
		{"ranged only", []Item{longbow}, 5},
		{"sword and glaive", []Item{longsword, glaive}, 10},
		{"short explicit range floors at unarmed", []Item{{ActionType: ActionMeleeWeapon, Range: 2}}, 5},
		{"negative range floors at unarmed", []Item{{ActionType: ActionMeleeWeapon, Range: -20}}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MaxReach(tt.items, DefaultReachRules); got != tt.want {
				t.Errorf("MaxReach = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaxReach_Monotonic(t *testing.T) {
	t.Parallel()
	loadouts := [][]Item{nil, {longsword}, {dagger}, {longbow}, {longsword, dagger}}
	for _, items := range loadouts {
		before := MaxReach(items, DefaultReachRules)
		after := MaxReach(append(append([]Item(nil), items...), glaive), DefaultReachRules)
		if after < before || after < DefaultReachRules.Default {
			t.Errorf("adding a reach weapon to %v lowered reach: %v -> %v", items, before, after)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// IsAdjacent
// ─────────────────────────────────────────────────────────────────────────────

func TestIsAdjacent(t *testing.T) {
	t.Parallel()
	target := Token{Name: "Ogre", Center: Point{250, 250}, Width: 100, Height: 100}

	tests := []struct {
		name     string
		attacker Token
		target   Token
		grid     Grid
		want     bool
	}{
		{
			name:     "neighbouring cell",
			attacker: Token{Center: Point{150, 250}, Width: 100},
			target:   target,
			grid:     foundryGrid,
			want:     true,
		},
		{
			name:     "diagonal neighbour",
			attacker: Token{Center: Point{150, 150}, Width: 100},
			target:   target,
			grid:     foundryGrid,
			want:     true,
		},
		{
			name:     "two cells away is exactly on the threshold",
			attacker: Token{Center: Point{50, 250}, Width: 100},
			target:   target,
			grid:     foundryGrid,
			want:     false,
		},
		{
			name:     "two cells away with a reach weapon",
			attacker: Token{Center: Point{50, 250}, Width: 100, Items: []Item{glaive}},
			target:   target,
			grid:     foundryGrid,
			want:     true,
		},
		{
			name:     "two cells away with a thrown reach weapon",
			attacker: Token{Center: Point{50, 250}, Width: 100, Items: []Item{{ActionType: ActionMeleeWeapon, Properties: ItemProperties{Reach: true, Thrown: true}}}},
			target:   target,
			grid:     foundryGrid,
			want:     false,
		},
		{
			name:     "large target",
			attacker: Token{Center: Point{100, 300}, Width: 100},
			target:   Token{Center: Point{300, 300}, Width: 200, Height: 200},
			grid:     foundryGrid,
			want:     true,
		},
		{
			name:     "flying too high",
			attacker: Token{Center: Point{150, 250}, Width: 100, Elevation: 10},
			target:   target,
			grid:     foundryGrid,
			want:     false,
		},
		{
			name:     "slightly raised",
			attacker: Token{Center: Point{150, 250}, Width: 100, Elevation: 5},
			target:   target,
			grid:     foundryGrid,
			want:     true,
		},
		{
			name:     "invalid grid",
			attacker: Token{Center: Point{150, 250}, Width: 100},
			target:   target,
			grid:     Grid{Distance: 5},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsAdjacent(tt.attacker, tt.target, tt.grid, DefaultReachRules); got != tt.want {
				t.Errorf("IsAdjacent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsAdjacent_ReachBelongsToAttacker(t *testing.T) {
	t.Parallel()
	pikeman := Token{Center: Point{50, 250}, Width: 100, Items: []Item{glaive}}
	goblin := Token{Center: Point{250, 250}, Width: 100}

	if !IsAdjacent(pikeman, goblin, foundryGrid, DefaultReachRules) {
		t.Error("pikeman should reach the goblin")
	}
	if IsAdjacent(goblin, pikeman, foundryGrid, DefaultReachRules) {
		t.Error("goblin should not reach the pikeman")
	}
}
