package flanking

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsActive(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		effects []Effect
		want    bool
	}{
		{"no effects", nil, true},
		{"blessed", []Effect{{"Blessed"}}, true},
		{"unconscious", []Effect{{"Unconscious"}}, false},
		{"paralysed among others", []Effect{{"Blessed"}, {"Paralysed"}}, false},
		{"dead", []Effect{{"Dead"}}, false},
		// Exact membership only: no substrings, no single letters, no case folding.
		{"single letter", []Effect{{"D"}}, true},
		{"substring", []Effect{{"Stun"}}, true},
		{"superstring", []Effect{{"Deadly Poison"}}, true},
		{"lower case", []Effect{{"unconscious"}}, true},
		{"american spelling", []Effect{{"Paralyzed"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsActive(Token{Effects: tt.effects}); got != tt.want {
				t.Errorf("IsActive(%v) = %v, want %v", tt.effects, got, tt.want)
			}
		})
	}
}

func TestIsEnemy(t *testing.T) {
	t.Parallel()
	hero := Token{Disposition: DispositionFriendly}
	if !IsEnemy(Token{Disposition: DispositionHostile}, hero) {
		t.Error("hostile vs friendly should be enemies")
	}
	if !IsEnemy(Token{Disposition: DispositionNeutral}, hero) {
		t.Error("neutral vs friendly should be enemies")
	}
	if IsEnemy(Token{Disposition: DispositionFriendly}, hero) {
		t.Error("friendly vs friendly should not be enemies")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	target := Token{ID: "t", Name: "Knight", Center: Point{250, 250}, Width: 100, Height: 100, Disposition: DispositionFriendly}
	tokens := []Token{
		target,
		{ID: "g1", Name: "Goblin", Center: Point{150, 250}, Width: 100, Height: 100, Disposition: DispositionHostile},
		{ID: "g2", Name: "Sleeping goblin", Center: Point{350, 250}, Width: 100, Height: 100, Disposition: DispositionHostile, Effects: []Effect{{"Unconscious"}}},
		{ID: "a", Name: "Squire", Center: Point{250, 150}, Width: 100, Height: 100, Disposition: DispositionFriendly},
		{ID: "g3", Name: "Goblin archer", Center: Point{850, 250}, Width: 100, Height: 100, Disposition: DispositionHostile},
	}

	got := Classify(tokens, target, foundryGrid, DefaultReachRules)
	want := []CandidateState{
		{ID: "t", Name: "Knight", X: 250, Y: 250, IsEnemy: false, IsActive: true, IsAdjacent: true},
		{ID: "g1", Name: "Goblin", X: 150, Y: 250, IsEnemy: true, IsActive: true, IsAdjacent: true},
		{ID: "g2", Name: "Sleeping goblin", X: 350, Y: 250, IsEnemy: true, IsActive: false, IsAdjacent: true},
		{ID: "a", Name: "Squire", X: 250, Y: 150, IsEnemy: false, IsActive: true, IsAdjacent: true},
		{ID: "g3", Name: "Goblin archer", X: 850, Y: 250, IsEnemy: true, IsActive: true, IsAdjacent: false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Classify mismatch (-want +got):\n%s", diff)
	}

	candidates := Candidates(got)
	if len(candidates) != 1 || candidates[0].ID != "g1" {
		t.Errorf("Candidates = %+v, want only g1", candidates)
	}

	// Classification is a pure function of its inputs.
	if diff := cmp.Diff(got, Classify(tokens, target, foundryGrid, DefaultReachRules)); diff != "" {
		t.Errorf("second Classify differs (-first +second):\n%s", diff)
	}
}
