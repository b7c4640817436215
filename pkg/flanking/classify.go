package flanking

import "slices"

// IncapacitatingConditions lists the effect labels that stop a token from
// flanking. Matching is exact and case-sensitive.
var IncapacitatingConditions = []string{
	"Dead",
	"Incapacitated",
	"Petrified",
	"Paralysed",
	"Stunned",
	"Unconscious",
}

// CandidateState is the classification of one token against a target.
type CandidateState struct {
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	IsEnemy    bool    `json:"is_enemy"`
	IsActive   bool    `json:"is_active"`
	IsAdjacent bool    `json:"is_adjacent"`
}

// IsCandidate reports whether the token is hostile, active and within reach.
func (s CandidateState) IsCandidate() bool {
	return s.IsEnemy && s.IsActive && s.IsAdjacent
}

// Point returns the token centre the state was computed from.
func (s CandidateState) Point() Point {
	return Point{X: s.X, Y: s.Y}
}

// IsEnemy reports whether a and b have different dispositions.
func IsEnemy(a, b Token) bool {
	return a.Disposition != b.Disposition
}

// IsActive reports whether t carries none of the
// [IncapacitatingConditions].
func IsActive(t Token) bool {
	for _, e := range t.Effects {
		if slices.Contains(IncapacitatingConditions, e.Label) {
			return false
		}
	}
	return true
}

// Classify computes a [CandidateState] for every token against target. The
// target may be part of tokens; it fails the enemy test against itself.
func Classify(tokens []Token, target Token, grid Grid, rules ReachRules) []CandidateState {
	states := make([]CandidateState, 0, len(tokens))
	for _, tok := range tokens {
		states = append(states, CandidateState{
			ID:         tok.ID,
			Name:       tok.Name,
			X:          tok.Center.X,
			Y:          tok.Center.Y,
			IsEnemy:    IsEnemy(tok, target),
			IsActive:   IsActive(tok),
			IsAdjacent: IsAdjacent(tok, target, grid, rules),
		})
	}
	return states
}

// Candidates returns the flanking candidates among states, in order.
func Candidates(states []CandidateState) []CandidateState {
	var out []CandidateState
	for _, s := range states {
		if s.IsCandidate() {
			out = append(out, s)
		}
	}
	return out
}
