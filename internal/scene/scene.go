// Package scene holds battlefield snapshots received from a virtual tabletop
// and the loaders that build them from YAML fixtures or Foundry VTT exports.
//
// A [Scene] is read-only for the duration of one evaluation; handlers never
// mutate it.
package scene

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/flanker/pkg/flanking"
)

// ErrTokenNotFound is returned when a token reference matches no token or
// matches several equally well.
var ErrTokenNotFound = errors.New("scene: token not found")

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a fuzzy name
// match.
const fuzzyThreshold = 0.85

// Scene is a snapshot of one battlefield.
type Scene struct {
	ID     string           `json:"id" yaml:"id"`
	Name   string           `json:"name" yaml:"name"`
	Grid   flanking.Grid    `json:"grid" yaml:"grid"`
	Tokens []flanking.Token `json:"tokens" yaml:"tokens"`
}

// Validate checks that the scene can be evaluated.
func (s *Scene) Validate() error {
	var errs []error
	if !s.Grid.Valid() {
		errs = append(errs, fmt.Errorf("grid distance and size must be positive (got distance=%v size=%v)", s.Grid.Distance, s.Grid.Size))
	}
	seen := make(map[string]int, len(s.Tokens))
	for i, t := range s.Tokens {
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("tokens[%d].id is required", i))
			continue
		}
		if prev, ok := seen[t.ID]; ok {
			errs = append(errs, fmt.Errorf("tokens[%d].id %q is a duplicate of tokens[%d]", i, t.ID, prev))
		}
		seen[t.ID] = i
	}
	return errors.Join(errs...)
}

// Token returns the token with the given ID.
func (s *Scene) Token(id string) (flanking.Token, bool) {
	for _, t := range s.Tokens {
		if t.ID == id {
			return t, true
		}
	}
	return flanking.Token{}, false
}

// Targets returns the tokens for ids, skipping IDs that are not on the
// scene. Order follows ids.
func (s *Scene) Targets(ids []string) []flanking.Token {
	out := make([]flanking.Token, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.Token(id); ok {
			out = append(out, t)
		}
	}
	return out
}

// Resolve finds a token by reference: first by exact ID, then by
// case-insensitive name, then by the closest Jaro-Winkler name match. A
// reference that matches several tokens equally is ambiguous and returns
// [ErrTokenNotFound].
func (s *Scene) Resolve(ref string) (flanking.Token, error) {
	if t, ok := s.Token(ref); ok {
		return t, nil
	}

	needle := strings.ToLower(strings.TrimSpace(ref))
	if needle == "" {
		return flanking.Token{}, fmt.Errorf("%w: empty reference", ErrTokenNotFound)
	}

	var exact []flanking.Token
	for _, t := range s.Tokens {
		if strings.ToLower(t.Name) == needle {
			exact = append(exact, t)
		}
	}
	switch len(exact) {
	case 1:
		return exact[0], nil
	case 0:
	default:
		return flanking.Token{}, fmt.Errorf("%w: %q matches %d tokens", ErrTokenNotFound, ref, len(exact))
	}

	type scored struct {
		tok   flanking.Token
		score float64
	}
	var matches []scored
	for _, t := range s.Tokens {
		score := matchr.JaroWinkler(needle, strings.ToLower(t.Name), false)
		if score >= fuzzyThreshold {
			matches = append(matches, scored{tok: t, score: score})
		}
	}
	if len(matches) == 0 {
		return flanking.Token{}, fmt.Errorf("%w: %q", ErrTokenNotFound, ref)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > 1 && matches[0].score == matches[1].score {
		return flanking.Token{}, fmt.Errorf("%w: %q is ambiguous between %q and %q", ErrTokenNotFound, ref, matches[0].tok.Name, matches[1].tok.Name)
	}
	return matches[0].tok, nil
}
