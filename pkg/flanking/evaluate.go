package flanking

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Options tunes an evaluation.
type Options struct {
	// MaxBonus caps the bonus. See [EffectiveMax].
	MaxBonus int

	// Reach overrides the reach defaults. The zero value uses
	// [DefaultReachRules].
	Reach ReachRules
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{MaxBonus: DefaultMaxBonus, Reach: DefaultReachRules}
}

// WithMaxBonus returns o with its cap replaced by n. A non-positive n is an
// omitted override and keeps the current cap.
func (o Options) WithMaxBonus(n int) Options {
	if n > 0 {
		o.MaxBonus = n
	}
	return o
}

// Result is the outcome of one evaluation.
type Result struct {
	// TargetID and Target identify the evaluated token.
	TargetID string `json:"target_id"`
	Target   string `json:"target"`

	// Flanked is true when at least two candidates stand on opposite sides.
	Flanked bool `json:"flanked"`

	// Count is the number of flanking candidates, opposite or not.
	Count int `json:"count"`

	// Bonus is the clamped bonus; zero when not flanked.
	Bonus int `json:"bonus"`

	// States holds the classification of every token that was considered.
	States []CandidateState `json:"states"`
}

// Evaluate classifies tokens against target, checks the candidates for an
// opposite pair around the target's bounds and computes the bonus.
func Evaluate(tokens []Token, target Token, grid Grid, opts Options) Result {
	states := Classify(tokens, target, grid, opts.Reach)
	candidates := Candidates(states)

	points := make([]Point, len(candidates))
	for i, c := range candidates {
		points[i] = c.Point()
	}
	flanked := AnyOpposite(points, target.Bounds())

	return Result{
		TargetID: target.ID,
		Target:   target.Name,
		Flanked:  flanked,
		Count:    len(candidates),
		Bonus:    Bonus(len(candidates), flanked, opts.MaxBonus),
		States:   states,
	}
}

// Candidates returns the flanking candidates of r.
func (r Result) Candidates() []CandidateState {
	return Candidates(r.States)
}

// Summary returns a one-line description of r suitable for logs.
func (r Result) Summary() string {
	verdict := "not flanking"
	if r.Flanked {
		verdict = "flanking"
	}
	return fmt.Sprintf("%s: surrounded by %d actors (%s)", r.Target, r.Count, verdict)
}

// Pretty lists every classified token on its own line, marked with ✅ when
// it is a flanking candidate.
func (r Result) Pretty() string {
	var b strings.Builder
	for i, s := range r.States {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := "❌"
		if s.IsCandidate() {
			mark = "✅"
		}
		js, err := json.Marshal(s)
		if err != nil {
			js = []byte(s.Name)
		}
		fmt.Fprintf(&b, "  %s %s", mark, js)
	}
	return b.String()
}
