package flanking

// DefaultMaxBonus is the maximum flanking bonus used when none is configured.
const DefaultMaxBonus = 4

// MinFlankers is the number of candidates required before a target can be
// flanked at all.
const MinFlankers = 2

// EffectiveMax returns the bonus cap for a configured maximum. Values below
// one are treated as one.
func EffectiveMax(maxSetting int) int {
	return max(1, maxSetting)
}

// Bonus returns the melee attack bonus for count flanking candidates. It is
// zero unless the target is flanked by at least [MinFlankers] candidates and
// never exceeds [EffectiveMax] of maxSetting.
func Bonus(count int, flanked bool, maxSetting int) int {
	if !flanked || count < MinFlankers {
		return 0
	}
	return min(count, EffectiveMax(maxSetting))
}
