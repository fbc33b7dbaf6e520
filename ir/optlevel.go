package ir

// OptLevel records which bounds checks of an array access may be omitted by
// the code generator.
type OptLevel uint8

const (
	Unchecked OptLevel = iota // Not yet analysed; code generator emits both checks.
	None                      // Analysed, both checks needed.
	Full                      // Both checks omitted.
	LowerOnly                 // Only the index >= 0 check is omitted.
	UpperOnly                 // Only the index < length check is omitted.
)

func (l OptLevel) String() string {
	switch l {
	case Unchecked:
		return "unchecked"
	case None:
		return "none"
	case Full:
		return "full"
	case LowerOnly:
		return "lower"
	case UpperOnly:
		return "upper"
	}
	return "invalid"
}

// OmitsLower is true if the lower bound check is not emitted.
func (l OptLevel) OmitsLower() bool { return l == Full || l == LowerOnly }

// OmitsUpper is true if the upper bound check is not emitted.
func (l OptLevel) OmitsUpper() bool { return l == Full || l == UpperOnly }

// LevelOf returns the level omitting exactly the given checks.
func LevelOf(lower, upper bool) OptLevel {
	switch {
	case lower && upper:
		return Full
	case lower:
		return LowerOnly
	case upper:
		return UpperOnly
	}
	return None
}

// Upgrade combines l with the checks proven by another analysis. The result
// never omits fewer checks than l.
func (l OptLevel) Upgrade(lower, upper bool) OptLevel {
	return LevelOf(l.OmitsLower() || lower, l.OmitsUpper() || upper)
}

func parseLevel(s string) (OptLevel, bool) {
	for l := Unchecked; l <= UpperOnly; l++ {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}
