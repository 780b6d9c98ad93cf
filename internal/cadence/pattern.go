package cadence

// Pattern is a named cadence signature: the set of key identifiers it
// watches and the fraction of a window that must consist of those keys for
// the pattern to match. Patterns are immutable once built.
type Pattern struct {
	id        string
	keys      map[string]struct{}
	order     []string
	threshold float64
}

// NewPattern builds a pattern. Duplicate keys are collapsed.
func NewPattern(id string, keys []string, threshold float64) Pattern {
	p := Pattern{
		id:        id,
		keys:      make(map[string]struct{}, len(keys)),
		order:     make([]string, 0, len(keys)),
		threshold: threshold,
	}
	for _, k := range keys {
		if _, ok := p.keys[k]; ok {
			continue
		}
		p.keys[k] = struct{}{}
		p.order = append(p.order, k)
	}
	return p
}

// ID returns the pattern identifier.
func (p Pattern) ID() string { return p.id }

// Threshold returns the density ratio in [0,1] that counts as a match.
func (p Pattern) Threshold() float64 { return p.threshold }

// Keys returns the watched key identifiers in configured order.
func (p Pattern) Keys() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Watches reports whether key belongs to the pattern.
func (p Pattern) Watches(key string) bool {
	_, ok := p.keys[key]
	return ok
}

// Empty reports whether the pattern watches no keys. Empty patterns never
// accumulate and never match.
func (p Pattern) Empty() bool { return len(p.keys) == 0 }
