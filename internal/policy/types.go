package policy

// Classification is the outcome of resolving a hostname against the domain
// lists at session start.
type Classification int

const (
	// Unclassified means neither list matched and monitoring proceeds.
	Unclassified Classification = iota
	// Immediate means the host is on the block-immediately list.
	Immediate
	// Allowed means the host or one of its parent domains is allow-listed.
	Allowed
)

// String returns the lowercase classification name.
func (c Classification) String() string {
	switch c {
	case Immediate:
		return "immediate"
	case Allowed:
		return "allowed"
	default:
		return "unclassified"
	}
}

// Lists holds the two hostname lists the resolver evaluates.
type Lists struct {
	Allow            []string
	BlockImmediately []string
}

// ImmediateReason is the block reason reported for a host on the
// block-immediately list.
func ImmediateReason(domain string) string {
	return domain + " is on the block list"
}
