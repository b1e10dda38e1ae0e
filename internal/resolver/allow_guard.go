package resolver

import "github.com/htsget-community/htsget-server/internal/query"

// AllowGuard restricts which queries a Resolver may serve. A nil slice
// field means "allow any value"; an empty-but-non-nil slice means "allow
// none" (useful for e.g. disabling HEADER requests on a resolver).
type AllowGuard struct {
	AllowReferenceNames []string
	AllowFields         []string
	AllowTags           []string
	AllowFormats        []query.Format
	AllowClasses        []query.Class

	// AllowIntervalStart/End bound the reference coordinate range this
	// resolver will serve; nil means unbounded on that side.
	AllowIntervalStart *uint32
	AllowIntervalEnd   *uint32
}

// DefaultAllowGuard allows every format, every class, and every
// reference/field/tag/interval combination — the permissive default a
// freshly constructed Resolver should use absent explicit restriction.
func DefaultAllowGuard() AllowGuard {
	return AllowGuard{
		AllowFormats: []query.Format{query.BAM, query.CRAM, query.VCF, query.BCF},
		AllowClasses: []query.Class{query.BODY, query.HEADER},
	}
}

// Allowed reports whether q satisfies every restriction g declares.
func (g AllowGuard) Allowed(q *query.Query) bool {
	if !formatAllowed(g.AllowFormats, q.Format) {
		return false
	}
	if !classAllowed(g.AllowClasses, q.Class) {
		return false
	}
	if !intervalAllowed(g.AllowIntervalStart, g.AllowIntervalEnd, q.Interval) {
		return false
	}
	if !referenceNameAllowed(g.AllowReferenceNames, q.ReferenceName) {
		return false
	}
	if !subset(g.AllowFields, q.Fields) {
		return false
	}
	if !subset(g.AllowTags, q.Tags) {
		return false
	}
	return true
}

func formatAllowed(allow []query.Format, f query.Format) bool {
	if allow == nil {
		return true
	}
	for _, a := range allow {
		if a == f {
			return true
		}
	}
	return false
}

func classAllowed(allow []query.Class, c query.Class) bool {
	if allow == nil {
		return true
	}
	for _, a := range allow {
		if a == c {
			return true
		}
	}
	return false
}

func intervalAllowed(allowStart, allowEnd *uint32, interval query.Interval) bool {
	if allowStart != nil && interval.Start != nil && *interval.Start < *allowStart {
		return false
	}
	if allowEnd != nil && interval.End != nil && *interval.End > *allowEnd {
		return false
	}
	return true
}

func referenceNameAllowed(allow []string, referenceName *string) bool {
	if allow == nil {
		return true
	}
	if referenceName == nil {
		return false
	}
	for _, a := range allow {
		if a == *referenceName {
			return true
		}
	}
	return false
}

// subset reports whether every element of requested appears in allow. A
// nil allow means "anything is allowed"; a nil/empty requested is always
// a subset.
func subset(allow []string, requested []string) bool {
	if allow == nil {
		return true
	}
	allowed := make(map[string]bool, len(allow))
	for _, a := range allow {
		allowed[a] = true
	}
	for _, r := range requested {
		if !allowed[r] {
			return false
		}
	}
	return true
}
