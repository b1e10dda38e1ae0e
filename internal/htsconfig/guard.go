package htsconfig

import (
	"fmt"
	"strings"

	"github.com/htsget-community/htsget-server/internal/query"
	"github.com/htsget-community/htsget-server/internal/resolver"
)

// AllowGuard converts the configured guard into the resolver package's
// runtime form, validating the format and class names it lists.
func (g Guard) AllowGuard() (resolver.AllowGuard, error) {
	guard := resolver.AllowGuard{
		AllowReferenceNames: g.AllowReferenceNames,
		AllowFields:         g.AllowFields,
		AllowTags:           g.AllowTags,
		AllowIntervalStart:  g.AllowIntervalStart,
		AllowIntervalEnd:    g.AllowIntervalEnd,
	}

	if g.AllowFormats != nil {
		guard.AllowFormats = make([]query.Format, 0, len(g.AllowFormats))
		for _, f := range g.AllowFormats {
			parsed, err := query.ParseFormat(strings.ToUpper(f))
			if err != nil {
				return resolver.AllowGuard{}, fmt.Errorf("guard allow_formats: %v", err)
			}
			guard.AllowFormats = append(guard.AllowFormats, parsed)
		}
	}

	if g.AllowClasses != nil {
		guard.AllowClasses = make([]query.Class, 0, len(g.AllowClasses))
		for _, c := range g.AllowClasses {
			switch query.Class(strings.ToLower(c)) {
			case query.BODY:
				guard.AllowClasses = append(guard.AllowClasses, query.BODY)
			case query.HEADER:
				guard.AllowClasses = append(guard.AllowClasses, query.HEADER)
			default:
				return resolver.AllowGuard{}, fmt.Errorf("guard allow_classes: unknown class %q", c)
			}
		}
	}

	return guard, nil
}
