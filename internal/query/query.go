// Package query defines the validated, immutable request descriptor that
// flows from the HTTP mapper through the resolver chain to a format engine.
package query

import "fmt"

// Format identifies one of the four supported container formats.
type Format string

// The formats recognized by the htsget protocol surface this server
// implements.
const (
	BAM  Format = "BAM"
	CRAM Format = "CRAM"
	VCF  Format = "VCF"
	BCF  Format = "BCF"
)

// ParseFormat validates a format string from a request.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case BAM, CRAM, VCF, BCF:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported format %q", s)
	}
}

// Class selects how much of the file a ticket must reconstruct.
type Class string

// BODY (the default) returns full, region-filtered records; HEADER returns
// only enough to reconstruct the file's header section.
const (
	BODY   Class = "body"
	HEADER Class = "header"
)

// Interval is a half-open [Start, End) restriction over a reference
// sequence's coordinate space. A nil bound means "open" on that side.
type Interval struct {
	Start *uint32
	End   *uint32
}

// Query is an immutable, validated request descriptor. It is constructed
// once by the HTTP mapper and never mutated afterward.
type Query struct {
	ID string

	Format Format
	Class  Class

	// ReferenceName is nil for "whole file", points at "*" for "unmapped
	// only", or names a reference sequence.
	ReferenceName *string
	Interval      Interval

	Fields []string
	Tags   []string
	NoTags []string
}

// Unmapped reports whether the query restricts to the unmapped pseudo
// reference ("*").
func (q Query) Unmapped() bool {
	return q.ReferenceName != nil && *q.ReferenceName == "*"
}

// WholeFile reports whether the query names no reference restriction at
// all.
func (q Query) WholeFile() bool {
	return q.ReferenceName == nil
}

// Validate checks the invariants from the data model: an interval requires a
// concrete (non-"*") reference name, interval bounds must be ordered, and a
// HEADER-class query may not carry an interval.
func (q Query) Validate() error {
	hasInterval := q.Interval.Start != nil || q.Interval.End != nil
	if hasInterval {
		if q.ReferenceName == nil {
			return fmt.Errorf("interval requires a reference name")
		}
		if q.Unmapped() {
			return fmt.Errorf("interval not allowed with reference name \"*\"")
		}
		if q.Interval.Start != nil && q.Interval.End != nil && *q.Interval.Start > *q.Interval.End {
			return fmt.Errorf("interval start (%d) is greater than end (%d)", *q.Interval.Start, *q.Interval.End)
		}
	}
	if q.Class == HEADER && hasInterval {
		return fmt.Errorf("header class request may not specify an interval")
	}
	return nil
}
