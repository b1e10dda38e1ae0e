// Package genomics contains definitions related to genomic coordinates.
package genomics

import "fmt"

// AllMappedReads defines a Region that matches all mapped reads in any
// reference.
var AllMappedReads = Region{ReferenceID: -1}

// UnmappedReferenceID identifies the pseudo reference used for reads with
// no coordinate (reference_name "*" in the htsget wire format).
const UnmappedReferenceID int32 = -2

// Unmapped defines a Region that matches only unplaced, unmapped reads.
var Unmapped = Region{ReferenceID: UnmappedReferenceID}

// Region defines a region of genomic interest.
type Region struct {
	// ReferenceID specifies the reference to match. If it is negative, any
	// reference matches the region, except for UnmappedReferenceID, which
	// selects only the unplaced unmapped reads.
	ReferenceID int32
	// Start and End specify the open range (in base pairs) relative to the
	// reference. If End is zero, it is treated as though it was set to the
	// last possible read position.
	Start, End uint32
}

func (region Region) String() string {
	return fmt.Sprintf("[region:%d, start:%d, end:%d]", region.ReferenceID, region.Start, region.End)
}
