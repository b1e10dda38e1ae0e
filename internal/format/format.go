// Package format defines the htsget wire model: the ByteRange an engine
// computes internally, and the Url/Response shapes serialized as the final
// ticket.
package format

import (
	"encoding/base64"
	"fmt"
)

// Purpose tags a ByteRange with the role it plays in the reconstructed
// file.
type Purpose string

// The purposes a ByteRange (and the Url derived from it) can carry.
const (
	PurposeHeader Purpose = "header"
	PurposeBody   Purpose = "body"
	PurposeEOF    Purpose = "eof"
	PurposeIndex  Purpose = "index"
)

// ByteRange is an inclusive [First, Last] range over the primary object,
// computed by a format engine before being turned into a Url.
type ByteRange struct {
	First, Last uint64
	Purpose     Purpose
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() uint64 {
	return r.Last - r.First + 1
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d-%d]", r.First, r.Last)
}

// DataBlock is either a storage-backed Url or inline Data (used for markers
// like the BGZF EOF block or the CRAM EOF container that have no storage
// address of their own).
type DataBlock struct {
	Url  *Url
	Data []byte
}

// ToURL renders d as the Url that belongs in a ticket's urls list: a
// storage-backed Url is passed through unchanged, and inline Data is
// base64 encoded into a "data:" URL the same way the reference BAM/CRAM
// EOF sentinels are represented.
func (d DataBlock) ToURL() Url {
	if d.Url != nil {
		return *d.Url
	}
	return Url{URL: "data:;base64," + base64.StdEncoding.EncodeToString(d.Data)}
}

// Url is one entry in a ticket's urls list.
type Url struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Class   Class             `json:"class,omitempty"`
}

// Class mirrors query.Class in the wire response; duplicated here (rather
// than imported) because the wire value is lowercase and optional, unlike
// the internal Query's required Class field.
type Class string

// The class values that may appear in a ticket's per-url "class" field.
const (
	ClassHeader Class = "header"
	ClassBody   Class = "body"
)

// Response is the full ticket returned to the client.
type Response struct {
	Format string `json:"format"`
	Urls   []Url  `json:"urls"`
}

// Envelope wraps a successful Response in the htsget top level "htsget"
// JSON key. It holds no error fields.
type Envelope struct {
	Htsget Response `json:"htsget"`
}
