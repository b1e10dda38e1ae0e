// Package engine implements the search/ticketing core shared by every
// container format: turning a validated query into the minimal set of byte
// ranges (plus any inline markers) that together reconstruct a valid
// sub-file, and rendering those into ticket URLs against a resolved storage
// backend.
package engine

import (
	"context"
	"fmt"
	"io/ioutil"

	"github.com/htsget-community/htsget-server/internal/bgzf"
	"github.com/htsget-community/htsget-server/internal/format"
	"github.com/htsget-community/htsget-server/internal/genomics"
	"github.com/htsget-community/htsget-server/internal/htserror"
	"github.com/htsget-community/htsget-server/internal/metrics"
	"github.com/htsget-community/htsget-server/internal/query"
	"github.com/htsget-community/htsget-server/internal/storage"
)

// errUnmappedNotSupported is returned by the variant formats (VCF, BCF):
// the unplaced-unmapped-reads special case in spec §4.3.1 is a BAM/CRAM
// concept with no analogue in a variant call index.
var errUnmappedNotSupported = fmt.Errorf(`reference name "*" is not supported for this format`)

// defaultBlockSizeLimit mirrors the teacher's "block_size" flag default
// (1GiB): the same value doubles as the leading-bytes header probe size and
// as the size a run of adjacent chunks may grow to before a ticket splits
// them into separate URLs.
const defaultBlockSizeLimit = 1 << 30

// Config tunes engine behavior; the zero value is usable.
type Config struct {
	// BlockSizeLimit bounds both the header probe read and the merged
	// chunk size, the same dual role the teacher's blockSizeLimit field
	// plays in api.Server.
	BlockSizeLimit uint64
}

func (c Config) blockSizeLimit() uint64 {
	if c.BlockSizeLimit > 0 {
		return c.BlockSizeLimit
	}
	return defaultBlockSizeLimit
}

// Engine resolves a validated query against a single resolved storage
// object into a ticket response. One Engine implementation exists per
// container format.
type Engine interface {
	Format() query.Format
	Search(ctx context.Context, backend storage.Backend, key string, q *query.Query) (*format.Response, error)
}

// Registry dispatches a query to the Engine registered for its format.
type Registry map[query.Format]Engine

// NewRegistry builds a Registry from a set of engines, keyed by their own
// reported Format.
func NewRegistry(engines ...Engine) Registry {
	r := make(Registry, len(engines))
	for _, e := range engines {
		r[e.Format()] = e
	}
	return r
}

// Search dispatches q to the engine registered for q.Format.
func (r Registry) Search(ctx context.Context, backend storage.Backend, key string, q *query.Query) (*format.Response, error) {
	e, ok := r[q.Format]
	if !ok {
		return nil, htserror.Unsupported("dispatching query", fmt.Errorf("no engine registered for format %q", q.Format))
	}
	return e.Search(ctx, backend, key, q)
}

// probeHeader reads up to limit leading bytes of key, for formats that must
// parse their own container header to resolve a reference name to an ID.
func probeHeader(ctx context.Context, backend storage.Backend, key string, limit uint64) ([]byte, error) {
	r, err := backend.GetRange(ctx, key, storage.ByteRange{First: 0, Last: limit - 1})
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	defer r.Close()

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, htserror.Internal("reading header probe", err)
	}
	return data, nil
}

// readWholeObject reads key in its entirety, for small auxiliary objects
// (indices) an engine must parse completely.
func readWholeObject(ctx context.Context, backend storage.Backend, key string) ([]byte, error) {
	size, err := backend.Head(ctx, key)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	if size == 0 {
		return nil, nil
	}

	r, err := backend.GetRange(ctx, key, storage.ByteRange{First: 0, Last: uint64(size - 1)})
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	defer r.Close()

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, htserror.Internal("reading index", err)
	}
	return data, nil
}

// positionAtEOF returns the offset at which the canonical trailing marker
// (markerLen bytes) begins in key. Body ranges that would otherwise read to
// the true end of the file stop just short of this offset; the marker
// itself is always emitted as an inline data block instead of being read
// back from storage, so a truncated or subtly different trailing block in
// the source object can never produce a malformed ticket.
func positionAtEOF(ctx context.Context, backend storage.Backend, key string, markerLen int) (uint64, error) {
	size, err := backend.Head(ctx, key)
	if err != nil {
		return 0, wrapStorageErr(err)
	}
	if size < int64(markerLen) {
		return 0, htserror.Internal("locating eof marker", fmt.Errorf("object %q is smaller than its format's eof marker", key))
	}
	return uint64(size - int64(markerLen)), nil
}

// wrapStorageErr maps a storage.Error into the corresponding htserror.Kind;
// engines return only htserror values so the HTTP mapper never needs to
// know about the storage package.
func wrapStorageErr(err error) error {
	se, ok := err.(*storage.Error)
	if !ok {
		return htserror.Internal("accessing storage", err)
	}
	switch se.Kind {
	case storage.NotFound:
		return htserror.Missing("accessing storage", err)
	case storage.PermissionDenied:
		return htserror.Forbidden("accessing storage", err)
	default:
		return htserror.Internal("accessing storage", err)
	}
}

// classFor maps an internal ByteRange purpose onto the wire "class" value.
func classFor(p format.Purpose) format.Class {
	if p == format.PurposeHeader {
		return format.ClassHeader
	}
	return format.ClassBody
}

// buildResponse turns byte ranges over the primary object, plus any inline
// trailing markers, into the final ticket.
func buildResponse(ctx context.Context, backend storage.Backend, key string, f query.Format, ranges []format.ByteRange, trailing ...format.DataBlock) (*format.Response, error) {
	urls := make([]format.Url, 0, len(ranges)+len(trailing))
	var bodyBytes uint64
	for _, r := range ranges {
		u, err := backend.TicketURL(ctx, key, storage.ByteRange{First: r.First, Last: r.Last})
		if err != nil {
			return nil, wrapStorageErr(err)
		}
		urls = append(urls, format.Url{URL: u.URL, Headers: u.Headers, Class: classFor(r.Purpose)})
		bodyBytes += r.Length()
	}
	for _, d := range trailing {
		urls = append(urls, d.ToURL())
		bodyBytes += uint64(len(d.Data))
	}

	metrics.TicketURLCount.WithLabelValues(string(f)).Observe(float64(len(urls)))
	metrics.TicketBytes.WithLabelValues(string(f)).Observe(float64(bodyBytes))

	return &format.Response{Format: string(f), Urls: urls}, nil
}

// bgzfByteRange translates a BGZF chunk's virtual-offset bounds into a byte
// range, rounding the end up to the boundary of its enclosing block (spec's
// "vend.compressed + size_of_enclosing_bgzf_block - 1" rule) so a ticket
// never needs to slice a block in half. eofPos is consulted when the chunk's
// end is the bgzf.LastAddress sentinel (meaning "runs to end of file").
func bgzfByteRange(ctx context.Context, backend storage.Backend, key string, c *bgzf.Chunk, eofPos uint64) (format.ByteRange, error) {
	first := c.Start.BlockOffset()

	var last uint64
	switch {
	case c.End == bgzf.LastAddress:
		if eofPos == 0 {
			return format.ByteRange{}, htserror.Internal("translating chunk", fmt.Errorf("chunk end is open ended but no eof position was supplied"))
		}
		last = eofPos - 1
	case c.End.DataOffset() == 0:
		// A zero data offset means the chunk's end falls exactly on a block
		// boundary: the preceding block already covers everything needed.
		if c.End.BlockOffset() == 0 {
			return format.ByteRange{}, htserror.Internal("translating chunk", fmt.Errorf("chunk end at file start"))
		}
		last = c.End.BlockOffset() - 1
	default:
		blockHeader, err := backend.GetRange(ctx, key, storage.ByteRange{First: c.End.BlockOffset(), Last: c.End.BlockOffset() + 63})
		if err != nil {
			return format.ByteRange{}, wrapStorageErr(err)
		}
		defer blockHeader.Close()

		size, err := bgzf.BlockSize(blockHeader)
		if err != nil {
			return format.ByteRange{}, htserror.Internal("reading enclosing bgzf block size", err)
		}
		last = c.End.BlockOffset() + uint64(size) - 1
	}

	return format.ByteRange{First: first, Last: last}, nil
}

// resolveRegion turns a query that restricts to a reference name (including
// the unmapped pseudo reference "*") into the genomics.Region a binning
// index reader expects. lookupID resolves a concrete reference name to its
// index-numbered ID, typically by probing the file's own header.
func resolveRegion(q *query.Query, lookupID func(name string) (int32, error)) (genomics.Region, error) {
	if q.Unmapped() {
		return genomics.Unmapped, nil
	}

	id, err := lookupID(*q.ReferenceName)
	if err != nil {
		return genomics.Region{}, err
	}
	region := genomics.Region{ReferenceID: id}
	if q.Interval.Start != nil {
		region.Start = *q.Interval.Start
	}
	if q.Interval.End != nil {
		region.End = *q.Interval.End
	}
	return region, nil
}

// bgzfChunksToRanges translates a header chunk and a set of body chunks
// into byte ranges tagged with the right purpose, in ticket order.
func bgzfChunksToRanges(ctx context.Context, backend storage.Backend, key string, header *bgzf.Chunk, body []*bgzf.Chunk, eofPos uint64) ([]format.ByteRange, error) {
	ranges := make([]format.ByteRange, 0, 1+len(body))

	hr, err := bgzfByteRange(ctx, backend, key, header, eofPos)
	if err != nil {
		return nil, err
	}
	hr.Purpose = format.PurposeHeader
	ranges = append(ranges, hr)

	for _, c := range body {
		r, err := bgzfByteRange(ctx, backend, key, c, eofPos)
		if err != nil {
			return nil, err
		}
		r.Purpose = format.PurposeBody
		ranges = append(ranges, r)
	}
	return ranges, nil
}
