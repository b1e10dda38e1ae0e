package engine

import (
	"bytes"
	"context"

	"github.com/htsget-community/htsget-server/internal/cram"
	"github.com/htsget-community/htsget-server/internal/format"
	"github.com/htsget-community/htsget-server/internal/genomics"
	"github.com/htsget-community/htsget-server/internal/htserror"
	"github.com/htsget-community/htsget-server/internal/query"
	"github.com/htsget-community/htsget-server/internal/storage"
)

// CRAMEngine answers htsget reads queries over CRAM files indexed with a
// .crai index. Unlike the BGZF based engines, CRAM containers are addressed
// by plain byte offset, so no enclosing-block lookup is needed to turn an
// index chunk into a ticket range.
type CRAMEngine struct {
	cfg Config
}

// NewCRAMEngine constructs a CRAMEngine.
func NewCRAMEngine(cfg Config) *CRAMEngine {
	return &CRAMEngine{cfg: cfg}
}

// Format reports query.CRAM.
func (e *CRAMEngine) Format() query.Format {
	return query.CRAM
}

// Search resolves q against the CRAM object at key and its paired
// key+".crai" index.
func (e *CRAMEngine) Search(ctx context.Context, backend storage.Backend, key string, q *query.Query) (*format.Response, error) {
	if err := q.Validate(); err != nil {
		return nil, htserror.Invalid("validating query", err)
	}

	eofBlock := format.DataBlock{Data: cram.EOFContainer()}
	eofPos, err := positionAtEOF(ctx, backend, key, len(eofBlock.Data))
	if err != nil {
		return nil, err
	}

	if q.Class == query.HEADER {
		raw, err := readWholeObject(ctx, backend, key+".crai")
		if err != nil {
			return nil, err
		}
		idx, err := cram.ReadIndex(bytes.NewReader(raw))
		if err != nil {
			return nil, htserror.Internal("reading cram index", err)
		}
		chunks := idx.GetChunksForRegion(genomics.AllMappedReads)
		header := cramByteRange(chunks[0], format.PurposeHeader)
		if header.Last >= eofPos {
			header.Last = eofPos - 1
		}
		return buildResponse(ctx, backend, key, query.CRAM,
			[]format.ByteRange{header}, eofBlock)
	}

	if q.WholeFile() {
		return buildResponse(ctx, backend, key, query.CRAM,
			[]format.ByteRange{{First: 0, Last: eofPos - 1, Purpose: format.PurposeBody}},
			eofBlock)
	}

	raw, err := readWholeObject(ctx, backend, key+".crai")
	if err != nil {
		return nil, err
	}
	idx, err := cram.ReadIndex(bytes.NewReader(raw))
	if err != nil {
		return nil, htserror.Internal("reading cram index", err)
	}

	region, err := resolveRegion(q, func(name string) (int32, error) {
		probe, err := probeHeader(ctx, backend, key, e.cfg.blockSizeLimit())
		if err != nil {
			return 0, err
		}
		id, err := cram.GetReferenceID(bytes.NewReader(probe), name)
		if err != nil {
			return 0, htserror.Missing("resolving reference name", err)
		}
		return id, nil
	})
	if err != nil {
		return nil, err
	}

	chunks := idx.GetChunksForRegion(region)
	header := chunks[0]

	body := cram.SortAndMerge(chunks[1:], e.cfg.blockSizeLimit())
	ranges := make([]format.ByteRange, 0, 1+len(body))
	hr := cramByteRange(header, format.PurposeHeader)
	if hr.Last >= eofPos {
		hr.Last = eofPos - 1
	}
	ranges = append(ranges, hr)
	for _, c := range body {
		r := cramByteRange(c, format.PurposeBody)
		// The index caps the final container's end at MaxUint64; stop that
		// range just short of the EOF container instead, which is emitted
		// inline.
		if r.Last >= eofPos {
			r.Last = eofPos - 1
		}
		ranges = append(ranges, r)
	}

	return buildResponse(ctx, backend, key, query.CRAM, ranges, eofBlock)
}

// cramByteRange converts a byte-offset [Start,End) CRAM chunk into the
// inclusive [First,Last] range a ticket needs.
func cramByteRange(c *cram.Chunk, purpose format.Purpose) format.ByteRange {
	return format.ByteRange{First: c.Start, Last: c.End - 1, Purpose: purpose}
}
