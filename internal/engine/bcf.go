package engine

import (
	"bytes"
	"context"

	"github.com/htsget-community/htsget-server/internal/bcf"
	"github.com/htsget-community/htsget-server/internal/bgzf"
	"github.com/htsget-community/htsget-server/internal/csi"
	"github.com/htsget-community/htsget-server/internal/format"
	"github.com/htsget-community/htsget-server/internal/genomics"
	"github.com/htsget-community/htsget-server/internal/htserror"
	"github.com/htsget-community/htsget-server/internal/query"
	"github.com/htsget-community/htsget-server/internal/storage"
)

// BCFEngine answers htsget variants queries over BGZF-compressed BCF files
// indexed with a CSI index. Chunk-to-range translation is identical to the
// BAM engine's: the CSI index's own header chunk (the minimum chunk start
// seen across every bin, the same computation index.Read does for BAI) is
// used for the header range, rather than bcf.HeaderLength's decompressed
// byte count, which has no direct BGZF virtual-offset equivalent.
type BCFEngine struct {
	cfg Config
}

// NewBCFEngine constructs a BCFEngine.
func NewBCFEngine(cfg Config) *BCFEngine {
	return &BCFEngine{cfg: cfg}
}

// Format reports query.BCF.
func (e *BCFEngine) Format() query.Format {
	return query.BCF
}

// Search resolves q against the BCF object at key and its paired
// key+".csi" index.
func (e *BCFEngine) Search(ctx context.Context, backend storage.Backend, key string, q *query.Query) (*format.Response, error) {
	if err := q.Validate(); err != nil {
		return nil, htserror.Invalid("validating query", err)
	}
	if q.Unmapped() {
		return nil, htserror.Invalid("validating query", errUnmappedNotSupported)
	}

	eofPos, err := positionAtEOF(ctx, backend, key, len(bgzf.EOFMarker()))
	if err != nil {
		return nil, err
	}
	eofBlock := format.DataBlock{Data: bgzf.EOFMarker()}

	if q.Class == query.HEADER {
		raw, err := readWholeObject(ctx, backend, key+".csi")
		if err != nil {
			return nil, err
		}
		chunks, err := csi.Read(bytes.NewReader(raw), genomics.AllMappedReads)
		if err != nil {
			return nil, htserror.Internal("reading bcf csi index", err)
		}
		ranges, err := bgzfChunksToRanges(ctx, backend, key, chunks[0], nil, eofPos)
		if err != nil {
			return nil, err
		}
		return buildResponse(ctx, backend, key, query.BCF, ranges, eofBlock)
	}

	if q.WholeFile() {
		return buildResponse(ctx, backend, key, query.BCF,
			[]format.ByteRange{{First: 0, Last: eofPos - 1, Purpose: format.PurposeBody}},
			eofBlock)
	}

	raw, err := readWholeObject(ctx, backend, key+".csi")
	if err != nil {
		return nil, err
	}

	region, err := resolveRegion(q, func(name string) (int32, error) {
		probe, err := probeHeader(ctx, backend, key, e.cfg.blockSizeLimit())
		if err != nil {
			return 0, err
		}
		id, err := bcf.GetReferenceID(bytes.NewReader(probe), name)
		if err != nil {
			return 0, htserror.Missing("resolving reference name", err)
		}
		return int32(id), nil
	})
	if err != nil {
		return nil, err
	}

	chunks, err := csi.Read(bytes.NewReader(raw), region)
	if err != nil {
		return nil, htserror.Internal("reading bcf csi index", err)
	}
	header := chunks[0]

	body := bgzf.Merge(chunks[1:], e.cfg.blockSizeLimit())
	ranges, err := bgzfChunksToRanges(ctx, backend, key, header, body, eofPos)
	if err != nil {
		return nil, err
	}
	return buildResponse(ctx, backend, key, query.BCF, ranges, eofBlock)
}
