package engine

import (
	"bytes"
	"context"

	"github.com/htsget-community/htsget-server/internal/bgzf"
	"github.com/htsget-community/htsget-server/internal/format"
	"github.com/htsget-community/htsget-server/internal/genomics"
	"github.com/htsget-community/htsget-server/internal/htserror"
	"github.com/htsget-community/htsget-server/internal/query"
	"github.com/htsget-community/htsget-server/internal/storage"
	"github.com/htsget-community/htsget-server/internal/tabix"
)

// VCFEngine answers htsget variants queries over BGZF-compressed VCF files
// indexed with a tabix (.tbi) index. Unlike BAM, the index self-contains a
// sequence name table (tabix.Index.GetReferenceID), so resolving a
// reference name never needs a separate header probe read.
type VCFEngine struct {
	cfg Config
}

// NewVCFEngine constructs a VCFEngine.
func NewVCFEngine(cfg Config) *VCFEngine {
	return &VCFEngine{cfg: cfg}
}

// Format reports query.VCF.
func (e *VCFEngine) Format() query.Format {
	return query.VCF
}

// Search resolves q against the VCF object at key and its paired
// key+".tbi" index.
func (e *VCFEngine) Search(ctx context.Context, backend storage.Backend, key string, q *query.Query) (*format.Response, error) {
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
		raw, err := readWholeObject(ctx, backend, key+".tbi")
		if err != nil {
			return nil, err
		}
		idx, err := tabix.ReadIndex(bytes.NewReader(raw))
		if err != nil {
			return nil, htserror.Internal("reading tabix index", err)
		}
		chunks, err := idx.Read(genomics.AllMappedReads)
		if err != nil {
			return nil, htserror.Internal("reading tabix index", err)
		}
		ranges, err := bgzfChunksToRanges(ctx, backend, key, chunks[0], nil, eofPos)
		if err != nil {
			return nil, err
		}
		return buildResponse(ctx, backend, key, query.VCF, ranges, eofBlock)
	}

	if q.WholeFile() {
		return buildResponse(ctx, backend, key, query.VCF,
			[]format.ByteRange{{First: 0, Last: eofPos - 1, Purpose: format.PurposeBody}},
			eofBlock)
	}

	raw, err := readWholeObject(ctx, backend, key+".tbi")
	if err != nil {
		return nil, err
	}
	idx, err := tabix.ReadIndex(bytes.NewReader(raw))
	if err != nil {
		return nil, htserror.Internal("reading tabix index", err)
	}

	region, err := resolveRegion(q, func(name string) (int32, error) {
		id, err := idx.GetReferenceID(name)
		if err != nil {
			return 0, htserror.Missing("resolving reference name", err)
		}
		return id, nil
	})
	if err != nil {
		return nil, err
	}

	chunks, err := idx.Read(region)
	if err != nil {
		return nil, htserror.Internal("reading tabix index", err)
	}
	header := chunks[0]

	body := bgzf.Merge(chunks[1:], e.cfg.blockSizeLimit())
	ranges, err := bgzfChunksToRanges(ctx, backend, key, header, body, eofPos)
	if err != nil {
		return nil, err
	}
	return buildResponse(ctx, backend, key, query.VCF, ranges, eofBlock)
}
