// Package tabix provides support for parsing generic tabix (.tbi) indices
// used to serve plain text tab delimited formats (and VCF) compressed with
// BGZF.
package tabix

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/htsget-community/htsget-server/internal/bgzf"
	"github.com/htsget-community/htsget-server/internal/binary"
	"github.com/htsget-community/htsget-server/internal/genomics"
	"github.com/htsget-community/htsget-server/internal/index"
)

const (
	tabixMagic = "TBI\x01"

	// The tabix binning scheme reuses the fixed five-level BAI scheme.
	minimumShift = 14
	depth        = 5

	linearWindowSize = 1 << 14

	// VCFFormat identifies a tabix index built over a VCF file in the
	// format header field.
	VCFFormat = 2
)

type header struct {
	References int32
	Format     int32
	ColumnSeq  int32
	ColumnBeg  int32
	ColumnEnd  int32
	Meta       int32
	Skip       int32
	NameLength int32
}

// Index holds the data read from a tabix index file needed to resolve
// reference names to IDs and to answer region queries.
type Index struct {
	raw   []byte
	names []string
}

// ReadIndex parses the header and sequence name table of a tabix index,
// buffering the remainder for subsequent calls to Read.
func ReadIndex(tbi io.Reader) (*Index, error) {
	raw, err := ioutil.ReadAll(tbi)
	if err != nil {
		return nil, fmt.Errorf("buffering index: %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("opening archive: %v", err)
	}

	if err := binary.ExpectBytes(gz, []byte(tabixMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %v", err)
	}

	var h header
	if err := binary.Read(gz, &h); err != nil {
		return nil, fmt.Errorf("reading header: %v", err)
	}
	if h.NameLength < 0 {
		return nil, fmt.Errorf("invalid name table length (%d bytes)", h.NameLength)
	}

	names := make([]byte, h.NameLength)
	if _, err := io.ReadFull(gz, names); err != nil {
		return nil, fmt.Errorf("reading name table: %v", err)
	}

	return &Index{raw: raw, names: splitNames(names)}, nil
}

func splitNames(raw []byte) []string {
	var names []string
	for _, part := range bytes.Split(raw, []byte{0}) {
		if len(part) > 0 {
			names = append(names, string(part))
		}
	}
	return names
}

// GetReferenceID returns the ID of the named reference as recorded in the
// index's own sequence name table.
func (idx *Index) GetReferenceID(reference string) (int32, error) {
	for i, name := range idx.names {
		if name == reference {
			return int32(i), nil
		}
	}
	return 0, fmt.Errorf("no reference named %q found", reference)
}

// Read returns a set of BGZF chunks covering the header and all records
// inside the specified region. The first chunk is always the file's leading
// header/comment lines.
func (idx *Index) Read(region genomics.Region) ([]*bgzf.Chunk, error) {
	gz, err := gzip.NewReader(bytes.NewReader(idx.raw))
	if err != nil {
		return nil, fmt.Errorf("opening archive: %v", err)
	}

	if err := binary.ExpectBytes(gz, []byte(tabixMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %v", err)
	}

	var h header
	if err := binary.Read(gz, &h); err != nil {
		return nil, fmt.Errorf("reading header: %v", err)
	}
	if _, err := io.CopyN(ioutil.Discard, gz, int64(h.NameLength)); err != nil {
		return nil, fmt.Errorf("skipping name table: %v", err)
	}

	return index.ReadReferences(gz, region, h.References, minimumShift, depth, &Reader{})
}

// Reader implements index.Reader for the tabix format. Like BAI, tabix bins
// carry no per-bin offset, so candidate filtering is done through the
// trailing linear index.
type Reader struct{}

// ReadSchemeSize returns the tabix format's fixed binning scheme parameters.
func (*Reader) ReadSchemeSize(io.Reader) (int32, int32, error) {
	return minimumShift, depth, nil
}

// ReadBin reads a tabix bin header (ID and chunk count only).
func (*Reader) ReadBin(r io.Reader) (*index.Bin, error) {
	var bin struct {
		ID     uint32
		Chunks int32
	}
	if err := binary.Read(r, &bin); err != nil {
		return nil, fmt.Errorf("reading bin header: %v", err)
	}
	return &index.Bin{ID: bin.ID, Chunks: bin.Chunks}, nil
}

// IsVirtualBin reports whether id identifies a pseudo-bin. Tabix has none.
func (*Reader) IsVirtualBin(uint32) bool {
	return false
}

// SelectChunks reads the per-reference linear index and uses it to discard
// candidate chunks that end before the first record overlapping region.Start.
func (*Reader) SelectChunks(r io.Reader, region genomics.Region, candidates []*bgzf.Chunk, chunks []*bgzf.Chunk) ([]*bgzf.Chunk, error) {
	var intervals int32
	if err := binary.Read(r, &intervals); err != nil {
		return nil, fmt.Errorf("reading interval count: %v", err)
	}
	if intervals < 0 {
		return nil, fmt.Errorf("invalid interval count (%d intervals)", intervals)
	}
	offsets := make([]uint64, intervals)
	if err := binary.Read(r, &offsets); err != nil {
		return nil, fmt.Errorf("reading offsets: %v", err)
	}

	var firstRecordOffset bgzf.Address
	if index := int(region.Start / linearWindowSize); index < len(offsets) {
		firstRecordOffset = bgzf.Address(offsets[index])
	}

	for _, chunk := range candidates {
		if chunk.End < firstRecordOffset {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
