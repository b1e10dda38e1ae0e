// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bai provides support for parsing classic BAM index (.bai) files
// and the BAM files they index.
package bai

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
	baiMagic = "BAI\x01"
	bamMagic = "BAM\x01"

	// This ID is used as a virtual bin ID for (unused) chunk metadata.
	metadataID = 37450

	// This is just to prevent arbitrarily long allocations due to malformed
	// data. No reference name should be longer than this in practice.
	maximumNameLength = 1024

	// The maximum read length as constrained by the size of the level zero
	// bin in the SAM specification, section 5.1.1.
	maximumReadLength = 1 << 29

	// minimumShift and depth together reproduce the fixed five-level BAI
	// binning scheme through the shared index.Read walk.
	minimumShift = 14
	depth        = 5

	// The size of each tiling window from the linear index, as specified in
	// the SAM specification section 5.1.3.
	linearWindowSize = 1 << 14
)

// GetReferenceID attempts to determine the ID for the named genomic
// reference by reading BAM header data from bam.
func GetReferenceID(bam io.Reader, reference string) (int32, error) {
	bam, err := gzip.NewReader(bam)
	if err != nil {
		return 0, fmt.Errorf("opening archive: %v", err)
	}

	if err := binary.ExpectBytes(bam, []byte(bamMagic)); err != nil {
		return 0, fmt.Errorf("reading magic: %v", err)
	}
	var length int32
	if err := binary.Read(bam, &length); err != nil {
		return 0, fmt.Errorf("reading SAM header length: %v", err)
	}
	if _, err := io.CopyN(ioutil.Discard, bam, int64(length)); err != nil {
		return 0, fmt.Errorf("reading past SAM header: %v", err)
	}
	var count int32
	if err := binary.Read(bam, &count); err != nil {
		return 0, fmt.Errorf("reading references count: %v", err)
	}
	for i := int32(0); i < count; i++ {
		if err := binary.Read(bam, &length); err != nil {
			return 0, fmt.Errorf("reading name length: %v", err)
		}
		// The name length includes a null terminating character.
		if length < 1 || length > maximumNameLength {
			return 0, fmt.Errorf("invalid name length (%d bytes)", length)
		}
		name := make([]byte, length)
		if _, err := io.ReadFull(bam, name); err != nil {
			return 0, fmt.Errorf("reading name: %v", err)
		}
		if string(name[:length-1]) == reference {
			return i, nil
		}
		// Read and discard the reference length (4 bytes).
		if err := binary.Read(bam, &length); err != nil {
			return 0, fmt.Errorf("reading reference length: %v", err)
		}
	}
	return 0, fmt.Errorf("no reference named %q found", reference)
}

// Read reads BAI index data from bai and returns a set of BGZF chunks
// covering the header and all mapped reads that fall inside the specified
// region. The first chunk is always the BAM header. If region identifies the
// unmapped pseudo reference, the chunk covering the unplaced unmapped reads
// at the tail of the file is returned instead.
func Read(bai io.Reader, region genomics.Region) ([]*bgzf.Chunk, error) {
	raw, err := ioutil.ReadAll(bai)
	if err != nil {
		return nil, fmt.Errorf("buffering index: %v", err)
	}

	if region.ReferenceID == genomics.UnmappedReferenceID {
		headerEnd, offset, err := scanForUnmappedTail(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("finding unplaced unmapped offset: %v", err)
		}
		return []*bgzf.Chunk{
			{End: headerEnd},
			{Start: offset, End: bgzf.LastAddress},
		}, nil
	}

	return index.Read(bytes.NewReader(raw), region, baiMagic, &Reader{})
}

// Reader implements index.Reader for the classic BAM index format. The BAI
// binning scheme is fixed (minShift=14, depth=5) and bins carry no per-bin
// offset, so candidate filtering happens through the trailing linear index
// instead of a bin Offset field.
type Reader struct{}

// ReadSchemeSize returns the BAI format's fixed binning scheme parameters.
func (*Reader) ReadSchemeSize(io.Reader) (int32, int32, error) {
	return minimumShift, depth, nil
}

// ReadBin reads a BAI bin header (ID and chunk count only).
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

// IsVirtualBin reports whether id is the BAI pseudo-bin used to store
// unused chunk metadata.
func (*Reader) IsVirtualBin(id uint32) bool {
	return id == metadataID
}

// SelectChunks reads the per-reference linear index and uses it to discard
// candidate chunks that end before the first read overlapping region.Start.
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

	var firstReadOffset bgzf.Address
	if index := int(region.Start / linearWindowSize); index < len(offsets) {
		firstReadOffset = bgzf.Address(offsets[index])
	}

	for _, chunk := range candidates {
		if chunk.End < firstReadOffset {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// scanForUnmappedTail scans a whole BAI file, tracking both the lowest chunk
// start seen (the end of the BAM header, the same quantity index.Read
// computes while walking bins) and the highest chunk end seen across every
// bin of every reference. In a coordinate sorted file the unplaced unmapped
// reads are written after every mapped read, so the latter offset is also
// where they begin.
func scanForUnmappedTail(r io.Reader) (headerEnd, unmappedStart bgzf.Address, err error) {
	if err := binary.ExpectBytes(r, []byte(baiMagic)); err != nil {
		return 0, 0, fmt.Errorf("reading magic: %v", err)
	}

	var references int32
	if err := binary.Read(r, &references); err != nil {
		return 0, 0, fmt.Errorf("reading reference count: %v", err)
	}

	headerEnd = bgzf.LastAddress
	var max bgzf.Address
	for i := int32(0); i < references; i++ {
		var binCount int32
		if err := binary.Read(r, &binCount); err != nil {
			return 0, 0, fmt.Errorf("reading bin count: %v", err)
		}
		for j := int32(0); j < binCount; j++ {
			var bin struct {
				ID     uint32
				Chunks int32
			}
			if err := binary.Read(r, &bin); err != nil {
				return 0, 0, fmt.Errorf("reading bin header: %v", err)
			}
			for k := int32(0); k < bin.Chunks; k++ {
				var chunk bgzf.Chunk
				if err := binary.Read(r, &chunk); err != nil {
					return 0, 0, fmt.Errorf("reading chunk: %v", err)
				}
				if bin.ID == metadataID {
					continue
				}
				if headerEnd > chunk.Start {
					headerEnd = chunk.Start
				}
				if chunk.End > max {
					max = chunk.End
				}
			}
		}

		var intervals int32
		if err := binary.Read(r, &intervals); err != nil {
			return 0, 0, fmt.Errorf("reading interval count: %v", err)
		}
		if intervals < 0 {
			return 0, 0, fmt.Errorf("invalid interval count (%d intervals)", intervals)
		}
		if _, err := io.CopyN(ioutil.Discard, r, 8*int64(intervals)); err != nil {
			return 0, 0, fmt.Errorf("skipping offsets: %v", err)
		}
	}
	return headerEnd, max, nil
}
