package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htsget-community/htsget-server/internal/bgzf"
	"github.com/htsget-community/htsget-server/internal/cram"
	"github.com/htsget-community/htsget-server/internal/format"
	"github.com/htsget-community/htsget-server/internal/htserror"
	"github.com/htsget-community/htsget-server/internal/query"
	"github.com/htsget-community/htsget-server/internal/storage"
)

// fakeBackend serves objects from an in-memory map and mints ticket URLs of
// the form https://example.com/<key> with a Range header.
type fakeBackend struct {
	objects map[string][]byte
}

func (f *fakeBackend) Head(ctx context.Context, key string) (int64, error) {
	data, ok := f.objects[key]
	if !ok {
		return 0, storage.NewError(storage.NotFound, "fake", fmt.Errorf("no object %q", key))
	}
	return int64(len(data)), nil
}

func (f *fakeBackend) GetRange(ctx context.Context, key string, r storage.ByteRange) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.NewError(storage.NotFound, "fake", fmt.Errorf("no object %q", key))
	}
	if r.First >= uint64(len(data)) {
		return nil, storage.NewError(storage.Malformed, "fake", fmt.Errorf("range %v starts past object end", r))
	}
	last := r.Last
	if last >= uint64(len(data)) {
		last = uint64(len(data)) - 1
	}
	return ioutil.NopCloser(bytes.NewReader(data[r.First : last+1])), nil
}

func (f *fakeBackend) TicketURL(ctx context.Context, key string, r storage.ByteRange) (storage.Url, error) {
	return storage.Url{
		URL:     "https://example.com/" + key,
		Headers: map[string]string{"Range": fmt.Sprintf("bytes=%d-%d", r.First, r.Last)},
	}, nil
}

func encodeBlock(t *testing.T, data []byte) []byte {
	t.Helper()
	block, err := bgzf.EncodeBlock(data)
	require.NoError(t, err, "EncodeBlock() failed")
	return block
}

func write(t *testing.T, buf *bytes.Buffer, v interface{}) {
	t.Helper()
	require.NoError(t, binary.Write(buf, binary.LittleEndian, v), "writing fixture")
}

// bamHeaderPayload builds an uncompressed BAM header declaring a single
// reference named chr1.
func bamHeaderPayload(t *testing.T) []byte {
	var buf bytes.Buffer
	buf.WriteString("BAM\x01")
	write(t, &buf, int32(0)) // l_text
	write(t, &buf, int32(1)) // n_ref
	write(t, &buf, int32(5)) // l_name
	buf.WriteString("chr1\x00")
	write(t, &buf, int32(1000000)) // l_ref
	return buf.Bytes()
}

// bamFixture assembles a two-block BAM file (header block, one body block,
// EOF sentinel) and a matching .bai index with a single chunk covering the
// body block for chr1.
func bamFixture(t *testing.T) (file, bai []byte, headerLen, bodyLen int) {
	headerBlock := encodeBlock(t, bamHeaderPayload(t))
	bodyBlock := encodeBlock(t, []byte("alignment records"))

	var out bytes.Buffer
	out.Write(headerBlock)
	out.Write(bodyBlock)
	out.Write(bgzf.EOFMarker())

	chunkStart := bgzf.NewAddress(uint64(len(headerBlock)), 0)
	chunkEnd := bgzf.NewAddress(uint64(len(headerBlock)), 7)

	var idx bytes.Buffer
	idx.WriteString("BAI\x01")
	write(t, &idx, int32(1)) // n_ref
	write(t, &idx, int32(1)) // n_bin
	write(t, &idx, uint32(4681))
	write(t, &idx, int32(1)) // n_chunk
	write(t, &idx, uint64(chunkStart))
	write(t, &idx, uint64(chunkEnd))
	write(t, &idx, int32(1)) // n_intv
	write(t, &idx, uint64(0))

	return out.Bytes(), idx.Bytes(), len(headerBlock), len(bodyBlock)
}

func refName(name string) *string {
	return &name
}

func coord(v uint32) *uint32 {
	return &v
}

func eofDataURL(marker []byte) string {
	return "data:;base64," + base64.StdEncoding.EncodeToString(marker)
}

func TestBAMEngine_RegionQuery(t *testing.T) {
	file, bai, headerLen, bodyLen := bamFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{
		"sample.bam":     file,
		"sample.bam.bai": bai,
	}}

	q := &query.Query{
		ID:            "sample.bam",
		Format:        query.BAM,
		Class:         query.BODY,
		ReferenceName: refName("chr1"),
		Interval:      query.Interval{Start: coord(10000), End: coord(20000)},
	}

	response, err := NewBAMEngine(Config{}).Search(context.Background(), backend, "sample.bam", q)
	require.NoError(t, err)
	require.Len(t, response.Urls, 3)

	assert.Equal(t, "BAM", response.Format)
	assert.Equal(t, format.ClassHeader, response.Urls[0].Class)
	assert.Equal(t, fmt.Sprintf("bytes=0-%d", headerLen-1), response.Urls[0].Headers["Range"])
	assert.Equal(t, format.ClassBody, response.Urls[1].Class)
	assert.Equal(t, fmt.Sprintf("bytes=%d-%d", headerLen, headerLen+bodyLen-1), response.Urls[1].Headers["Range"])
	assert.Equal(t, eofDataURL(bgzf.EOFMarker()), response.Urls[2].URL)
}

func TestBAMEngine_RegionQueryIsDeterministic(t *testing.T) {
	file, bai, _, _ := bamFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{
		"sample.bam":     file,
		"sample.bam.bai": bai,
	}}

	q := &query.Query{
		ID:            "sample.bam",
		Format:        query.BAM,
		Class:         query.BODY,
		ReferenceName: refName("chr1"),
		Interval:      query.Interval{Start: coord(10000), End: coord(20000)},
	}

	first, err := NewBAMEngine(Config{}).Search(context.Background(), backend, "sample.bam", q)
	require.NoError(t, err)
	second, err := NewBAMEngine(Config{}).Search(context.Background(), backend, "sample.bam", q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBAMEngine_HeaderClass(t *testing.T) {
	file, bai, headerLen, _ := bamFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{
		"sample.bam":     file,
		"sample.bam.bai": bai,
	}}

	q := &query.Query{ID: "sample.bam", Format: query.BAM, Class: query.HEADER}

	response, err := NewBAMEngine(Config{}).Search(context.Background(), backend, "sample.bam", q)
	require.NoError(t, err)
	require.Len(t, response.Urls, 2)

	assert.Equal(t, format.ClassHeader, response.Urls[0].Class)
	assert.Equal(t, fmt.Sprintf("bytes=0-%d", headerLen-1), response.Urls[0].Headers["Range"])
	assert.Equal(t, eofDataURL(bgzf.EOFMarker()), response.Urls[1].URL)
}

func TestBAMEngine_WholeFile(t *testing.T) {
	file, bai, _, _ := bamFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{
		"sample.bam":     file,
		"sample.bam.bai": bai,
	}}

	q := &query.Query{ID: "sample.bam", Format: query.BAM, Class: query.BODY}

	response, err := NewBAMEngine(Config{}).Search(context.Background(), backend, "sample.bam", q)
	require.NoError(t, err)
	require.Len(t, response.Urls, 2)

	eofPos := len(file) - len(bgzf.EOFMarker())
	assert.Equal(t, fmt.Sprintf("bytes=0-%d", eofPos-1), response.Urls[0].Headers["Range"])
	assert.Equal(t, eofDataURL(bgzf.EOFMarker()), response.Urls[1].URL)
}

func TestBAMEngine_UnmappedQuery(t *testing.T) {
	file, bai, headerLen, bodyLen := bamFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{
		"sample.bam":     file,
		"sample.bam.bai": bai,
	}}

	q := &query.Query{
		ID:            "sample.bam",
		Format:        query.BAM,
		Class:         query.BODY,
		ReferenceName: refName("*"),
	}

	response, err := NewBAMEngine(Config{}).Search(context.Background(), backend, "sample.bam", q)
	require.NoError(t, err)
	require.Len(t, response.Urls, 3)

	assert.Equal(t, fmt.Sprintf("bytes=0-%d", headerLen-1), response.Urls[0].Headers["Range"])
	eofPos := headerLen + bodyLen
	assert.Equal(t, fmt.Sprintf("bytes=%d-%d", headerLen, eofPos-1), response.Urls[1].Headers["Range"])
}

func TestBAMEngine_MissingIndexForRegionQuery(t *testing.T) {
	file, _, _, _ := bamFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{"sample.bam": file}}

	q := &query.Query{
		ID:            "sample.bam",
		Format:        query.BAM,
		Class:         query.BODY,
		ReferenceName: refName("chr1"),
	}

	_, err := NewBAMEngine(Config{}).Search(context.Background(), backend, "sample.bam", q)
	require.Error(t, err)
	he, ok := htserror.As(err)
	require.True(t, ok, "expected an htserror, got %v", err)
	assert.Equal(t, htserror.NotFound, he.Kind)
}

func TestBAMEngine_InvalidQuery(t *testing.T) {
	backend := &fakeBackend{objects: map[string][]byte{}}

	q := &query.Query{
		ID:            "sample.bam",
		Format:        query.BAM,
		Class:         query.BODY,
		ReferenceName: refName("chr1"),
		Interval:      query.Interval{Start: coord(100), End: coord(50)},
	}

	_, err := NewBAMEngine(Config{}).Search(context.Background(), backend, "sample.bam", q)
	require.Error(t, err)
	he, ok := htserror.As(err)
	require.True(t, ok)
	assert.Equal(t, htserror.InvalidInput, he.Kind)
}

// vcfFixture assembles a BGZF compressed VCF (header block plus EOF) and a
// tabix index declaring one reference X with no bins at all.
func vcfFixture(t *testing.T) (file, tbi []byte, headerLen int) {
	headerBlock := encodeBlock(t, []byte("##fileformat=VCFv4.3\n#CHROM\tPOS\tID\n"))

	var out bytes.Buffer
	out.Write(headerBlock)
	out.Write(bgzf.EOFMarker())

	var idx bytes.Buffer
	idx.WriteString("TBI\x01")
	write(t, &idx, int32(1))   // n_ref
	write(t, &idx, int32(2))   // format: VCF
	write(t, &idx, int32(1))   // col_seq
	write(t, &idx, int32(2))   // col_beg
	write(t, &idx, int32(0))   // col_end
	write(t, &idx, int32('#')) // meta
	write(t, &idx, int32(0))   // skip
	write(t, &idx, int32(2))   // l_nm
	idx.WriteString("X\x00")
	write(t, &idx, int32(0)) // n_bin
	write(t, &idx, int32(0)) // n_intv

	return out.Bytes(), encodeBlock(t, idx.Bytes()), len(headerBlock)
}

func TestVCFEngine_RegionWithNoBins(t *testing.T) {
	file, tbi, _ := vcfFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{
		"calls.vcf.gz":     file,
		"calls.vcf.gz.tbi": tbi,
	}}

	q := &query.Query{
		ID:            "calls.vcf.gz",
		Format:        query.VCF,
		Class:         query.BODY,
		ReferenceName: refName("X"),
		Interval:      query.Interval{Start: coord(0), End: coord(1)},
	}

	response, err := NewVCFEngine(Config{}).Search(context.Background(), backend, "calls.vcf.gz", q)
	require.NoError(t, err)
	require.Len(t, response.Urls, 2)

	assert.Equal(t, format.ClassHeader, response.Urls[0].Class)
	assert.Equal(t, eofDataURL(bgzf.EOFMarker()), response.Urls[1].URL)
}

func TestVCFEngine_UnknownReference(t *testing.T) {
	file, tbi, _ := vcfFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{
		"calls.vcf.gz":     file,
		"calls.vcf.gz.tbi": tbi,
	}}

	q := &query.Query{
		ID:            "calls.vcf.gz",
		Format:        query.VCF,
		Class:         query.BODY,
		ReferenceName: refName("chr9"),
	}

	_, err := NewVCFEngine(Config{}).Search(context.Background(), backend, "calls.vcf.gz", q)
	require.Error(t, err)
	he, ok := htserror.As(err)
	require.True(t, ok)
	assert.Equal(t, htserror.NotFound, he.Kind)
}

// bcfFixture assembles a BGZF compressed BCF body and a CSI index with one
// chunk covering the body block.
func bcfFixture(t *testing.T) (file, csiData []byte, headerLen int) {
	headerBlock := encodeBlock(t, []byte("BCF\x02\x02binary header"))
	bodyBlock := encodeBlock(t, []byte("records"))

	var out bytes.Buffer
	out.Write(headerBlock)
	out.Write(bodyBlock)
	out.Write(bgzf.EOFMarker())

	chunkStart := bgzf.NewAddress(uint64(len(headerBlock)), 0)
	chunkEnd := bgzf.NewAddress(uint64(len(headerBlock)), 3)

	var idx bytes.Buffer
	idx.WriteString("CSI\x01")
	write(t, &idx, int32(14)) // min_shift
	write(t, &idx, int32(5))  // depth
	write(t, &idx, int32(0))  // l_aux
	write(t, &idx, int32(1))  // n_ref
	write(t, &idx, int32(1))  // n_bin
	write(t, &idx, uint32(4681))
	write(t, &idx, uint64(0)) // loffset
	write(t, &idx, int32(1))  // n_chunk
	write(t, &idx, uint64(chunkStart))
	write(t, &idx, uint64(chunkEnd))

	return out.Bytes(), encodeBlock(t, idx.Bytes()), len(headerBlock)
}

func TestBCFEngine_HeaderClass(t *testing.T) {
	file, csiData, headerLen := bcfFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{
		"calls.bcf":     file,
		"calls.bcf.csi": csiData,
	}}

	q := &query.Query{ID: "calls.bcf", Format: query.BCF, Class: query.HEADER}

	response, err := NewBCFEngine(Config{}).Search(context.Background(), backend, "calls.bcf", q)
	require.NoError(t, err)
	require.Len(t, response.Urls, 2)

	assert.Equal(t, format.ClassHeader, response.Urls[0].Class)
	assert.Equal(t, fmt.Sprintf("bytes=0-%d", headerLen-1), response.Urls[0].Headers["Range"])
	assert.Equal(t, eofDataURL(bgzf.EOFMarker()), response.Urls[1].URL)
}

// cramFixture builds a 45000 byte CRAM file and a gzip compressed CRAI with
// mapped containers at 500 and 12000 and an unmapped container at 40000.
func cramFixture(t *testing.T) (file, crai []byte) {
	lines := "0\t1\t30000\t500\t0\t100\n" +
		"0\t30001\t60000\t12000\t0\t100\n" +
		"-1\t0\t0\t40000\t0\t100\n"

	file = make([]byte, 45000)
	copy(file[45000-len(cram.EOFContainer()):], cram.EOFContainer())

	return file, encodeBlock(t, []byte(lines))
}

func TestCRAMEngine_HeaderClass(t *testing.T) {
	file, crai := cramFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{
		"sample.cram":      file,
		"sample.cram.crai": crai,
	}}

	q := &query.Query{ID: "sample.cram", Format: query.CRAM, Class: query.HEADER}

	response, err := NewCRAMEngine(Config{}).Search(context.Background(), backend, "sample.cram", q)
	require.NoError(t, err)
	require.Len(t, response.Urls, 2)

	assert.Equal(t, format.ClassHeader, response.Urls[0].Class)
	assert.Equal(t, "bytes=0-499", response.Urls[0].Headers["Range"])
	assert.Equal(t, eofDataURL(cram.EOFContainer()), response.Urls[1].URL)
}

func TestCRAMEngine_UnmappedQuery(t *testing.T) {
	file, crai := cramFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{
		"sample.cram":      file,
		"sample.cram.crai": crai,
	}}

	q := &query.Query{
		ID:            "sample.cram",
		Format:        query.CRAM,
		Class:         query.BODY,
		ReferenceName: refName("*"),
	}

	response, err := NewCRAMEngine(Config{}).Search(context.Background(), backend, "sample.cram", q)
	require.NoError(t, err)
	require.Len(t, response.Urls, 3)

	assert.Equal(t, "bytes=0-499", response.Urls[0].Headers["Range"])
	eofPos := len(file) - len(cram.EOFContainer())
	assert.Equal(t, fmt.Sprintf("bytes=40000-%d", eofPos-1), response.Urls[1].Headers["Range"])
	assert.Equal(t, eofDataURL(cram.EOFContainer()), response.Urls[2].URL)
}

func TestRegistry_DispatchesByFormat(t *testing.T) {
	registry := NewRegistry(NewBAMEngine(Config{}), NewCRAMEngine(Config{}), NewVCFEngine(Config{}), NewBCFEngine(Config{}))

	file, bai, _, _ := bamFixture(t)
	backend := &fakeBackend{objects: map[string][]byte{
		"sample.bam":     file,
		"sample.bam.bai": bai,
	}}

	q := &query.Query{ID: "sample.bam", Format: query.BAM, Class: query.BODY}
	response, err := registry.Search(context.Background(), backend, "sample.bam", q)
	require.NoError(t, err)
	assert.Equal(t, "BAM", response.Format)
}

func TestRegistry_UnknownFormat(t *testing.T) {
	registry := NewRegistry(NewBAMEngine(Config{}))

	q := &query.Query{ID: "x", Format: query.CRAM, Class: query.BODY}
	_, err := registry.Search(context.Background(), &fakeBackend{}, "x", q)
	require.Error(t, err)
	he, ok := htserror.As(err)
	require.True(t, ok)
	assert.Equal(t, htserror.UnsupportedFormat, he.Kind)
}
