// Copyright 2018 Google Inc.
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

package bcf

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"strings"
	"testing"
)

func buildBCF(t *testing.T, header string) []byte {
	t.Helper()
	var raw bytes.Buffer
	raw.WriteString(bcfMagic)
	if err := binary.Write(&raw, binary.LittleEndian, uint32(len(header))); err != nil {
		t.Fatalf("writing header length: %v", err)
	}
	raw.WriteString(header)

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write(raw.Bytes()); err != nil {
		t.Fatalf("writing gzip stream: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	return gz.Bytes()
}

func TestGetReferenceID(t *testing.T) {
	const header = "" +
		"##contig=<ID=chr2,length=1,IDX=1>\n" +
		"##contig=<ID=chr1,length=1,IDX=0>\n" +
		"##contig=<ID=chr10,length=1,IDX=9>\n"

	testCases := []struct {
		name   string
		id     int
		errMsg string
	}{
		{"chr1", 0, ""},
		{"chr2", 1, ""},
		{"chr10", 9, ""},
		{"chrZ", 0, "reference name not found"},
	}

	data := buildBCF(t, header)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := GetReferenceID(bytes.NewReader(data), tc.name)
			if tc.errMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
					t.Fatalf("GetReferenceID() = (%d, %v), want error containing %q", id, err, tc.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetReferenceID() returned unexpected error: %v", err)
			}
			if id != tc.id {
				t.Fatalf("Wrong reference ID: got %d, want %d", id, tc.id)
			}
		})
	}
}

func TestHeaderLength(t *testing.T) {
	const header = "##contig=<ID=chr1,length=1,IDX=0>\n"
	data := buildBCF(t, header)

	got, err := HeaderLength(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HeaderLength() returned unexpected error: %v", err)
	}
	if want := uint32(len(header)); got != want {
		t.Fatalf("HeaderLength() = %d, want %d", got, want)
	}
}

func TestContigField(t *testing.T) {
	testCases := []struct {
		contig string
		field  string
		want   string
	}{
		{"##contig=<ID=chr1,length=248956422,IDX=0>", "ID", "chr1"},
		{"##contig=<ID=chr10,length=248956422,IDX=0>", "length", "248956422"},
		{"##contig=<ID=Y,length=248956422,IDX=0>", "IDX", "0"},
		{"##contig=<length=248956422,IDX=0>", "OTHER", ""},
		{"##contig=<ID=IDX,length=248956422,IDX=7>", "IDX", "7"},
		{"##contig=<BADIDX=NO,length=248956422,IDX=7>", "IDX", "7"},
	}

	for i, tc := range testCases {
		t.Run(string(rune('a'+i)), func(t *testing.T) {
			if got := contigField(tc.contig, tc.field); got != tc.want {
				t.Fatalf("Wrong contigField response, want %v, got %v ", tc.want, got)
			}
		})
	}
}

func TestGetIDX(t *testing.T) {
	testCases := []struct {
		line string
		want int
	}{
		{"##contig=<ID=chr1,length=248956422>", -1},
		{"##contig=<ID=chr1,length=248956422,IDX=0>", 0},
		{"##contig=<ID=chr1,length=248956422,IDX=7>", 7},
		{"##contig=<ID=chr1,length=248956422,IDX=125>", 125},
		{"##contig=<ID=chr1,IDX=125,length=248956422>", 125},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			if got, _ := getIdx(tc.line); got != tc.want {
				t.Fatalf("Wrong getIdx response, want %d, got %d ", tc.want, got)
			}
		})
	}
}
