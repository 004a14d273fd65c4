/*
 * Copyright (c) 2024 shenjunzheng@gmail.com
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package testdata builds small, well-formed (and deliberately malformed)
// .BIN files in memory so pkg/bin's tests don't need a real, multi-megabyte
// IP2Location/IP2Proxy sample database on disk.
package testdata

import (
	"bytes"
	"encoding/binary"
	"math"
	"net/netip"
	"sort"
)

const (
	headerLen = 64
	indexLen  = 512 * 1024

	FamilyIP2Location uint8 = 1
	FamilyIP2Proxy    uint8 = 2
)

// FieldKind distinguishes a row value's wire representation.
type FieldKind uint8

const (
	KindString FieldKind = iota
	KindFloat32
)

// FieldSpec is one schema column: its 1-based position in the row and
// whether it decodes as a string-pool offset or a float32.
type FieldSpec struct {
	Position uint8
	Kind     FieldKind
}

// RowValue is one row's value for a FieldSpec's position. For a KindString
// field, set either Str (the builder interns it normally) or Offset+HasOffset
// (the caller already reserved an explicit pool offset, as SetCountry does).
// For a KindFloat32 field, set F32.
type RowValue struct {
	Str       string
	Offset    uint32
	HasOffset bool
	F32       float32
}

// Row is one record-table entry. Values is keyed by FieldSpec.Position.
type Row struct {
	IPFrom netip.Addr
	Values map[uint8]RowValue
}

// Builder assembles a complete binary database file from a schema and a set
// of rows, producing the header, both index blocks, both record tables, and
// a deduplicated string pool exactly as pkg/bin expects to read them back.
type Builder struct {
	Family  uint8
	Subtype uint8
	Year    uint8
	Month   uint8
	Day     uint8
	License uint8
	Fields  []FieldSpec // sorted by Position; Position 1 is always the IP

	v4Rows []Row
	v6Rows []Row

	pool    bytes.Buffer
	offsets map[string]uint32
}

// NewBuilder returns a Builder for the given family/subtype/date, with no
// rows yet.
func NewBuilder(family, subtype, year, month, day uint8, fields []FieldSpec) *Builder {
	sorted := append([]FieldSpec(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
	return &Builder{
		Family:  family,
		Subtype: subtype,
		Year:    year,
		Month:   month,
		Day:     day,
		Fields:  sorted,
		offsets: make(map[string]uint32),
	}
}

// AddV4Row appends a row to the IPv4 record table. Rows must be added in
// ascending ip_from order; Build does not sort them.
func (b *Builder) AddV4Row(ipFrom netip.Addr, values map[uint8]RowValue) {
	b.v4Rows = append(b.v4Rows, Row{IPFrom: ipFrom, Values: values})
}

// AddV6Row appends a row to the IPv6 record table.
func (b *Builder) AddV6Row(ipFrom netip.Addr, values map[uint8]RowValue) {
	b.v6Rows = append(b.v6Rows, Row{IPFrom: ipFrom, Values: values})
}

// intern returns s's offset in the string pool, writing a new
// length-prefixed entry only the first time s is seen.
func (b *Builder) intern(s string) uint32 {
	if off, ok := b.offsets[s]; ok {
		return off
	}
	off := uint32(b.pool.Len())
	b.pool.WriteByte(byte(len(s)))
	b.pool.WriteString(s)
	b.offsets[s] = off
	return off
}

// SetCountry interns code and name with the format's fixed +3 skip between
// a COUNTRY slot's offset and its name (not 1+len(code), a plain
// concatenation would land in the wrong place) and returns a RowValue
// carrying the resulting offset, ready to store under the schema's country
// position.
func (b *Builder) SetCountry(code, name string) RowValue {
	off := uint32(b.pool.Len())
	b.pool.WriteByte(byte(len(code)))
	b.pool.WriteString(code)
	for uint32(b.pool.Len()) < off+3 {
		b.pool.WriteByte(0)
	}
	b.pool.WriteByte(byte(len(name)))
	b.pool.WriteString(name)
	b.offsets[code] = off
	return RowValue{Str: code, Offset: off, HasOffset: true}
}

func (b *Builder) fieldCount() uint8 {
	var max uint8
	for _, f := range b.Fields {
		if f.Position > max {
			max = f.Position
		}
	}
	return max
}

func rowLen(ipLen int, fieldCount uint8) int {
	return ipLen + int(fieldCount-1)*4
}

func (b *Builder) encodeRows(ipLen int) []byte {
	rows := b.v4Rows
	if ipLen == 16 {
		rows = b.v6Rows
	}
	fieldCount := b.fieldCount()
	rl := rowLen(ipLen, fieldCount)
	out := make([]byte, 0, len(rows)*rl)
	slotBuf := make([]byte, 4)

	for _, row := range rows {
		var ipBytes []byte
		if ipLen == 4 {
			b4 := row.IPFrom.As4()
			ipBytes = b4[:]
		} else {
			b16 := row.IPFrom.As16()
			ipBytes = b16[:]
		}
		out = append(out, ipBytes...)

		for _, f := range b.Fields {
			if f.Position == 1 {
				continue // position 1 is the IP column itself, not a slot
			}
			v := row.Values[f.Position]
			switch f.Kind {
			case KindFloat32:
				binary.LittleEndian.PutUint32(slotBuf, math.Float32bits(v.F32))
			default:
				var off uint32
				if v.HasOffset {
					off = v.Offset
				} else {
					off = b.intern(v.Str)
				}
				binary.LittleEndian.PutUint32(slotBuf, off)
			}
			out = append(out, slotBuf...)
		}
	}
	return out
}

// buildIndex produces one 512 KiB index block for the given rows (already
// in ascending ip_from order), bucketed by the high 16 bits of each row's
// ip_from.
func buildIndex(rows []Row, ipLen int) []byte {
	buckets := make([][2]uint32, 65536)

	for i, row := range rows {
		pos := uint32(i + 1) // 1-based

		var bucket int
		if ipLen == 4 {
			b4 := row.IPFrom.As4()
			bucket = int(b4[0])<<8 | int(b4[1])
		} else {
			b16 := row.IPFrom.As16()
			bucket = int(b16[0])<<8 | int(b16[1])
		}

		if buckets[bucket][0] == 0 {
			buckets[bucket][0] = pos
		}
		buckets[bucket][1] = pos
	}

	out := make([]byte, indexLen)
	for i, pair := range buckets {
		off := i * 8
		binary.LittleEndian.PutUint32(out[off:off+4], pair[0])
		binary.LittleEndian.PutUint32(out[off+4:off+8], pair[1])
	}
	return out
}

// Build assembles the full file with a correctly computed total_size.
func (b *Builder) Build() []byte {
	return b.build(0)
}

// BuildWithTotalSize is Build but with total_size forced to an explicit
// (possibly wrong) value, for negative-path tests.
func (b *Builder) BuildWithTotalSize(totalSize uint32) []byte {
	return b.build(totalSize)
}

func (b *Builder) build(forceTotalSize uint32) []byte {
	fieldCount := b.fieldCount()
	v4Records := b.encodeRows(4)
	hasV6 := len(b.v6Rows) > 0
	var v6Records []byte
	if hasV6 {
		v6Records = b.encodeRows(16)
	}

	v4Index := buildIndex(b.v4Rows, 4)
	var v6Index []byte
	if hasV6 {
		v6Index = buildIndex(b.v6Rows, 16)
	}

	v4IndexStart := uint32(headerLen + 1)
	cur := v4IndexStart + indexLen

	v6IndexStart := uint32(1)
	if hasV6 {
		v6IndexStart = cur
		cur += indexLen
	}

	v4Base := cur
	cur += uint32(len(v4Records))

	v6Base := uint32(1)
	if hasV6 {
		v6Base = cur
		cur += uint32(len(v6Records))
	}

	poolStart := cur
	totalSize := poolStart + uint32(b.pool.Len())
	if forceTotalSize != 0 {
		totalSize = forceTotalSize
	}

	out := make([]byte, headerLen)
	out[0] = b.Subtype
	out[1] = fieldCount
	out[2] = b.Year
	out[3] = b.Month
	out[4] = b.Day
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(b.v4Rows)))
	binary.LittleEndian.PutUint32(out[9:13], v4Base)
	binary.LittleEndian.PutUint32(out[13:17], uint32(len(b.v6Rows)))
	binary.LittleEndian.PutUint32(out[17:21], v6Base)
	binary.LittleEndian.PutUint32(out[21:25], v4IndexStart)
	binary.LittleEndian.PutUint32(out[25:29], v6IndexStart)
	out[29] = b.Family
	out[30] = b.License
	binary.LittleEndian.PutUint32(out[31:35], totalSize)

	out = append(out, v4Index...)
	if hasV6 {
		out = append(out, v6Index...)
	}
	out = append(out, v4Records...)
	if hasV6 {
		out = append(out, v6Records...)
	}
	out = append(out, b.pool.Bytes()...)

	return out
}

// Offset looks up the string pool offset a prior intern/SetCountry call
// produced for s, for tests that need to assert on raw offsets.
func (b *Builder) Offset(s string) (uint32, bool) {
	off, ok := b.offsets[s]
	return off, ok
}
