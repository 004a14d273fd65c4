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

// Package bin implements the IP2Location / IP2Proxy binary database engine:
// header parsing, the two-level index, the variable-width record table, and
// the string-content resolver, coordinated behind a bounded stream pool so a
// single opened database can serve many concurrent lookups.
package bin

import (
	"encoding/binary"
	"fmt"
	"io"

	pkgerrors "github.com/sjzar/ip2bin/pkg/errors"
)

const (
	// HeaderLen is the size in bytes of the fixed header prefix.
	HeaderLen = 64

	// IndexLen is the size in bytes of one high-order-bit index block.
	IndexLen = 512 * 1024

	// indexElementLen is the size in bytes of one (low, high) index pair.
	indexElementLen = 8

	// FamilyIP2Location and FamilyIP2Proxy are the two known schema families.
	FamilyIP2Location uint8 = 1
	FamilyIP2Proxy    uint8 = 2
)

// Header is the decoded 64-byte file header.
type Header struct {
	Subtype      uint8
	FieldCount   uint8
	Year         uint8 // offset from 2000
	Month        uint8
	Day          uint8
	V4Count      uint32
	V4Base       uint32 // 1-based record-table start offset
	V6Count      uint32
	V6Base       uint32 // 1-based record-table start offset
	V4IndexStart uint32 // 1-based
	V6IndexStart uint32 // 1-based
	Family       uint8
	License      uint8
	TotalSize    uint32
}

// HasV6 reports whether the database carries an IPv6 record table.
func (h Header) HasV6() bool {
	return h.V6Count > 0
}

// parseHeader decodes and validates the 64-byte header in buf.
func parseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, fmt.Errorf("header: need %d bytes, got %d: %w", HeaderLen, len(buf), io.ErrUnexpectedEOF)
	}

	h := Header{
		Subtype:      buf[0],
		FieldCount:   buf[1],
		Year:         buf[2],
		Month:        buf[3],
		Day:          buf[4],
		V4Count:      binary.LittleEndian.Uint32(buf[5:9]),
		V4Base:       binary.LittleEndian.Uint32(buf[9:13]),
		V6Count:      binary.LittleEndian.Uint32(buf[13:17]),
		V6Base:       binary.LittleEndian.Uint32(buf[17:21]),
		V4IndexStart: binary.LittleEndian.Uint32(buf[21:25]),
		V6IndexStart: binary.LittleEndian.Uint32(buf[25:29]),
		Family:       buf[29],
		License:      buf[30],
		TotalSize:    binary.LittleEndian.Uint32(buf[31:35]),
	}

	if err := h.verify(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// verify checks the invariants from the format reference: family tag, date
// vs. license-byte legacy rule, subtype/field-count cross check, and the
// exact layout arithmetic for the index and record regions.
func (h Header) verify() error {
	if h.Family != FamilyIP2Location && h.Family != FamilyIP2Proxy {
		return fmt.Errorf("header: family tag %d: %w", h.Family, pkgerrors.ErrInvalidTypeTag)
	}

	if h.Month == 0 || h.Month > 12 || h.Day == 0 || h.Day > 31 {
		return fmt.Errorf("header: date %02d-%02d-%02d: %w", h.Year, h.Month, h.Day, pkgerrors.ErrInvalidDate)
	}

	// a build year after 2020 with a non-zero license byte is rejected as a
	// legacy format; older build years are not checked against the license.
	if int(h.Year) > 20 && h.License != 0 {
		return fmt.Errorf("header: build year 20%02d with license byte %d: %w", h.Year, h.License, pkgerrors.ErrLegacyFormat)
	}

	fields, ok := schemaFields(h.Family, h.Subtype)
	if !ok {
		return fmt.Errorf("header: subtype %d for family %d: %w", h.Subtype, h.Family, pkgerrors.ErrInvalidSubtype)
	}
	if wantFieldCount(fields) != h.FieldCount {
		return fmt.Errorf("header: field count %d, schema expects %d: %w", h.FieldCount, wantFieldCount(fields), pkgerrors.ErrFieldCountMismatch)
	}

	if !h.HasV6() {
		if h.V6IndexStart != 1 || h.V6Base != 1 {
			return fmt.Errorf("header: v6 offsets must be 1 when v6 count is 0: %w", pkgerrors.ErrLayoutMismatch)
		}
	}

	rowV4 := rowSize(4, h.FieldCount)
	rowV6 := rowSize(16, h.FieldCount)

	cur := uint32(HeaderLen) + 1
	if h.V4IndexStart != cur {
		return fmt.Errorf("header: v4_index_position_start mismatch, got %d want %d: %w", h.V4IndexStart, cur, pkgerrors.ErrLayoutMismatch)
	}
	cur += IndexLen

	if h.HasV6() {
		if h.V6IndexStart != cur {
			return fmt.Errorf("header: v6_index_position_start mismatch, got %d want %d: %w", h.V6IndexStart, cur, pkgerrors.ErrLayoutMismatch)
		}
		cur += IndexLen
	}

	if h.V4Base != cur {
		return fmt.Errorf("header: v4_records_position_start mismatch, got %d want %d: %w", h.V4Base, cur, pkgerrors.ErrLayoutMismatch)
	}
	cur += h.V4Count * rowV4

	if h.HasV6() {
		if h.V6Base != cur {
			return fmt.Errorf("header: v6_records_position_start mismatch, got %d want %d: %w", h.V6Base, cur, pkgerrors.ErrLayoutMismatch)
		}
		cur += h.V6Count * rowV6
	}

	if cur > h.TotalSize {
		return fmt.Errorf("header: total_size %d smaller than computed layout end %d: %w", h.TotalSize, cur, pkgerrors.ErrTotalSizeTooSmall)
	}

	return nil
}

// rowSize returns the byte length of one record-table row: ipLen bytes for
// ip_from plus 4 bytes per field slot excluding the leading IP field.
func rowSize(ipLen int, fieldCount uint8) uint32 {
	return uint32(ipLen) + uint32(fieldCount-1)*4
}

// headerState is the resumable parser's position in the 12-field sequence.
type headerState int

const (
	stateIdle headerState = iota
	stateSubType
	stateFieldCount
	stateDate
	stateV4Count
	stateV4Base
	stateV6Count
	stateV6Base
	stateV4Index
	stateV6Index
	stateFamily
	stateLicense
	stateTotalSize
	stateDone
)

// stateWidths is the number of bytes consumed to complete each state.
var stateWidths = [...]int{
	stateSubType:    1,
	stateFieldCount: 1,
	stateDate:       3,
	stateV4Count:    4,
	stateV4Base:     4,
	stateV6Count:    4,
	stateV6Base:     4,
	stateV4Index:    4,
	stateV6Index:    4,
	stateFamily:     1,
	stateLicense:    1,
	stateTotalSize:  4,
}

// HeaderParser decodes a Header from a stream that may only yield a few
// bytes at a time. Feed resumes from wherever the previous call left off;
// this mirrors the "need more, consumed N" resumable contract used when a
// database is opened from something other than a fully-buffered reader.
type HeaderParser struct {
	state  headerState
	filled int
	scratch [4]byte
	h      Header
}

// NewHeaderParser returns a parser positioned at the start of the header.
func NewHeaderParser() *HeaderParser {
	return &HeaderParser{state: stateIdle}
}

// Feed consumes as much of p as the parser can use right now. It returns the
// number of bytes consumed and, once the full header has been parsed and
// validated, the decoded Header and done=true. Feed may be called again with
// more bytes if done is false and err is nil.
func (p *HeaderParser) Feed(buf []byte) (consumed int, done bool, header Header, err error) {
	for p.state < stateTotalSize {
		width := stateWidths[p.state+1]
		need := width - p.filled
		if need > len(buf)-consumed {
			need = len(buf) - consumed
		}
		if need > 0 {
			copy(p.scratch[p.filled:], buf[consumed:consumed+need])
			p.filled += need
			consumed += need
		}
		if p.filled < width {
			return consumed, false, Header{}, nil
		}

		next := p.state + 1
		if err := p.apply(next, p.scratch[:width]); err != nil {
			return consumed, false, Header{}, err
		}
		p.state = next
		p.filled = 0
	}

	if err := p.h.verify(); err != nil {
		return consumed, false, Header{}, err
	}
	return consumed, true, p.h, nil
}

// apply decodes one field's worth of scratch bytes into p.h.
func (p *HeaderParser) apply(state headerState, b []byte) error {
	switch state {
	case stateSubType:
		p.h.Subtype = b[0]
	case stateFieldCount:
		p.h.FieldCount = b[0]
	case stateDate:
		p.h.Year, p.h.Month, p.h.Day = b[0], b[1], b[2]
	case stateV4Count:
		p.h.V4Count = binary.LittleEndian.Uint32(b)
	case stateV4Base:
		p.h.V4Base = binary.LittleEndian.Uint32(b)
	case stateV6Count:
		p.h.V6Count = binary.LittleEndian.Uint32(b)
	case stateV6Base:
		p.h.V6Base = binary.LittleEndian.Uint32(b)
	case stateV4Index:
		p.h.V4IndexStart = binary.LittleEndian.Uint32(b)
	case stateV6Index:
		p.h.V6IndexStart = binary.LittleEndian.Uint32(b)
	case stateFamily:
		p.h.Family = b[0]
	case stateLicense:
		p.h.License = b[0]
	case stateTotalSize:
		p.h.TotalSize = binary.LittleEndian.Uint32(b)
	}
	return nil
}
