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

package bin

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"

	pkgerrors "github.com/sjzar/ip2bin/pkg/errors"
)

// maxSearchDepth caps the binary search so a corrupt or adversarial file
// cannot spin forever; real tables never need more than ~22 iterations even
// at full IPv6 scale.
const maxSearchDepth = 32

// slotValue is one resolved field slot: either a content offset (to be
// dereferenced by the content resolver) or an already-decoded float.
type slotValue struct {
	field  Field
	offset uint32
	f32    float32
}

// recordSearcher binary-searches one family's record table. It owns its
// scratch row buffer and is held exclusively by whichever goroutine checked
// it out of its stream pool.
type recordSearcher struct {
	r      readerAt
	ipLen  int // 4 or 16
	base   uint64
	count  uint32
	rowLen uint32 // one row (ip_from + slots), NOT including the trailing ip
	fields []fieldPosition
	buf    []byte // rowLen + ipLen scratch, reused across calls
}

// readerAt is the minimal interface the searcher and resolver need; *os.File
// satisfies it, and it is what lets tests substitute an in-memory reader.
type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

func newRecordSearcher(r readerAt, ipLen int, base uint64, count uint32, fieldCount uint8, fields []fieldPosition) *recordSearcher {
	rowLen := rowSize(ipLen, fieldCount)
	return &recordSearcher{
		r:      r,
		ipLen:  ipLen,
		base:   base,
		count:  count,
		rowLen: rowLen,
		fields: fields,
		buf:    make([]byte, rowLen+uint32(ipLen)),
	}
}

// search performs the range-addressed binary search described in spec.md
// §4.3. It returns found=false (no error) when the range does not contain
// ip, and a typed error only for I/O failures, a family mismatch, or a
// corrupt file that would otherwise loop past maxSearchDepth.
func (s *recordSearcher) search(ip netip.Addr, pr positionRange) (ipFrom, ipTo netip.Addr, slots []slotValue, found bool, err error) {
	wantLen := 4
	if ip.Is6() {
		wantLen = 16
	}
	if wantLen != s.ipLen {
		return netip.Addr{}, netip.Addr{}, nil, false, fmt.Errorf("record: %d-byte searcher given %d-byte address: %w", s.ipLen, wantLen, pkgerrors.ErrUnsupportedFamily)
	}

	low, high := pr.low, pr.high
	if high > s.count {
		high = s.count
	}
	if low > high {
		low = high
	}

	for depth := 0; low <= high; depth++ {
		if depth >= maxSearchDepth {
			return netip.Addr{}, netip.Addr{}, nil, false, pkgerrors.ErrMaxDepthReached
		}

		mid := (low + high) >> 1
		// mid is a 1-based row position; the row's file offset is base plus
		// (mid-1) whole rows.
		off := int64(s.base) + int64(mid-1)*int64(s.rowLen)

		if _, err := s.r.ReadAt(s.buf, off); err != nil {
			return netip.Addr{}, netip.Addr{}, nil, false, fmt.Errorf("record: read row %d: %w", mid, err)
		}

		from := addrFromBytes(s.buf[:s.ipLen])
		var to netip.Addr
		if high < s.count {
			// s.buf also holds the next row's leading ip_from, read in the
			// same call. high, not mid, gates this: until the search
			// window's upper edge is proven below the table end, every row
			// visited while high==count borrows the synthetic bound below,
			// matching the reference querier exactly.
			to = addrFromBytes(s.buf[s.rowLen : s.rowLen+uint32(s.ipLen)])
		} else {
			to = addrAddOne(from)
		}

		switch {
		case ip.Less(from):
			if mid == 0 {
				high = 0
			} else {
				high = mid - 1
			}
		case !ip.Less(to):
			low = mid + 1
		default:
			return from, to, s.extractSlots(), true, nil
		}

		if high == 0 {
			return netip.Addr{}, netip.Addr{}, nil, false, nil
		}
		if s.count == math.MaxUint32 {
			if low == s.count {
				return netip.Addr{}, netip.Addr{}, nil, false, nil
			}
		} else if low > s.count {
			return netip.Addr{}, netip.Addr{}, nil, false, nil
		}
	}

	return netip.Addr{}, netip.Addr{}, nil, false, nil
}

// extractSlots decodes every schema field's 4-byte slot out of the row
// currently sitting in s.buf.
func (s *recordSearcher) extractSlots() []slotValue {
	slots := make([]slotValue, len(s.fields))
	for i, fp := range s.fields {
		start := s.ipLen + int(fp.position-2)*4
		raw := s.buf[start : start+4]
		sv := slotValue{field: fp.field}
		switch fp.field.kind() {
		case kindFloat32:
			sv.f32 = math.Float32frombits(binary.LittleEndian.Uint32(raw))
		default:
			sv.offset = binary.LittleEndian.Uint32(raw)
		}
		slots[i] = sv
	}
	return slots
}

func addrFromBytes(b []byte) netip.Addr {
	if len(b) == 4 {
		return netip.AddrFrom4([4]byte(b))
	}
	return netip.AddrFrom16([16]byte(b))
}

// addrAddOne computes ip_from+1 for the synthetic upper bound of the last
// row in a table, saturating rather than overflowing.
func addrAddOne(a netip.Addr) netip.Addr {
	b := a.AsSlice()
	for i := len(b) - 1; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			break
		}
		if i == 0 {
			// saturate at all-0xff
			for j := range b {
				b[j] = 0xff
			}
			break
		}
	}
	if len(b) == 4 {
		return netip.AddrFrom4([4]byte(b))
	}
	return netip.AddrFrom16([16]byte(b))
}
