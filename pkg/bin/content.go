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
	"fmt"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	pkgerrors "github.com/sjzar/ip2bin/pkg/errors"
)

// countryNameOffset is the empirically-determined distance (NOT 1+len(code))
// from a COUNTRY slot's offset to where the country's full name starts. It
// is not documented anywhere in the public format reference.
const countryNameOffset = 3

// lruCapacity bounds the high-cardinality string cache per pool slot.
const lruCapacity = 10000

// Value is a resolved field's content: exactly one of Str or F32 is
// meaningful, selected by IsFloat.
type Value struct {
	Str     string
	F32     float32
	IsFloat bool
}

func (v Value) String() string {
	if v.IsFloat {
		return fmt.Sprintf("%v", v.F32)
	}
	return v.Str
}

// contentResolver dereferences field slots by file offset into decoded
// UTF-8 strings, with a two-tier cache: an unbounded map for low-cardinality
// fields (country, proxy type, usage type, net speed) and a bounded LRU for
// high-cardinality ones (region, city, zip code, timezone). Caches live on
// the resolver itself and are not shared across pool slots.
type contentResolver struct {
	r      readerAt
	buf    []byte
	static map[uint32]string
	lru    *lru.Cache[uint32, string]
}

func newContentResolver(r readerAt) *contentResolver {
	c, _ := lru.New[uint32, string](lruCapacity) // only errors on capacity<=0
	return &contentResolver{
		r:      r,
		buf:    make([]byte, 1+255),
		static: make(map[uint32]string),
		lru:    c,
	}
}

// cachePolicy says which cache (if any) backs a field, and the heuristic
// initial read size used before the resolver inspects the real length byte.
type cachePolicy uint8

const (
	cacheNone cachePolicy = iota
	cacheStatic
	cacheLRU
)

func (f Field) cachePolicy() (cachePolicy, int) {
	switch f {
	case FieldCountry:
		return cacheStatic, 28
	case FieldProxyType:
		return cacheStatic, 3
	case FieldUsageType:
		return cacheStatic, 3
	case FieldNetSpeed:
		return cacheStatic, 10
	case FieldRegion:
		return cacheLRU, 20
	case FieldCity:
		return cacheLRU, 20
	case FieldZipCode:
		return cacheLRU, 8
	case FieldTimeZone:
		return cacheLRU, 8
	case FieldISP:
		return cacheNone, 10
	case FieldDomain:
		return cacheNone, 30
	case FieldASN:
		return cacheNone, 10
	case FieldAS:
		return cacheNone, 30
	case FieldLastSeen:
		return cacheNone, 6
	case FieldThreat:
		return cacheNone, 30
	case FieldResidential:
		return cacheNone, 30
	case FieldProvider:
		return cacheNone, 30
	default:
		return cacheNone, 30
	}
}

// fieldResult is one fully-resolved output field.
type fieldResult struct {
	field Field
	value Value
}

// fill dereferences every slot in slots, consulting and populating caches
// as appropriate, and returns the resolved values in the same order. A
// resolved string equal to "-" is returned as-is; callers (the coordinator
// or an adapter) decide what the sentinel means for a given field.
func (c *contentResolver) fill(slots []slotValue) ([]fieldResult, error) {
	out := make([]fieldResult, 0, len(slots))
	for _, sv := range slots {
		if sv.field.kind() == kindFloat32 {
			out = append(out, fieldResult{field: sv.field, value: Value{F32: sv.f32, IsFloat: true}})
			continue
		}

		policy, hint := sv.field.cachePolicy()

		if policy == cacheStatic && sv.field != FieldCountry {
			if s, ok := c.static[sv.offset]; ok {
				out = append(out, fieldResult{field: sv.field, value: Value{Str: s}})
				continue
			}
		} else if policy == cacheLRU {
			if s, ok := c.lru.Get(sv.offset); ok {
				out = append(out, fieldResult{field: sv.field, value: Value{Str: s}})
				continue
			}
		}

		if sv.field == FieldCountry {
			code, name, err := c.fillCountry(sv.offset)
			if err != nil {
				return nil, err
			}
			out = append(out, fieldResult{field: FieldCountry, value: Value{Str: code}})
			out = append(out, fieldResult{field: FieldCountryName, value: Value{Str: name}})
			continue
		}

		s, err := c.readString(sv.offset, hint)
		if err != nil {
			return nil, err
		}

		switch policy {
		case cacheStatic:
			c.static[sv.offset] = s
		case cacheLRU:
			c.lru.Add(sv.offset, s)
		}

		out = append(out, fieldResult{field: sv.field, value: Value{Str: s}})
	}
	return out, nil
}

// fillCountry resolves both halves of a COUNTRY slot: the ISO code at
// offset, then the full name at offset+3 (not offset+1+len(code) — the
// format encodes a fixed skip here, not the natural next-string position).
// Both strings are cached under their own keys (i and i+countryNameOffset)
// in the static map.
func (c *contentResolver) fillCountry(offset uint32) (code, name string, err error) {
	if s, ok := c.static[offset]; ok {
		code = s
	} else {
		code, err = c.readString(offset, 28)
		if err != nil {
			return "", "", err
		}
		c.static[offset] = code
	}

	nameOffset := offset + countryNameOffset
	if s, ok := c.static[nameOffset]; ok {
		return code, s, nil
	}
	name, err = c.readString(nameOffset, 25)
	if err != nil {
		return "", "", err
	}
	c.static[nameOffset] = name
	return code, name, nil
}

// readString grows its read until the length-prefixed payload at offset is
// fully buffered, then decodes it. hint is only a starting guess; it is
// never trusted past the length byte actually stored in the file.
func (c *contentResolver) readString(offset uint32, hint int) (string, error) {
	want := hint + 1
	if want > len(c.buf) {
		want = len(c.buf)
	}

	n, err := c.r.ReadAt(c.buf[:want], int64(offset))
	if err != nil && n == 0 {
		return "", fmt.Errorf("content: read at %d: %w", offset, err)
	}
	if n == 0 {
		return "", fmt.Errorf("content: zero-length read at %d: %w", offset, pkgerrors.ErrShortRead)
	}

	for {
		need := 1 + int(c.buf[0])
		if n >= need {
			break
		}
		more, err := c.r.ReadAt(c.buf[n:need], int64(offset)+int64(n))
		if err != nil && more == 0 {
			return "", fmt.Errorf("content: read tail at %d: %w", offset, err)
		}
		if more == 0 {
			return "", fmt.Errorf("content: short read at %d: %w", offset, pkgerrors.ErrShortRead)
		}
		n += more
	}

	length := int(c.buf[0])
	if !utf8.Valid(c.buf[1 : 1+length]) {
		return "", fmt.Errorf("content: offset %d: %w", offset, pkgerrors.ErrInvalidUTF8)
	}
	return string(c.buf[1 : 1+length]), nil
}
