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

// Field identifies a database column. The engine never dispatches on a
// field's name; Field is a tagged discriminator used to look up position
// and kind in the schema tables below.
type Field uint8

const (
	FieldCountry Field = iota + 1
	FieldRegion
	FieldCity
	FieldLatitude
	FieldLongitude
	FieldZipCode
	FieldTimeZone
	FieldISP
	FieldDomain
	FieldNetSpeed
	FieldProxyType
	FieldUsageType
	FieldASN
	FieldAS
	FieldLastSeen
	FieldThreat
	FieldResidential
	FieldProvider

	// FieldCountryName never appears in a position table: it is synthesized
	// by the content resolver alongside FieldCountry, from the fixed offset
	// the format stores the full country name at relative to the code.
	FieldCountryName

	fieldUpper
)

// String returns the canonical lowercase column name.
func (f Field) String() string {
	if int(f) < len(fieldNames) {
		if s := fieldNames[f]; s != "" {
			return s
		}
	}
	return "unknown"
}

var fieldNames = [...]string{
	FieldCountry:     "country",
	FieldRegion:      "region",
	FieldCity:        "city",
	FieldLatitude:    "latitude",
	FieldLongitude:   "longitude",
	FieldZipCode:     "zip_code",
	FieldTimeZone:    "time_zone",
	FieldISP:         "isp",
	FieldDomain:      "domain",
	FieldNetSpeed:    "net_speed",
	FieldProxyType:   "proxy_type",
	FieldUsageType:   "usage_type",
	FieldASN:         "asn",
	FieldAS:          "as",
	FieldLastSeen:    "last_seen",
	FieldThreat:      "threat",
	FieldResidential: "residential",
	FieldProvider:    "provider",
	FieldCountryName: "country_name",
}

// kind classifies how a field's 4-byte slot is decoded.
type kind uint8

const (
	kindOffset kind = iota // little-endian u32 offset to a length-prefixed string
	kindFloat32
)

func (f Field) kind() kind {
	if f == FieldLatitude || f == FieldLongitude {
		return kindFloat32
	}
	return kindOffset
}

// maxSubtype is the highest documented subtype for either family (DB11 /
// PX11); non-goals exclude variants beyond those enumerated in spec.md §1.
const maxSubtype = 11

// position tables: index 0 is unused (no subtype 0), index N gives the
// 1-based column position of the field within DBN/PXN, or 0 if the field is
// absent from that variant. Grounded on the column tables reproduced in
// ip2location-ip2proxy-go's position arrays (countryPosition, regionPosition,
// ...) and cross-checked against the wider field table carried by
// pg9182/ip2x's generated schema (IP2Location/IP2Proxy codegen const blocks).
var ip2locationPosition = [fieldUpper][maxSubtype + 1]uint8{
	FieldCountry:   {0, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
	FieldRegion:    {0, 0, 0, 3, 3, 3, 3, 3, 3, 3, 3, 3},
	FieldCity:      {0, 0, 0, 4, 4, 4, 4, 4, 4, 4, 4, 4},
	FieldLatitude:  {0, 0, 0, 0, 0, 5, 5, 0, 5, 5, 5, 5},
	FieldLongitude: {0, 0, 0, 0, 0, 6, 6, 0, 6, 6, 6, 6},
	FieldISP:       {0, 0, 3, 0, 5, 0, 7, 5, 7, 0, 8, 0},
	FieldDomain:    {0, 0, 0, 0, 0, 0, 0, 6, 8, 0, 9, 0},
	FieldZipCode:   {0, 0, 0, 0, 0, 0, 0, 0, 0, 7, 7, 7},
	FieldTimeZone:  {0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 8},
}

var ip2proxyPosition = [fieldUpper][maxSubtype + 1]uint8{
	FieldCountry:   {0, 2, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3},
	FieldProxyType: {0, 0, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
	FieldRegion:    {0, 0, 0, 4, 4, 4, 4, 4, 4, 4, 4, 4},
	FieldCity:      {0, 0, 0, 0, 5, 5, 5, 5, 5, 5, 5, 5},
	FieldISP:       {0, 0, 0, 0, 0, 6, 6, 6, 6, 6, 6, 6},
	FieldDomain:    {0, 0, 0, 0, 0, 0, 7, 7, 7, 7, 7, 7},
	FieldUsageType: {0, 0, 0, 0, 0, 0, 0, 8, 8, 8, 8, 8},
	FieldASN:       {0, 0, 0, 0, 0, 0, 0, 0, 9, 9, 9, 9},
	FieldAS:        {0, 0, 0, 0, 0, 0, 0, 0, 0, 10, 10, 10},
	FieldLastSeen:  {0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 11, 11},
	FieldThreat:    {0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 12},
	FieldProvider:  {0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 13},
}

// fieldPosition holds (field, 1-based column position) pairs for a schema,
// sorted ascending by position.
type fieldPosition struct {
	field    Field
	position uint8
}

// schemaFields returns the ordered (non-IP) fields for (family, subtype), or
// ok=false if the pair is not a documented variant.
func schemaFields(family uint8, subtype uint8) (fields []fieldPosition, ok bool) {
	if subtype == 0 || subtype > maxSubtype {
		return nil, false
	}

	var table *[fieldUpper][maxSubtype + 1]uint8
	switch family {
	case FamilyIP2Location:
		table = &ip2locationPosition
	case FamilyIP2Proxy:
		table = &ip2proxyPosition
	default:
		return nil, false
	}

	for f := Field(1); f < fieldUpper; f++ {
		if pos := table[f][subtype]; pos != 0 {
			fields = append(fields, fieldPosition{field: f, position: pos})
		}
	}
	if len(fields) == 0 {
		return nil, false
	}

	// insertion sort by position; len(fields) is at most ~13, a sort.Slice
	// import is not worth it here.
	for i := 1; i < len(fields); i++ {
		for j := i; j > 0 && fields[j].position < fields[j-1].position; j-- {
			fields[j], fields[j-1] = fields[j-1], fields[j]
		}
	}
	return fields, true
}

// wantFieldCount returns the header's expected field-count byte: the
// highest column position used by the schema, which already accounts for
// the leading IP column occupying position 1.
func wantFieldCount(fields []fieldPosition) uint8 {
	var max uint8
	for _, fp := range fields {
		if fp.position > max {
			max = fp.position
		}
	}
	return max
}
