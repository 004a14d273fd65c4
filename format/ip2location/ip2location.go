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

// Package ip2location adapts pkg/bin's generic field slots to the column
// names and conventions of the IP2Location DB1-DB11 schema family.
package ip2location

import (
	"context"
	"net/netip"

	"github.com/sjzar/ip2bin/pkg/bin"
)

// unknownCountry is the sentinel IP2Location stores in place of a country
// code when a block hasn't been classified; callers shouldn't surface a
// found record with this code as if it were real data.
const unknownCountry = "-"

// Record is one resolved IP2Location lookup, with Go field names in place
// of pkg/bin's generic Field keys.
type Record struct {
	Found bool

	IPFrom netip.Addr
	IPTo   netip.Addr

	CountryCode string
	CountryName string
	Region      string
	City        string
	Latitude    float32
	Longitude   float32
	ZipCode     string
	TimeZone    string
	ISP         string
	Domain      string
}

// Reader opens an IP2Location .BIN database and resolves lookups against it.
type Reader struct {
	db *bin.DB
}

// Open opens path as an IP2Location database.
func Open(path string, poolSize int) (*Reader, error) {
	db, err := bin.Open(path, poolSize)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

// Close releases the underlying database.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Header exposes the decoded file header, mainly for diagnostics.
func (r *Reader) Header() bin.Header {
	return r.db.Header()
}

// Lookup resolves ip to an IP2Location Record. A country code equal to "-"
// collapses the result to Found=false, matching the convention that an
// unclassified block carries no usable geolocation data at all.
func (r *Reader) Lookup(ctx context.Context, ip netip.Addr) (Record, error) {
	res, err := r.db.Lookup(ctx, ip)
	if err != nil {
		return Record{}, err
	}
	return toRecord(res), nil
}

// LookupString parses ip and calls Lookup.
func (r *Reader) LookupString(ctx context.Context, ip string) (Record, error) {
	res, err := r.db.LookupString(ctx, ip)
	if err != nil {
		return Record{}, err
	}
	return toRecord(res), nil
}

func toRecord(res bin.Result) Record {
	if !res.Found {
		return Record{}
	}

	rec := Record{
		Found:  true,
		IPFrom: res.IPFrom,
		IPTo:   res.IPTo,
	}

	if v, ok := res.Fields[bin.FieldCountry]; ok {
		rec.CountryCode = v.Str
	}
	if v, ok := res.Fields[bin.FieldCountryName]; ok {
		rec.CountryName = v.Str
	}
	if v, ok := res.Fields[bin.FieldRegion]; ok {
		rec.Region = v.Str
	}
	if v, ok := res.Fields[bin.FieldCity]; ok {
		rec.City = v.Str
	}
	if v, ok := res.Fields[bin.FieldLatitude]; ok {
		rec.Latitude = v.F32
	}
	if v, ok := res.Fields[bin.FieldLongitude]; ok {
		rec.Longitude = v.F32
	}
	if v, ok := res.Fields[bin.FieldZipCode]; ok {
		rec.ZipCode = v.Str
	}
	if v, ok := res.Fields[bin.FieldTimeZone]; ok {
		rec.TimeZone = v.Str
	}
	if v, ok := res.Fields[bin.FieldISP]; ok {
		rec.ISP = v.Str
	}
	if v, ok := res.Fields[bin.FieldDomain]; ok {
		rec.Domain = v.Str
	}

	if rec.CountryCode == unknownCountry {
		return Record{}
	}
	return rec
}
