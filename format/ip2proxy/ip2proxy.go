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

// Package ip2proxy adapts pkg/bin's generic field slots to the column names
// and conventions of the IP2Proxy PX1-PX11 schema family.
package ip2proxy

import (
	"context"
	"net/netip"

	"github.com/sjzar/ip2bin/pkg/bin"
)

// ProxyType enumerates the PX schema's proxy classification column.
type ProxyType string

const (
	ProxyTypeUnknown       ProxyType = "-"
	ProxyTypeVPN           ProxyType = "VPN"
	ProxyTypeTOR           ProxyType = "TOR"
	ProxyTypeDataCenter    ProxyType = "DCH"
	ProxyTypePublicProxy   ProxyType = "PUB"
	ProxyTypeWebProxy      ProxyType = "WEB"
	ProxyTypeSearchEngine  ProxyType = "SES"
	ProxyTypeResidential   ProxyType = "RES"
	ProxyTypeConsumerProxy ProxyType = "CPN"
)

// UsageType enumerates the PX schema's usage classification column.
type UsageType string

// Record is one resolved IP2Proxy lookup. A ProxyType of ProxyTypeUnknown
// collapses the result to Found=false: the original engine treats "not a
// known proxy" the same as "not a match". A country code of "-" collapses
// the result the same way.
type Record struct {
	Found bool

	IPFrom netip.Addr
	IPTo   netip.Addr

	CountryCode string
	CountryName string
	ProxyType   ProxyType
	Region      string
	City        string
	ISP         string
	Domain      string
	UsageType   UsageType
	ASN         string
	AS          string
	LastSeen    string
	Threat      string
	Provider    string
}

// Reader opens an IP2Proxy .BIN database and resolves lookups against it.
type Reader struct {
	db *bin.DB
}

// Open opens path as an IP2Proxy database.
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

// Lookup resolves ip to an IP2Proxy Record.
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
	if v, ok := res.Fields[bin.FieldProxyType]; ok {
		rec.ProxyType = ProxyType(v.Str)
	}
	if v, ok := res.Fields[bin.FieldRegion]; ok {
		rec.Region = v.Str
	}
	if v, ok := res.Fields[bin.FieldCity]; ok {
		rec.City = v.Str
	}
	if v, ok := res.Fields[bin.FieldISP]; ok {
		rec.ISP = v.Str
	}
	if v, ok := res.Fields[bin.FieldDomain]; ok {
		rec.Domain = v.Str
	}
	if v, ok := res.Fields[bin.FieldUsageType]; ok {
		rec.UsageType = UsageType(v.Str)
	}
	if v, ok := res.Fields[bin.FieldASN]; ok {
		rec.ASN = v.Str
	}
	if v, ok := res.Fields[bin.FieldAS]; ok {
		rec.AS = v.Str
	}
	if v, ok := res.Fields[bin.FieldLastSeen]; ok {
		rec.LastSeen = v.Str
	}
	if v, ok := res.Fields[bin.FieldThreat]; ok {
		rec.Threat = v.Str
	}
	if v, ok := res.Fields[bin.FieldProvider]; ok {
		rec.Provider = v.Str
	}

	if rec.CountryCode == "-" || rec.ProxyType == ProxyTypeUnknown || rec.ProxyType == "" {
		return Record{}
	}
	return rec
}
