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
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/sirupsen/logrus"
	"lukechampine.com/uint128"

	pkgerrors "github.com/sjzar/ip2bin/pkg/errors"
)

// DefaultPoolSize is used by Open/OpenReader callers that don't have a more
// specific concurrency target in mind.
const DefaultPoolSize = 4

// chunkLen bounds a single ReadAt call while streaming the index blocks in,
// so Open never needs one giant allocation-backed read.
const chunkLen = 64 * 1024

// Result is one resolved lookup. Found is false, with no error, when ip
// falls inside a bucket that has no rows — a normal outcome, not a fault.
type Result struct {
	Found  bool
	IPFrom netip.Addr
	IPTo   netip.Addr
	Fields map[Field]Value
}

// DB is an opened database, ready to serve concurrent lookups through its
// internal stream pools.
type DB struct {
	header Header
	fields []fieldPosition

	v4Index *index
	v6Index *index
	v4Pool  *streamPool
	v6Pool  *streamPool

	closer io.Closer
	log    *logrus.Entry
}

// Open opens path and prepares it to serve up to poolSize concurrent
// lookups. poolSize <= 0 uses DefaultPoolSize.
func Open(path string, poolSize int) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("bin: open %s: %w", path, pkgerrors.ErrFileNotFound)
		}
		return nil, fmt.Errorf("bin: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("bin: stat %s: %w", path, err)
	}

	db, err := openWith(f, fi.Size(), poolSize)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	db.closer = f
	db.log = db.log.WithField("path", path)
	db.log.Debug("bin: database opened")
	return db, nil
}

// OpenReader opens a database backed by an arbitrary io.ReaderAt of the
// given size — the in-memory builder in internal/testdata uses this path,
// and so can any caller mapping a file in some other way than os.Open.
func OpenReader(r io.ReaderAt, size int64, poolSize int) (*DB, error) {
	return openWith(r, size, poolSize)
}

func openWith(r readerAt, size int64, poolSize int) (*DB, error) {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	hdrBuf := make([]byte, HeaderLen)
	if _, err := r.ReadAt(hdrBuf, 0); err != nil {
		return nil, fmt.Errorf("bin: read header: %w", err)
	}
	header, err := parseHeader(hdrBuf)
	if err != nil {
		return nil, err
	}
	if int64(header.TotalSize) > size {
		return nil, fmt.Errorf("bin: total_size %d exceeds file size %d: %w", header.TotalSize, size, pkgerrors.ErrTotalSizeTooSmall)
	}

	fields, ok := schemaFields(header.Family, header.Subtype)
	if !ok {
		// parseHeader already validated this; unreachable in practice.
		return nil, fmt.Errorf("bin: subtype %d for family %d: %w", header.Subtype, header.Family, pkgerrors.ErrInvalidSubtype)
	}

	v4Index, err := loadIndex(r, int64(header.V4IndexStart-1))
	if err != nil {
		return nil, fmt.Errorf("bin: load v4 index: %w", err)
	}
	v4Pool, err := newStreamPool(r, 4, uint64(header.V4Base-1), header.V4Count, header.FieldCount, fields, poolSize)
	if err != nil {
		return nil, fmt.Errorf("bin: build v4 pool: %w", err)
	}

	db := &DB{
		header:  header,
		fields:  fields,
		v4Index: v4Index,
		v4Pool:  v4Pool,
		log:     logrus.WithField("component", "bin"),
	}

	if header.HasV6() {
		v6Index, err := loadIndex(r, int64(header.V6IndexStart-1))
		if err != nil {
			return nil, fmt.Errorf("bin: load v6 index: %w", err)
		}
		v6Pool, err := newStreamPool(r, 16, uint64(header.V6Base-1), header.V6Count, header.FieldCount, fields, poolSize)
		if err != nil {
			return nil, fmt.Errorf("bin: build v6 pool: %w", err)
		}
		db.v6Index = v6Index
		db.v6Pool = v6Pool
	}

	return db, nil
}

// loadIndex streams one 512 KiB index block off r in chunkLen pieces into an
// indexBuilder, the same incremental-append shape as the resumable header
// parser uses for a header.
func loadIndex(r readerAt, off int64) (*index, error) {
	b := newIndexBuilder()
	chunk := make([]byte, chunkLen)
	for remaining := IndexLen; remaining > 0; {
		n := chunkLen
		if n > remaining {
			n = remaining
		}
		if _, err := r.ReadAt(chunk[:n], off); err != nil {
			return nil, err
		}
		b.append(chunk[:n])
		off += int64(n)
		remaining -= n
	}
	return b.finish()
}

// Header returns the database's decoded header.
func (db *DB) Header() Header {
	return db.header
}

// Close releases the underlying file, if Open (not OpenReader) was used.
func (db *DB) Close() error {
	db.v4Pool.close()
	if db.v6Pool != nil {
		db.v6Pool.close()
	}
	if db.closer != nil {
		return db.closer.Close()
	}
	return nil
}

// LookupString parses ip and calls Lookup.
func (db *DB) LookupString(ctx context.Context, ip string, selected ...Field) (Result, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Result{}, fmt.Errorf("bin: parse %q: %w", ip, pkgerrors.ErrInvalidIP)
	}
	return db.Lookup(ctx, addr, selected...)
}

// Lookup resolves ip against the database, returning only the fields named
// by selected (all schema fields if selected is empty).
// Field filtering happens before content resolution, so deselected string
// fields never reach the content resolver's caches or I/O.
func (db *DB) Lookup(ctx context.Context, ip netip.Addr, selected ...Field) (Result, error) {
	ip = unmapIP(ip)

	wanted, err := db.resolveSelection(selected)
	if err != nil {
		return Result{}, err
	}

	var idx *index
	var pool *streamPool
	var bucket int

	if ip.Is4() {
		idx, pool = db.v4Index, db.v4Pool
		bucket = bucketV4(binary4(ip))
	} else {
		if db.v6Pool == nil {
			db.log.WithField("ip", ip.String()).Trace("bin: database has no ipv6 table")
			return Result{Found: false}, nil
		}
		b := ip.As16()
		idx, pool = db.v6Index, db.v6Pool
		bucket = bucketV6(b[0], b[1])
	}

	pr := idx.lookup(bucket)
	if pr.high == 0 {
		db.log.WithField("ip", ip.String()).Trace("bin: empty index bucket")
		return Result{Found: false}, nil
	}

	s, err := pool.acquire(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("bin: acquire pool slot: %w", err)
	}
	defer pool.release(s)

	ipFrom, ipTo, slots, found, err := s.records.search(ip, pr)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Found: false}, nil
	}

	filtered := make([]slotValue, 0, len(wanted))
	for _, sv := range slots {
		if wanted[sv.field] {
			filtered = append(filtered, sv)
		}
	}

	resolved, err := s.content.fill(filtered)
	if err != nil {
		return Result{}, err
	}

	out := make(map[Field]Value, len(resolved))
	for _, r := range resolved {
		out[r.field] = r.value
	}

	db.log.WithFields(logrus.Fields{
		"ip":         ip.String(),
		"ip_numeric": addrToUint128(ip).String(),
		"fields":     len(out),
	}).Trace("bin: lookup resolved")

	return Result{Found: true, IPFrom: ipFrom, IPTo: ipTo, Fields: out}, nil
}

// resolveSelection validates selected against the schema and returns a
// membership set; an empty selected means "everything in the schema".
func (db *DB) resolveSelection(selected []Field) (map[Field]bool, error) {
	if len(selected) == 0 {
		all := make(map[Field]bool, len(db.fields))
		for _, fp := range db.fields {
			all[fp.field] = true
		}
		return all, nil
	}

	schema := make(map[Field]bool, len(db.fields))
	for _, fp := range db.fields {
		schema[fp.field] = true
	}

	out := make(map[Field]bool, len(selected))
	for _, f := range selected {
		if !schema[f] {
			return nil, fmt.Errorf("bin: field %s not in this schema: %w", f, pkgerrors.ErrFieldInvalid)
		}
		out[f] = true
	}
	return out, nil
}

// unmapIP collapses an IPv4-mapped IPv6 address (::ffff:a.b.c.d) down to its
// 4-byte form, so dual-stack callers get the same result querying either
// representation.
func unmapIP(a netip.Addr) netip.Addr {
	if a.Is4In6() {
		return a.Unmap()
	}
	return a
}

func binary4(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// addrToUint128 gives lookups a single sortable, loggable numeric identity
// regardless of family, without allocating a math/big.Int per call.
func addrToUint128(a netip.Addr) uint128.Uint128 {
	if a.Is4() {
		return uint128.From64(uint64(binary4(a)))
	}
	b := a.As16()
	return uint128.FromBytes(b[:])
}
