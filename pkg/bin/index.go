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
)

// positionRange is a 1-based, inclusive row range in a record table. high==0
// means the bucket has no rows.
type positionRange struct {
	low  uint32
	high uint32
}

// index is the fully-loaded 512 KiB high-order-bit lookup block for one IP
// family. It is immutable once built and shared by pointer across lookups.
type index struct {
	bytes []byte
}

// indexBuilder accumulates appended chunks and validates the total length
// on Finish, mirroring the append-then-finalize construction used while
// streaming the index off disk during Open.
type indexBuilder struct {
	bytes []byte
}

func newIndexBuilder() *indexBuilder {
	return &indexBuilder{bytes: make([]byte, 0, IndexLen)}
}

func (b *indexBuilder) append(chunk []byte) {
	b.bytes = append(b.bytes, chunk...)
}

func (b *indexBuilder) finish() (*index, error) {
	if len(b.bytes) != IndexLen {
		return nil, fmt.Errorf("index: built %d bytes, want %d", len(b.bytes), IndexLen)
	}
	return &index{bytes: b.bytes}, nil
}

// bucketV4 returns the index-block byte offset for the high 16 bits of an
// IPv4 address.
func bucketV4(ipv4 uint32) int {
	return int(ipv4>>16) << 3
}

// bucketV6 returns the index-block byte offset for the first two bytes of
// an IPv6 address.
func bucketV6(first, second byte) int {
	return (int(first)*256 + int(second)) << 3
}

// lookup reads the (low, high) pair at the given bucket offset.
func (x *index) lookup(bucket int) positionRange {
	low := binary.LittleEndian.Uint32(x.bytes[bucket : bucket+4])
	high := binary.LittleEndian.Uint32(x.bytes[bucket+4 : bucket+8])
	return positionRange{low: low, high: high}
}
