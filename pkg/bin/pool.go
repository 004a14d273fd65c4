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
)

// slot is one unit of exclusive per-goroutine state: a record searcher for
// one family plus the content resolver that dereferences the slots it
// extracts. Bundling them means a lookup only ever waits on one channel
// receive, not two.
type slot struct {
	records *recordSearcher
	content *contentResolver
}

// streamPool is a fixed-size, pre-built pool of slots handed out over a
// buffered channel. This is the Go equivalent of the deadpool::unmanaged
// pool the original engine uses around its async seek/read streams: instead
// of an async mutex per stream, checkout is a channel receive that honors
// ctx cancellation and checkin is a plain channel send.
type streamPool struct {
	ch chan *slot
}

// newStreamPool builds size independent slots up front, including their
// scratch buffers and per-slot caches. Every slot reads through the same
// readerAt; building a slot performs no I/O.
func newStreamPool(r readerAt, ipLen int, base uint64, count uint32, fieldCount uint8, fields []fieldPosition, size int) (*streamPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool: size must be positive, got %d", size)
	}

	p := &streamPool{ch: make(chan *slot, size)}
	for i := 0; i < size; i++ {
		p.ch <- &slot{
			records: newRecordSearcher(r, ipLen, base, count, fieldCount, fields),
			content: newContentResolver(r),
		}
	}
	return p, nil
}

// acquire blocks until a slot is available or ctx is done.
func (p *streamPool) acquire(ctx context.Context) (*slot, error) {
	select {
	case s := <-p.ch:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns s to the pool. It never blocks: the channel is sized to
// exactly the number of slots ever handed out.
func (p *streamPool) release(s *slot) {
	p.ch <- s
}

// close closes the slot channel; there is nothing to release per-slot, but
// this keeps the channel from being used again after Close.
func (p *streamPool) close() {
	close(p.ch)
}
