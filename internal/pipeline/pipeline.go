// Copyright 2024 the ibarrow contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package pipeline overlaps the I/O-bound row fetch with the CPU-bound
// columnar encode. The two stages are connected by bounded channels,
// so peak memory is BatchSize * (QueueDepth + 1) rows regardless of
// total result size: the fetch stage blocks on a full queue and the
// consumer blocks on an empty one.
//
// The cursor is owned exclusively by the fetch stage; no other
// goroutine ever touches it.
package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"golang.org/x/sync/errgroup"
)

// Cursor is the row source driven by the fetch stage. *sql.Rows
// satisfies it.
type Cursor interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Encoder turns one group of rows into a record batch.
type Encoder interface {
	Encode(rows [][]any) (arrow.Record, error)
}

// Config controls one pipeline run.
type Config struct {
	// BatchSize rows are pulled per group; the last group of a result
	// set may be smaller.
	BatchSize int
	// QueueDepth bounds the in-flight groups and records between
	// stages.
	QueueDepth int
	// NumCols is the result column count, fixed by the schema.
	NumCols int
	// TranslateErr classifies stage failures before they surface
	// through Err. Required.
	TranslateErr func(error) error
	// OnDone runs exactly once, after both stages have terminated and
	// the error (if any) is recorded. Optional.
	OnDone func()
}

// Reader delivers encoded batches in strict fetch order. It implements
// array.RecordReader.
type Reader struct {
	refCount int64

	schema  *arrow.Schema
	records chan arrow.Record
	rec     arrow.Record
	err     error

	cancel context.CancelFunc
	done   chan struct{}
}

var _ array.RecordReader = (*Reader)(nil)

// Start launches the fetch and encode stages and returns immediately.
// The reader owns the cursor from here on: the fetch stage closes it
// when it terminates, and releasing the reader cancels both stages.
func Start(ctx context.Context, schema *arrow.Schema, cur Cursor, enc Encoder, cfg Config) *Reader {
	ctx, cancel := context.WithCancel(ctx)

	groups := make(chan [][]any, cfg.QueueDepth)
	records := make(chan arrow.Record, cfg.QueueDepth)

	rdr := &Reader{
		refCount: 1,
		schema:   schema,
		records:  records,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	g, gctx := errgroup.WithContext(ctx)

	// Fetch stage: drives the cursor, hands off full groups. Blocks on
	// a full queue for backpressure.
	g.Go(func() error {
		defer close(groups)
		defer func() { _ = cur.Close() }()

		group := make([][]any, 0, cfg.BatchSize)
		for cur.Next() {
			if err := gctx.Err(); err != nil {
				return err
			}

			vals := make([]any, cfg.NumCols)
			ptrs := make([]any, cfg.NumCols)
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := cur.Scan(ptrs...); err != nil {
				return err
			}

			group = append(group, vals)
			if len(group) == cfg.BatchSize {
				select {
				case groups <- group:
					group = make([][]any, 0, cfg.BatchSize)
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		if err := cur.Err(); err != nil {
			return err
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		if len(group) > 0 {
			select {
			case groups <- group:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// Encode stage: consumes groups, emits finished records. Blocks on
	// an empty queue.
	g.Go(func() error {
		for group := range groups {
			rec, err := enc.Encode(group)
			if err != nil {
				return err
			}
			select {
			case records <- rec:
			case <-gctx.Done():
				rec.Release()
				return gctx.Err()
			}
		}
		return nil
	})

	go func() {
		if err := g.Wait(); err != nil {
			rdr.err = cfg.TranslateErr(err)
		}
		// Do not close the record channel until err is recorded, so
		// Next can only report exhaustion after Err is meaningful.
		close(records)
		close(rdr.done)
		if cfg.OnDone != nil {
			cfg.OnDone()
		}
	}()

	return rdr
}

func (r *Reader) Schema() *arrow.Schema { return r.schema }

func (r *Reader) Record() arrow.Record { return r.rec }

// Err reports the classified failure that ended the stream, if any.
// Batches delivered before the failure remain valid.
func (r *Reader) Err() error { return r.err }

func (r *Reader) Next() bool {
	if r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}
	rec, ok := <-r.records
	if !ok {
		return false
	}
	r.rec = rec
	return true
}

func (r *Reader) Retain() {
	atomic.AddInt64(&r.refCount, 1)
}

// Release cancels both stages if they are still running, waits for
// them to terminate, and frees any undelivered batches.
func (r *Reader) Release() {
	if atomic.AddInt64(&r.refCount, -1) == 0 {
		if r.rec != nil {
			r.rec.Release()
			r.rec = nil
		}
		r.cancel()
		<-r.done
		for rec := range r.records {
			rec.Release()
		}
	}
}
