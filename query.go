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

package ibarrow

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ibarrow/ibarrow-go/internal/encode"
	"github.com/ibarrow/ibarrow-go/internal/pipeline"
	"github.com/ibarrow/ibarrow-go/internal/typemap"
)

// Records streams the result set of one query as Arrow record batches
// in fetch order. It implements array.RecordReader; callers must
// Release it when done, which cancels any still-running stages.
type Records struct {
	*pipeline.Reader
	enc *encode.Encoder
}

// Truncations reports how many text or binary values were cut down to
// the configured size limit so far. The count is stable once the
// stream is exhausted.
func (r *Records) Truncations() int64 {
	return r.enc.Truncations()
}

// QueryRecords executes the query and returns a reader over its
// batches. Row fetching and columnar encoding run concurrently behind
// the reader; at most QueueDepth+1 batches exist at any moment. The
// connection stays in the querying state until the reader terminates,
// by exhaustion, error, or Release.
func (c *Connection) QueryRecords(ctx context.Context, query string) (*Records, error) {
	qctx, cancel := context.WithCancel(ctx)
	conn, err := c.beginQuery(cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	timeoutCancel := context.CancelFunc(func() {})
	if c.cfg.QueryTimeout > 0 {
		qctx, timeoutCancel = context.WithTimeout(qctx, c.cfg.QueryTimeout)
	}

	qctx, span := c.tracer.Start(qctx, "ibarrow.Query",
		trace.WithAttributes(
			attribute.String("ibarrow.connection_id", c.id),
			attribute.Int("ibarrow.batch_size", c.cfg.BatchSize)))

	fail := func(err error) error {
		span.RecordError(err)
		span.End()
		timeoutCancel()
		cancel()
		c.endQuery()
		return err
	}

	rows, err := conn.QueryContext(qctx, query)
	if err != nil {
		return nil, fail(c.classifyQueryErr(err))
	}

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return nil, fail(translateQueryErr(c.eh, err))
	}
	schema, err := typemap.DeriveSchema(columnMeta(colTypes))
	if err != nil {
		_ = rows.Close()
		return nil, fail(c.classifyQueryErr(err))
	}

	enc, err := encode.NewEncoder(c.alloc, schema, c.cfg.MaxTextSize, c.cfg.MaxBinarySize)
	if err != nil {
		_ = rows.Close()
		return nil, fail(c.eh.wrap(StatusUnsupportedType, err))
	}

	c.logger.LogAttrs(qctx, slog.LevelDebug, "query started",
		slog.Int("columns", len(colTypes)),
		slog.Int("batch_size", c.cfg.BatchSize))

	rdr := pipeline.Start(qctx, schema, rows, enc, pipeline.Config{
		BatchSize:    c.cfg.BatchSize,
		QueueDepth:   c.cfg.QueueDepth,
		NumCols:      len(colTypes),
		TranslateErr: c.classifyQueryErr,
		OnDone: func() {
			span.End()
			timeoutCancel()
			enc.Release()
			c.endQuery()
		},
	})
	return &Records{Reader: rdr, enc: enc}, nil
}

// QueryStream executes the query and writes the result to w as an
// Arrow IPC stream: one schema message followed by a record-batch
// message per batch, incrementally, so the full result set is never
// resident.
func (c *Connection) QueryStream(ctx context.Context, w io.Writer, query string) error {
	rdr, err := c.QueryRecords(ctx, query)
	if err != nil {
		return err
	}
	defer rdr.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(rdr.Schema()), ipc.WithAllocator(c.alloc))
	for rdr.Next() {
		if err := wr.Write(rdr.Record()); err != nil {
			_ = wr.Close()
			return c.eh.wrap(StatusDecode, err)
		}
	}
	if err := rdr.Err(); err != nil {
		_ = wr.Close()
		return err
	}
	if err := wr.Close(); err != nil {
		return c.eh.wrap(StatusDecode, err)
	}
	return nil
}

// QueryIPC executes the query and returns the complete Arrow IPC
// stream as one byte slice. Unlike QueryStream it buffers the whole
// result; prefer QueryStream for large result sets.
func (c *Connection) QueryIPC(ctx context.Context, query string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.QueryStream(ctx, &buf, query); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// QueryTable executes the query and assembles all batches into one
// table. The batches are refcounted into the table's chunked columns,
// not copied. Releasing the table releases every batch.
func (c *Connection) QueryTable(ctx context.Context, query string) (arrow.Table, error) {
	rdr, err := c.QueryRecords(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rdr.Release()

	var recs []arrow.Record
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil {
		return nil, err
	}
	return array.NewTableFromRecords(rdr.Schema(), recs), nil
}

// classifyQueryErr maps a pipeline or driver failure onto the error
// taxonomy. Cancellation counts as a cursor failure: the result set
// was abandoned mid-stream.
func (c *Connection) classifyQueryErr(err error) error {
	var unsupported *typemap.UnsupportedTypeError
	if errors.As(err, &unsupported) {
		return c.eh.wrap(StatusUnsupportedType, err)
	}
	var decode *encode.DecodeError
	if errors.As(err, &decode) {
		return c.eh.wrap(StatusDecode, err)
	}
	if errors.Is(err, context.Canceled) {
		return c.eh.errorf(StatusCursor, "query canceled")
	}
	return translateQueryErr(c.eh, err)
}

func columnMeta(cols []*sql.ColumnType) []typemap.ColumnMeta {
	metas := make([]typemap.ColumnMeta, len(cols))
	for i, col := range cols {
		metas[i] = col
	}
	return metas
}
