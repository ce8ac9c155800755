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

//go:build cgo

// Package ffi hands query results to foreign consumers through the
// Arrow C Data Interface. Exported structures carry a release
// callback; ownership of the underlying buffers transfers to the
// consumer, which must invoke release exactly once. Nothing is
// copied: the consumer reads the same buffers the encode stage built.
package ffi

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/cdata"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ibarrow/ibarrow-go"
)

// ExportSchema exports a schema into the caller-allocated C struct.
func ExportSchema(schema *arrow.Schema, out *cdata.CArrowSchema) {
	cdata.ExportArrowSchema(schema, out)
}

// ExportRecord exports one record batch. outSchema may be nil when the
// consumer already holds the schema.
func ExportRecord(rec arrow.Record, outArr *cdata.CArrowArray, outSchema *cdata.CArrowSchema) {
	cdata.ExportArrowRecordBatch(rec, outArr, outSchema)
}

// ExportTable exports a table as an array stream, one batch per chunk.
// The stream holds its own reference to the table until the consumer
// releases it; the caller's reference stays valid.
func ExportTable(tbl arrow.Table, out *cdata.CArrowArrayStream) {
	// ownership of the reader transfers to the stream's release callback
	cdata.ExportRecordReader(array.NewTableReader(tbl, -1), out)
}

// ExportQueryStream executes the query and exports its batches as an
// array stream. Batches are pulled from the source lazily as the
// consumer advances the stream, so the bounded-memory property of the
// pipeline carries across the boundary. Releasing the stream cancels
// any batches still in flight.
func ExportQueryStream(ctx context.Context, conn *ibarrow.Connection, query string, out *cdata.CArrowArrayStream) error {
	rdr, err := conn.QueryRecords(ctx, query)
	if err != nil {
		return err
	}
	// Ownership of the reader transfers to the stream: the consumer's
	// release call cancels the pipeline and returns the connection to
	// its idle state.
	cdata.ExportRecordReader(rdr, out)
	return nil
}

// ExportQuery executes the query, concatenates every batch into a
// single record, and exports it. The whole result set is materialized;
// prefer ExportQueryStream for large results.
func ExportQuery(ctx context.Context, conn *ibarrow.Connection, query string, outArr *cdata.CArrowArray, outSchema *cdata.CArrowSchema) error {
	tbl, err := conn.QueryTable(ctx, query)
	if err != nil {
		return err
	}
	defer tbl.Release()

	rec, err := mergeTable(tbl)
	if err != nil {
		return ibarrow.Error{Msg: "ibarrow: merge result batches: " + err.Error(), Code: ibarrow.StatusDecode}
	}
	defer rec.Release()
	cdata.ExportArrowRecordBatch(rec, outArr, outSchema)
	return nil
}

// mergeTable flattens a chunked table into one contiguous record.
func mergeTable(tbl arrow.Table) (arrow.Record, error) {
	if tbl.NumRows() == 0 {
		bldr := array.NewRecordBuilder(memory.DefaultAllocator, tbl.Schema())
		defer bldr.Release()
		return bldr.NewRecord(), nil
	}

	cols := make([]arrow.Array, tbl.NumCols())
	defer func() {
		for _, col := range cols {
			if col != nil {
				col.Release()
			}
		}
	}()
	for i := range cols {
		chunks := tbl.Column(i).Data().Chunks()
		merged, err := array.Concatenate(chunks, memory.DefaultAllocator)
		if err != nil {
			return nil, err
		}
		cols[i] = merged
	}
	rec := array.NewRecord(tbl.Schema(), cols, tbl.NumRows())
	return rec, nil
}
