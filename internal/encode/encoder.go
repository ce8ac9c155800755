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

// Package encode transforms groups of fetched rows into Arrow record
// batches. Encoding is pure and single-threaded per batch; one typed
// builder plus validity tracking per column, with each column's decode
// rule selected once from the schema.
package encode

import (
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/decimal256"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DecodeError reports a value the column's decode rule could not
// represent.
type DecodeError struct {
	Column string
	Value  any
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %T value for column %q", e.Value, e.Column)
}

// columnEncoder applies one column's decode rule. append reports false
// when the value cannot be represented.
type columnEncoder interface {
	append(value any) bool
	builder() array.Builder
}

// Encoder builds Arrow records from row groups, one batch per Encode
// call. It is not safe for concurrent Encode calls; Truncations may be
// read from another goroutine.
type Encoder struct {
	schema      *arrow.Schema
	cols        []columnEncoder
	truncations atomic.Int64
}

// NewEncoder selects a decode rule for every schema field. Text values
// longer than maxTextSize bytes and binary values longer than
// maxBinarySize bytes are truncated to the limit and counted; a value
// exactly at the limit passes untouched.
func NewEncoder(mem memory.Allocator, schema *arrow.Schema, maxTextSize, maxBinarySize int) (*Encoder, error) {
	enc := &Encoder{schema: schema}
	enc.cols = make([]columnEncoder, schema.NumFields())

	for i, field := range schema.Fields() {
		switch dt := field.Type.(type) {
		case *arrow.BooleanType:
			enc.cols[i] = &boolEncoder{bldr: array.NewBooleanBuilder(mem)}
		case *arrow.Int8Type:
			enc.cols[i] = &int8Encoder{bldr: array.NewInt8Builder(mem)}
		case *arrow.Int16Type:
			enc.cols[i] = &int16Encoder{bldr: array.NewInt16Builder(mem)}
		case *arrow.Int32Type:
			enc.cols[i] = &int32Encoder{bldr: array.NewInt32Builder(mem)}
		case *arrow.Int64Type:
			enc.cols[i] = &int64Encoder{bldr: array.NewInt64Builder(mem)}
		case *arrow.Float32Type:
			enc.cols[i] = &float32Encoder{bldr: array.NewFloat32Builder(mem)}
		case *arrow.Float64Type:
			enc.cols[i] = &float64Encoder{bldr: array.NewFloat64Builder(mem)}
		case *arrow.StringType:
			enc.cols[i] = &stringEncoder{bldr: array.NewStringBuilder(mem), limit: maxTextSize, truncations: &enc.truncations}
		case *arrow.BinaryType:
			enc.cols[i] = &binaryEncoder{bldr: array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary), limit: maxBinarySize, truncations: &enc.truncations}
		case *arrow.Date32Type:
			enc.cols[i] = &date32Encoder{bldr: array.NewDate32Builder(mem)}
		case *arrow.Time64Type:
			enc.cols[i] = &time64Encoder{bldr: array.NewTime64Builder(mem, dt), unit: dt.Unit}
		case *arrow.TimestampType:
			enc.cols[i] = &timestampEncoder{bldr: array.NewTimestampBuilder(mem, dt), unit: dt.Unit}
		case *arrow.Decimal128Type:
			enc.cols[i] = &decimal128Encoder{bldr: array.NewDecimal128Builder(mem, dt), prec: dt.Precision, scale: dt.Scale}
		case *arrow.Decimal256Type:
			enc.cols[i] = &decimal256Encoder{bldr: array.NewDecimal256Builder(mem, dt), prec: dt.Precision, scale: dt.Scale}
		default:
			enc.Release()
			return nil, fmt.Errorf("no decode rule for column %q type %s", field.Name, field.Type)
		}
	}
	return enc, nil
}

// Encode appends every row in order and returns the finished batch.
// All columns of the returned record share the row count len(rows);
// an empty group yields a zero-row record carrying only the schema.
func (e *Encoder) Encode(rows [][]any) (arrow.Record, error) {
	for _, row := range rows {
		for i, val := range row {
			if val == nil {
				e.cols[i].builder().AppendNull()
				continue
			}
			if !e.cols[i].append(val) {
				return nil, &DecodeError{Column: e.schema.Field(i).Name, Value: val}
			}
		}
	}

	arrs := make([]arrow.Array, len(e.cols))
	for i, col := range e.cols {
		arrs[i] = col.builder().NewArray()
	}
	rec := array.NewRecord(e.schema, arrs, int64(len(rows)))
	for _, arr := range arrs {
		arr.Release()
	}
	return rec, nil
}

// Truncations reports how many oversized text/binary values have been
// truncated so far.
func (e *Encoder) Truncations() int64 {
	return e.truncations.Load()
}

// Release frees the column builders.
func (e *Encoder) Release() {
	for _, col := range e.cols {
		if col != nil {
			col.builder().Release()
		}
	}
	e.cols = nil
}

type boolEncoder struct {
	bldr *array.BooleanBuilder
}

func (c *boolEncoder) append(value any) bool {
	switch v := value.(type) {
	case bool:
		c.bldr.Append(v)
	case int64:
		c.bldr.Append(v != 0)
	default:
		return false
	}
	return true
}

func (c *boolEncoder) builder() array.Builder { return c.bldr }

type int8Encoder struct {
	bldr *array.Int8Builder
}

func (c *int8Encoder) append(value any) bool {
	v, ok := asInt64(value)
	if !ok || v < math.MinInt8 || v > math.MaxInt8 {
		return false
	}
	c.bldr.Append(int8(v))
	return true
}

func (c *int8Encoder) builder() array.Builder { return c.bldr }

type int16Encoder struct {
	bldr *array.Int16Builder
}

func (c *int16Encoder) append(value any) bool {
	v, ok := asInt64(value)
	if !ok || v < math.MinInt16 || v > math.MaxInt16 {
		return false
	}
	c.bldr.Append(int16(v))
	return true
}

func (c *int16Encoder) builder() array.Builder { return c.bldr }

type int32Encoder struct {
	bldr *array.Int32Builder
}

func (c *int32Encoder) append(value any) bool {
	v, ok := asInt64(value)
	if !ok || v < math.MinInt32 || v > math.MaxInt32 {
		return false
	}
	c.bldr.Append(int32(v))
	return true
}

func (c *int32Encoder) builder() array.Builder { return c.bldr }

type int64Encoder struct {
	bldr *array.Int64Builder
}

func (c *int64Encoder) append(value any) bool {
	v, ok := asInt64(value)
	if !ok {
		return false
	}
	c.bldr.Append(v)
	return true
}

func (c *int64Encoder) builder() array.Builder { return c.bldr }

// asInt64 widens the integer shapes database/sql drivers hand back.
func asInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int8:
		return int64(v), true
	case uint8:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

type float32Encoder struct {
	bldr *array.Float32Builder
}

func (c *float32Encoder) append(value any) bool {
	switch v := value.(type) {
	case float32:
		c.bldr.Append(v)
	case float64:
		c.bldr.Append(float32(v))
	case int64:
		c.bldr.Append(float32(v))
	default:
		return false
	}
	return true
}

func (c *float32Encoder) builder() array.Builder { return c.bldr }

type float64Encoder struct {
	bldr *array.Float64Builder
}

func (c *float64Encoder) append(value any) bool {
	switch v := value.(type) {
	case float64:
		c.bldr.Append(v)
	case float32:
		c.bldr.Append(float64(v))
	case int64:
		c.bldr.Append(float64(v))
	default:
		return false
	}
	return true
}

func (c *float64Encoder) builder() array.Builder { return c.bldr }

type stringEncoder struct {
	bldr        *array.StringBuilder
	limit       int
	truncations *atomic.Int64
}

func (c *stringEncoder) append(value any) bool {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return false
	}
	if len(s) > c.limit {
		s = truncateUTF8(s, c.limit)
		c.truncations.Add(1)
	}
	c.bldr.Append(s)
	return true
}

func (c *stringEncoder) builder() array.Builder { return c.bldr }

// truncateUTF8 cuts s to at most limit bytes, then drops any trailing
// partial rune the cut left behind.
func truncateUTF8(s string, limit int) string {
	s = s[:limit]
	for i := 0; i < utf8.UTFMax-1 && len(s) > 0; i++ {
		r, size := utf8.DecodeLastRuneInString(s)
		if r == utf8.RuneError && size == 1 {
			s = s[:len(s)-1]
			continue
		}
		break
	}
	return s
}

type binaryEncoder struct {
	bldr        *array.BinaryBuilder
	limit       int
	truncations *atomic.Int64
}

func (c *binaryEncoder) append(value any) bool {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return false
	}
	if len(b) > c.limit {
		b = b[:c.limit]
		c.truncations.Add(1)
	}
	c.bldr.Append(b)
	return true
}

func (c *binaryEncoder) builder() array.Builder { return c.bldr }

type date32Encoder struct {
	bldr *array.Date32Builder
}

func (c *date32Encoder) append(value any) bool {
	switch v := value.(type) {
	case time.Time:
		c.bldr.Append(arrow.Date32FromTime(v))
	case string:
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return false
		}
		c.bldr.Append(arrow.Date32FromTime(t))
	default:
		return false
	}
	return true
}

func (c *date32Encoder) builder() array.Builder { return c.bldr }

type time64Encoder struct {
	bldr *array.Time64Builder
	unit arrow.TimeUnit
}

func (c *time64Encoder) append(value any) bool {
	switch v := value.(type) {
	case time.Time:
		c.bldr.Append(time64FromTime(v, c.unit))
	case string:
		t, err := arrow.Time64FromString(v, c.unit)
		if err != nil {
			return false
		}
		c.bldr.Append(t)
	default:
		return false
	}
	return true
}

func (c *time64Encoder) builder() array.Builder { return c.bldr }

func time64FromTime(t time.Time, unit arrow.TimeUnit) arrow.Time64 {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	elapsed := t.Sub(midnight)
	switch unit {
	case arrow.Nanosecond:
		return arrow.Time64(elapsed.Nanoseconds())
	default:
		return arrow.Time64(elapsed.Microseconds())
	}
}

type timestampEncoder struct {
	bldr *array.TimestampBuilder
	unit arrow.TimeUnit
}

// Drivers without a native timestamp representation return timestamps
// as RFC 3339 or "YYYY-MM-DD HH:MM:SS" text.
func (c *timestampEncoder) append(value any) bool {
	switch v := value.(type) {
	case time.Time:
		ts, err := arrow.TimestampFromTime(v, c.unit)
		if err != nil {
			return false
		}
		c.bldr.Append(ts)
	case string:
		t, err := parseTimestamp(v)
		if err != nil {
			return false
		}
		ts, err := arrow.TimestampFromTime(t, c.unit)
		if err != nil {
			return false
		}
		c.bldr.Append(ts)
	default:
		return false
	}
	return true
}

func (c *timestampEncoder) builder() array.Builder { return c.bldr }

func parseTimestamp(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.DateTime, "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

type decimal128Encoder struct {
	bldr        *array.Decimal128Builder
	prec, scale int32
}

func (c *decimal128Encoder) append(value any) bool {
	var (
		num decimal128.Num
		err error
	)
	switch v := value.(type) {
	case string:
		num, err = decimal128.FromString(v, c.prec, c.scale)
	case []byte:
		num, err = decimal128.FromString(string(v), c.prec, c.scale)
	case float64:
		num, err = decimal128.FromFloat64(v, c.prec, c.scale)
	case int64:
		num, err = decimal128.FromString(strconv.FormatInt(v, 10), c.prec, c.scale)
	default:
		return false
	}
	if err != nil {
		return false
	}
	c.bldr.Append(num)
	return true
}

func (c *decimal128Encoder) builder() array.Builder { return c.bldr }

type decimal256Encoder struct {
	bldr        *array.Decimal256Builder
	prec, scale int32
}

func (c *decimal256Encoder) append(value any) bool {
	var (
		num decimal256.Num
		err error
	)
	switch v := value.(type) {
	case string:
		num, err = decimal256.FromString(v, c.prec, c.scale)
	case []byte:
		num, err = decimal256.FromString(string(v), c.prec, c.scale)
	case float64:
		num, err = decimal256.FromFloat64(v, c.prec, c.scale)
	case int64:
		num, err = decimal256.FromString(strconv.FormatInt(v, 10), c.prec, c.scale)
	default:
		return false
	}
	if err != nil {
		return false
	}
	c.bldr.Append(num)
	return true
}

func (c *decimal256Encoder) builder() array.Builder { return c.bldr }
