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

package encode

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncoder(t *testing.T, mem memory.Allocator, fields []arrow.Field, maxText, maxBinary int) (*Encoder, *arrow.Schema) {
	t.Helper()
	schema := arrow.NewSchema(fields, nil)
	enc, err := NewEncoder(mem, schema, maxText, maxBinary)
	require.NoError(t, err)
	return enc, schema
}

func TestEncodePrimitives(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	enc, _ := newTestEncoder(t, mem, []arrow.Field{
		{Name: "b", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "i", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "f", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "s", Type: arrow.BinaryTypes.String, Nullable: true},
	}, 64, 64)
	defer enc.Release()

	rec, err := enc.Encode([][]any{
		{true, int64(1), 1.5, "one"},
		{false, int64(2), -2.25, "two"},
		{nil, nil, nil, nil},
	})
	require.NoError(t, err)
	defer rec.Release()

	require.EqualValues(t, 3, rec.NumRows())
	require.EqualValues(t, 4, rec.NumCols())

	b := rec.Column(0).(*array.Boolean)
	assert.True(t, b.Value(0))
	assert.False(t, b.Value(1))
	assert.True(t, b.IsNull(2))

	i := rec.Column(1).(*array.Int64)
	assert.EqualValues(t, 1, i.Value(0))
	assert.EqualValues(t, 2, i.Value(1))
	assert.True(t, i.IsNull(2))

	f := rec.Column(2).(*array.Float64)
	assert.Equal(t, 1.5, f.Value(0))
	assert.Equal(t, -2.25, f.Value(1))

	s := rec.Column(3).(*array.String)
	assert.Equal(t, "one", s.Value(0))
	assert.True(t, s.IsNull(2))
}

func TestEncodeIntegerWidening(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	enc, _ := newTestEncoder(t, mem, []arrow.Field{
		{Name: "i8", Type: arrow.PrimitiveTypes.Int8},
		{Name: "i16", Type: arrow.PrimitiveTypes.Int16},
		{Name: "i32", Type: arrow.PrimitiveTypes.Int32},
	}, 64, 64)
	defer enc.Release()

	// database/sql hands integers back as int64 regardless of the
	// declared width
	rec, err := enc.Encode([][]any{{int64(-7), int64(300), int64(70000)}})
	require.NoError(t, err)
	defer rec.Release()

	assert.EqualValues(t, -7, rec.Column(0).(*array.Int8).Value(0))
	assert.EqualValues(t, 300, rec.Column(1).(*array.Int16).Value(0))
	assert.EqualValues(t, 70000, rec.Column(2).(*array.Int32).Value(0))
}

func TestEncodeIntegerOutOfRange(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	tests := []struct {
		name  string
		dtype arrow.DataType
		value int64
	}{
		{"int8 high", arrow.PrimitiveTypes.Int8, 128},
		{"int8 low", arrow.PrimitiveTypes.Int8, -129},
		{"int16 high", arrow.PrimitiveTypes.Int16, 1 << 15},
		{"int16 low", arrow.PrimitiveTypes.Int16, -(1 << 15) - 1},
		{"int32 high", arrow.PrimitiveTypes.Int32, 1 << 31},
		{"int32 low", arrow.PrimitiveTypes.Int32, -(1 << 31) - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, _ := newTestEncoder(t, mem, []arrow.Field{
				{Name: "n", Type: tt.dtype},
			}, 64, 64)
			defer enc.Release()

			// a value the declared width cannot hold must fail the
			// decode, never wrap silently
			_, err := enc.Encode([][]any{{tt.value}})
			require.Error(t, err)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, "n", decodeErr.Column)
		})
	}
}

func TestEncodeTemporal(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	ts := &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	enc, _ := newTestEncoder(t, mem, []arrow.Field{
		{Name: "d", Type: arrow.FixedWidthTypes.Date32},
		{Name: "t", Type: arrow.FixedWidthTypes.Time64us},
		{Name: "ts", Type: ts},
	}, 64, 64)
	defer enc.Release()

	when := time.Date(2024, 5, 17, 13, 45, 30, 0, time.UTC)
	rec, err := enc.Encode([][]any{
		{when, when, when},
		{"2024-05-17", "13:45:30", "2024-05-17 13:45:30"},
	})
	require.NoError(t, err)
	defer rec.Release()

	d := rec.Column(0).(*array.Date32)
	assert.Equal(t, d.Value(0), d.Value(1))

	tt := rec.Column(1).(*array.Time64)
	assert.Equal(t, tt.Value(0), tt.Value(1))

	stamps := rec.Column(2).(*array.Timestamp)
	assert.Equal(t, stamps.Value(0), stamps.Value(1))
}

func TestEncodeDecimal(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	enc, _ := newTestEncoder(t, mem, []arrow.Field{
		{Name: "d128", Type: &arrow.Decimal128Type{Precision: 18, Scale: 2}},
		{Name: "d256", Type: &arrow.Decimal256Type{Precision: 40, Scale: 2}},
	}, 64, 64)
	defer enc.Release()

	rec, err := enc.Encode([][]any{
		{"12345.67", "12345.67"},
		{int64(42), 3.5},
	})
	require.NoError(t, err)
	defer rec.Release()

	d128 := rec.Column(0).(*array.Decimal128)
	assert.Equal(t, "12345.67", d128.ValueStr(0))
	assert.Equal(t, "42.00", d128.ValueStr(1))

	d256 := rec.Column(1).(*array.Decimal256)
	assert.Equal(t, "12345.67", d256.ValueStr(0))
	assert.Equal(t, "3.50", d256.ValueStr(1))
}

func TestEncodeTruncation(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	enc, _ := newTestEncoder(t, mem, []arrow.Field{
		{Name: "s", Type: arrow.BinaryTypes.String},
		{Name: "b", Type: arrow.BinaryTypes.Binary},
	}, 8, 8)
	defer enc.Release()

	rec, err := enc.Encode([][]any{
		{"12345678", []byte("12345678")},   // exactly at the limit
		{"123456789", []byte("123456789")}, // one over
	})
	require.NoError(t, err)
	defer rec.Release()

	s := rec.Column(0).(*array.String)
	assert.Equal(t, "12345678", s.Value(0))
	assert.Equal(t, "12345678", s.Value(1))

	b := rec.Column(1).(*array.Binary)
	assert.Equal(t, []byte("12345678"), b.Value(0))
	assert.Equal(t, []byte("12345678"), b.Value(1))

	assert.EqualValues(t, 2, enc.Truncations())
}

func TestEncodeTruncationKeepsValidUTF8(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	enc, _ := newTestEncoder(t, mem, []arrow.Field{
		{Name: "s", Type: arrow.BinaryTypes.String},
	}, 4, 4)
	defer enc.Release()

	// 9 bytes of multibyte text; a 4-byte cut lands mid-rune and must
	// not leave a partial rune behind
	rec, err := enc.Encode([][]any{{"日本語"}})
	require.NoError(t, err)
	defer rec.Release()

	got := rec.Column(0).(*array.String).Value(0)
	assert.Equal(t, "日", got)
	assert.EqualValues(t, 1, enc.Truncations())
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abcd", truncateUTF8("abcdef", 4))
	assert.Equal(t, "日", truncateUTF8("日本語", 4))
	assert.Equal(t, "日本", truncateUTF8("日本語", 6))
	assert.Equal(t, "", truncateUTF8("日本語", 2))
	assert.Equal(t, strings.Repeat("a", 8), truncateUTF8(strings.Repeat("a", 10), 8))
}

func TestEncodeDecodeError(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	enc, _ := newTestEncoder(t, mem, []arrow.Field{
		{Name: "num", Type: arrow.PrimitiveTypes.Int64},
	}, 64, 64)
	defer enc.Release()

	_, err := enc.Encode([][]any{{"not a number"}})
	require.Error(t, err)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "num", decodeErr.Column)
}

func TestEncodeEmptyGroup(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	enc, schema := newTestEncoder(t, mem, []arrow.Field{
		{Name: "i", Type: arrow.PrimitiveTypes.Int64},
	}, 64, 64)
	defer enc.Release()

	rec, err := enc.Encode(nil)
	require.NoError(t, err)
	defer rec.Release()

	assert.EqualValues(t, 0, rec.NumRows())
	assert.True(t, schema.Equal(rec.Schema()))
}

func TestEncoderUnsupportedField(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "l", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	}, nil)
	_, err := NewEncoder(memory.DefaultAllocator, schema, 64, 64)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"l"`)
}
