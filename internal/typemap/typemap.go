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

// Package typemap derives an Arrow schema from relational cursor
// metadata. The schema is derived once per query and is immutable for
// the lifetime of the result set; the per-column decode rules live in
// the encode package and key off the Arrow types chosen here.
package typemap

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

// Schema field metadata keys carrying source column details.
const (
	MetadataKeySourceType   = "ibarrow.source_type"
	MetadataKeyDeclaredSize = "ibarrow.declared_size"
)

// ColumnMeta is the slice of cursor metadata this package consumes.
// *sql.ColumnType satisfies it.
type ColumnMeta interface {
	Name() string
	DatabaseTypeName() string
	Nullable() (nullable, ok bool)
	Length() (length int64, ok bool)
	DecimalSize() (precision, scale int64, ok bool)
	ScanType() reflect.Type
}

// UnsupportedTypeError names the column whose source type has no
// columnar mapping. The caller classifies it; the whole query fails.
type UnsupportedTypeError struct {
	Column     string
	SourceType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("column %q has unsupported source type %q", e.Column, e.SourceType)
}

// Relational type names mapped straight to Arrow types. Integer
// families map to the smallest sufficient signed width; REAL is the
// 4-byte ODBC floating type, FLOAT and DOUBLE the 8-byte one.
var nameToArrowType = map[string]arrow.DataType{
	"BOOL":    arrow.FixedWidthTypes.Boolean,
	"BOOLEAN": arrow.FixedWidthTypes.Boolean,
	"BIT":     arrow.FixedWidthTypes.Boolean,

	"TINYINT":   arrow.PrimitiveTypes.Int8,
	"SMALLINT":  arrow.PrimitiveTypes.Int16,
	"INT2":      arrow.PrimitiveTypes.Int16,
	"MEDIUMINT": arrow.PrimitiveTypes.Int32,
	"INT":       arrow.PrimitiveTypes.Int32,
	"INT4":      arrow.PrimitiveTypes.Int32,
	"INTEGER":   arrow.PrimitiveTypes.Int64,
	"BIGINT":    arrow.PrimitiveTypes.Int64,
	"INT8":      arrow.PrimitiveTypes.Int64,

	"REAL":             arrow.PrimitiveTypes.Float32,
	"FLOAT":            arrow.PrimitiveTypes.Float64,
	"DOUBLE":           arrow.PrimitiveTypes.Float64,
	"DOUBLE PRECISION": arrow.PrimitiveTypes.Float64,

	"CHAR":              arrow.BinaryTypes.String,
	"NCHAR":             arrow.BinaryTypes.String,
	"CHARACTER":         arrow.BinaryTypes.String,
	"CHARACTER VARYING": arrow.BinaryTypes.String,
	"VARCHAR":           arrow.BinaryTypes.String,
	"NVARCHAR":          arrow.BinaryTypes.String,
	"LONGVARCHAR":       arrow.BinaryTypes.String,
	"TEXT":              arrow.BinaryTypes.String,
	"NTEXT":             arrow.BinaryTypes.String,
	"CLOB":              arrow.BinaryTypes.String,
	"JSON":              arrow.BinaryTypes.String,
	"XML":               arrow.BinaryTypes.String,
	"UUID":              arrow.BinaryTypes.String,

	"BINARY":        arrow.BinaryTypes.Binary,
	"VARBINARY":     arrow.BinaryTypes.Binary,
	"LONGVARBINARY": arrow.BinaryTypes.Binary,
	"BLOB":          arrow.BinaryTypes.Binary,
	"BYTEA":         arrow.BinaryTypes.Binary,

	"DATE": arrow.FixedWidthTypes.Date32,
	"TIME": arrow.FixedWidthTypes.Time64us,
}

var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// "DECIMAL(18,4)" and friends, when the driver only exposes the
// declared type text.
var decimalRe = regexp.MustCompile(`^(?:DECIMAL|NUMERIC|NUMBER|DEC)\s*\((\d+)\s*,\s*(\d+)\)$`)

// DeriveSchema maps cursor metadata to an Arrow schema. Nullability is
// copied verbatim from source metadata; drivers that cannot report it
// yield nullable columns. An unknown source type fails the whole query
// with an UnsupportedTypeError naming the offending column.
func DeriveSchema(cols []ColumnMeta) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(cols))
	for i, col := range cols {
		dt, err := arrowTypeFor(col)
		if err != nil {
			return nil, err
		}

		nullable, ok := col.Nullable()
		if !ok {
			nullable = true
		}

		md := map[string]string{MetadataKeySourceType: col.DatabaseTypeName()}
		if length, ok := col.Length(); ok {
			md[MetadataKeyDeclaredSize] = strconv.FormatInt(length, 10)
		}

		fields[i] = arrow.Field{
			Name:     col.Name(),
			Type:     dt,
			Nullable: nullable,
			Metadata: arrow.MetadataFrom(md),
		}
	}
	return arrow.NewSchema(fields, nil), nil
}

func arrowTypeFor(col ColumnMeta) (arrow.DataType, error) {
	name := strings.ToUpper(strings.TrimSpace(col.DatabaseTypeName()))

	// Strip a declared size, e.g. VARCHAR(255) -> VARCHAR.
	base := name
	if idx := strings.IndexByte(base, '('); idx > 0 {
		base = strings.TrimSpace(base[:idx])
	}

	if dt, ok := nameToArrowType[base]; ok {
		return dt, nil
	}

	switch base {
	case "DECIMAL", "NUMERIC", "NUMBER", "DEC":
		precision, scale, ok := col.DecimalSize()
		if !ok {
			if m := decimalRe.FindStringSubmatch(name); m != nil {
				precision, _ = strconv.ParseInt(m[1], 10, 32)
				scale, _ = strconv.ParseInt(m[2], 10, 32)
				ok = true
			}
		}
		if !ok || precision == 0 {
			// No usable precision anywhere in the metadata.
			precision, scale = 38, 10
		}
		if precision <= 38 {
			return &arrow.Decimal128Type{Precision: int32(precision), Scale: int32(scale)}, nil
		}
		return &arrow.Decimal256Type{Precision: int32(precision), Scale: int32(scale)}, nil
	case "TIMESTAMP", "TIMESTAMPTZ", "DATETIME", "DATETIME2", "SMALLDATETIME", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITHOUT TIME ZONE":
		return timestampType, nil
	case "":
		// Computed columns may carry no declared type; fall back to
		// the driver's scan type when it names a concrete Go type.
		if dt, ok := arrowTypeForScanType(col.ScanType()); ok {
			return dt, nil
		}
	}

	return nil, &UnsupportedTypeError{Column: col.Name(), SourceType: col.DatabaseTypeName()}
}

func arrowTypeForScanType(t reflect.Type) (arrow.DataType, bool) {
	if t == nil {
		return nil, false
	}
	if t == reflect.TypeOf(time.Time{}) {
		return timestampType, true
	}
	switch t.Kind() {
	case reflect.Bool:
		return arrow.FixedWidthTypes.Boolean, true
	case reflect.Int8:
		return arrow.PrimitiveTypes.Int8, true
	case reflect.Int16:
		return arrow.PrimitiveTypes.Int16, true
	case reflect.Int32:
		return arrow.PrimitiveTypes.Int32, true
	case reflect.Int, reflect.Int64:
		return arrow.PrimitiveTypes.Int64, true
	case reflect.Float32:
		return arrow.PrimitiveTypes.Float32, true
	case reflect.Float64:
		return arrow.PrimitiveTypes.Float64, true
	case reflect.String:
		return arrow.BinaryTypes.String, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return arrow.BinaryTypes.Binary, true
		}
	}
	return nil, false
}
