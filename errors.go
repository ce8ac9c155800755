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
	"errors"
	"fmt"
)

// Error is the detailed error for an operation. Every failure that
// crosses the package boundary is an Error with a classified Status;
// opaque driver errors never escape unwrapped.
type Error struct {
	// Msg is a human readable error message
	Msg string
	// Code is the status classifying this error
	Code Status
	// SqlState is a SQLSTATE error code extracted from the native
	// driver error, if one was present. If not set, it is "\0\0\0\0\0".
	SqlState [5]byte
}

func (e Error) Error() string {
	if e.SqlState[0] != 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Msg, string(e.SqlState[:]))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is reports whether this error belongs to the category sentinel
// target, so callers can match whole categories with errors.Is:
//
//	if errors.Is(err, ibarrow.ErrConnection) { ... }
func (e Error) Is(target error) bool {
	switch target {
	case ErrConnection:
		return e.Code.Category() == CategoryConnection
	case ErrSQL:
		return e.Code.Category() == CategorySQL
	case ErrArrow:
		return e.Code.Category() == CategoryArrow
	case ErrQuery:
		return e.Code.Category() == CategoryQuery
	}
	return false
}

// Category sentinels for errors.Is matching. They are never returned
// directly; concrete failures are always Error values.
var (
	ErrConnection = errors.New("ibarrow: connection error")
	ErrSQL        = errors.New("ibarrow: sql error")
	ErrArrow      = errors.New("ibarrow: arrow error")
	ErrQuery      = errors.New("ibarrow: query error")
)

// Status represents an error code for operations that may fail.
type Status uint8

const (
	// No error
	StatusOK Status = iota
	// The data source identifier could not be resolved, or the driver
	// rejected the connection string.
	StatusDSN
	// Authentication against the data source failed.
	StatusAuth
	// A network or transport level failure occurred.
	StatusTransport
	// Opening the connection exceeded the configured connection timeout.
	StatusConnectTimeout
	// The statement failed to prepare, typically a syntax error.
	StatusSyntax
	// The statement failed during execution (permission, constraint, ...).
	StatusExecution
	// The result cursor failed while being driven.
	StatusCursor
	// A source column has a type this bridge cannot represent.
	StatusUnsupportedType
	// A value exceeded the configured text/binary size limit.
	StatusTruncated
	// A value could not be decoded into its columnar representation.
	StatusDecode
	// The cumulative fetch time exceeded the configured query timeout.
	StatusQueryTimeout
	// The arguments are invalid, likely a programming error.
	StatusInvalidArgument
	// The operation is not valid for the connection's current state.
	StatusInvalidState
	// An error internal to the bridge occurred.
	StatusInternal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusDSN:
		return "DSN Resolution"
	case StatusAuth:
		return "Authentication"
	case StatusTransport:
		return "Transport"
	case StatusConnectTimeout:
		return "Connection Timeout"
	case StatusSyntax:
		return "Syntax"
	case StatusExecution:
		return "Execution"
	case StatusCursor:
		return "Cursor"
	case StatusUnsupportedType:
		return "Unsupported Type"
	case StatusTruncated:
		return "Truncated"
	case StatusDecode:
		return "Decode"
	case StatusQueryTimeout:
		return "Query Timeout"
	case StatusInvalidArgument:
		return "Invalid Argument"
	case StatusInvalidState:
		return "Invalid State"
	case StatusInternal:
		return "Internal"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Category groups statuses into the four exposed error families.
type Category uint8

const (
	CategoryConnection Category = iota
	CategorySQL
	CategoryArrow
	CategoryQuery
)

// Category returns the error family a status belongs to. Usage errors
// (invalid arguments, invalid state, internal faults) are reported on
// the connection surface and classify as CategoryConnection.
func (s Status) Category() Category {
	switch s {
	case StatusSyntax, StatusExecution, StatusCursor:
		return CategorySQL
	case StatusUnsupportedType, StatusTruncated, StatusDecode:
		return CategoryArrow
	case StatusQueryTimeout:
		return CategoryQuery
	}
	return CategoryConnection
}

// errorHelper assists with the construction of classified Error values
// carrying a consistent message prefix.
type errorHelper struct {
	prefix string
}

func (eh errorHelper) errorf(code Status, format string, args ...any) error {
	return Error{
		Msg:  fmt.Sprintf("[%s] %s", eh.prefix, fmt.Sprintf(format, args...)),
		Code: code,
	}
}

func (eh errorHelper) wrap(code Status, err error) error {
	var ibErr Error
	if errors.As(err, &ibErr) {
		return ibErr
	}
	out := Error{
		Msg:  fmt.Sprintf("[%s] %s", eh.prefix, err.Error()),
		Code: code,
	}
	if state, ok := sqlStateOf(err); ok {
		copy(out.SqlState[:], state)
	}
	return out
}
