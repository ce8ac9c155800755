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
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := Error{Msg: "boom", Code: StatusSyntax}
	assert.Equal(t, "Syntax: boom", err.Error())

	err.SqlState = [5]byte{'4', '2', '0', '0', '0'}
	assert.Equal(t, "Syntax: boom (42000)", err.Error())
}

func TestErrorCategorySentinels(t *testing.T) {
	tests := []struct {
		code Status
		want error
	}{
		{StatusDSN, ErrConnection},
		{StatusAuth, ErrConnection},
		{StatusTransport, ErrConnection},
		{StatusConnectTimeout, ErrConnection},
		{StatusSyntax, ErrSQL},
		{StatusExecution, ErrSQL},
		{StatusCursor, ErrSQL},
		{StatusUnsupportedType, ErrArrow},
		{StatusTruncated, ErrArrow},
		{StatusDecode, ErrArrow},
		{StatusQueryTimeout, ErrQuery},
		{StatusInvalidArgument, ErrConnection},
		{StatusInvalidState, ErrConnection},
		{StatusInternal, ErrConnection},
	}
	sentinels := []error{ErrConnection, ErrSQL, ErrArrow, ErrQuery}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := Error{Msg: "x", Code: tt.code}
			for _, s := range sentinels {
				assert.Equal(t, s == tt.want, errors.Is(err, s), "sentinel %v", s)
			}
		})
	}
}

func TestErrorHelper(t *testing.T) {
	eh := errorHelper{prefix: "ibarrow"}

	err := eh.errorf(StatusExecution, "query %d failed", 7)
	var ibErr Error
	require.True(t, errors.As(err, &ibErr))
	assert.Equal(t, StatusExecution, ibErr.Code)
	assert.Equal(t, "[ibarrow] query 7 failed", ibErr.Msg)

	// wrapping an already classified error keeps the original code
	rewrapped := eh.wrap(StatusInternal, fmt.Errorf("outer: %w", err))
	require.True(t, errors.As(rewrapped, &ibErr))
	assert.Equal(t, StatusExecution, ibErr.Code)
}

func TestErrorHelperWrapExtractsSQLState(t *testing.T) {
	eh := errorHelper{prefix: "ibarrow"}
	err := eh.wrap(StatusDSN, errors.New("[unixODBC][Driver Manager]Data source name not found and no default driver specified (IM002)"))

	var ibErr Error
	require.True(t, errors.As(err, &ibErr))
	assert.Equal(t, "IM002", string(ibErr.SqlState[:]))
}

func TestSQLStateOf(t *testing.T) {
	tests := []struct {
		msg   string
		state string
	}{
		{"Data source name not found (IM002)", "IM002"},
		{"SQLSTATE 28000 authentication failed", "28000"},
		{"ERROR: syntax error at or near, SQLSTATE=42601", "42601"},
		{"connection timeout expired HYT00", "HYT00"},
		{"no state here", ""},
	}
	for _, tt := range tests {
		state, ok := sqlStateOf(errors.New(tt.msg))
		assert.Equal(t, tt.state != "", ok, tt.msg)
		assert.Equal(t, tt.state, state, tt.msg)
	}
}

func TestTranslateConnectErr(t *testing.T) {
	eh := errorHelper{prefix: "ibarrow"}

	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"dsn not found", errors.New("data source name not found (IM002)"), StatusDSN},
		{"bad credentials", errors.New("login failed for user (28000)"), StatusAuth},
		{"network down", errors.New("client unable to establish connection (08001)"), StatusTransport},
		{"driver timeout", errors.New("connection timeout expired (HYT00)"), StatusConnectTimeout},
		{"context deadline", context.DeadlineExceeded, StatusConnectTimeout},
		{"sniffed password", errors.New("invalid password for role"), StatusAuth},
		{"sniffed refused", errors.New("dial tcp: connection refused"), StatusTransport},
		{"opaque", errors.New("something odd"), StatusTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ibErr Error
			require.True(t, errors.As(translateConnectErr(eh, tt.err), &ibErr))
			assert.Equal(t, tt.want, ibErr.Code)
			assert.True(t, errors.Is(ibErr, ErrConnection))
		})
	}
}

func TestTranslateQueryErr(t *testing.T) {
	eh := errorHelper{prefix: "ibarrow"}

	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"syntax state", errors.New("incorrect syntax near SELCT (42000)"), StatusSyntax},
		{"cursor state", errors.New("invalid cursor state (24000)"), StatusCursor},
		{"driver timeout", errors.New("query timeout expired (HYT01)"), StatusQueryTimeout},
		{"transport", errors.New("communication link failure (08S01)"), StatusTransport},
		{"context deadline", context.DeadlineExceeded, StatusQueryTimeout},
		{"sniffed syntax", errors.New(`near "SELCT": syntax error`), StatusSyntax},
		{"opaque", errors.New("table is locked"), StatusExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ibErr Error
			require.True(t, errors.As(translateQueryErr(eh, tt.err), &ibErr))
			assert.Equal(t, tt.want, ibErr.Code)
		})
	}
}

func TestTranslatePreservesClassified(t *testing.T) {
	eh := errorHelper{prefix: "ibarrow"}
	orig := eh.errorf(StatusAuth, "bad password")

	var ibErr Error
	require.True(t, errors.As(translateQueryErr(eh, orig), &ibErr))
	assert.Equal(t, StatusAuth, ibErr.Code)
}
