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
	"regexp"
	"strings"
)

// ODBC drivers embed the SQLSTATE in the error text rather than
// exposing it structurally through database/sql, e.g.
// "[unixODBC][Driver Manager]Data source name not found ... (IM002)".
var sqlStateRe = regexp.MustCompile(`\b(IM[0-9]{3}|HYT0[01]|HY[0-9]{3}|[0-9]{2}[0-9A-Z]{3})\b`)

// sqlStateOf extracts a SQLSTATE token from a native error message.
func sqlStateOf(err error) (string, bool) {
	m := sqlStateRe.FindString(err.Error())
	if m == "" {
		return "", false
	}
	return m, true
}

// translateConnectErr classifies a native failure raised while opening
// a connection.
func translateConnectErr(eh errorHelper, err error) error {
	var ibErr Error
	if errors.As(err, &ibErr) {
		return ibErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return eh.wrap(StatusConnectTimeout, err)
	}
	return eh.wrap(connectStatus(err), err)
}

// translateQueryErr classifies a native failure raised while preparing
// or executing a statement, or while driving its cursor.
func translateQueryErr(eh errorHelper, err error) error {
	var ibErr Error
	if errors.As(err, &ibErr) {
		return ibErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return eh.wrap(StatusQueryTimeout, err)
	}
	return eh.wrap(queryStatus(err), err)
}

func connectStatus(err error) Status {
	if state, ok := sqlStateOf(err); ok {
		switch {
		case strings.HasPrefix(state, "IM"):
			return StatusDSN
		case state == "28000":
			return StatusAuth
		case strings.HasPrefix(state, "08"):
			return StatusTransport
		case state == "HYT00" || state == "HYT01":
			return StatusConnectTimeout
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "data source") || strings.Contains(msg, "unknown driver"):
		return StatusDSN
	case strings.Contains(msg, "authentication") || strings.Contains(msg, "password") ||
		strings.Contains(msg, "login"):
		return StatusAuth
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return StatusConnectTimeout
	case strings.Contains(msg, "refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "unreachable") || strings.Contains(msg, "network"):
		return StatusTransport
	}
	return StatusTransport
}

func queryStatus(err error) Status {
	if state, ok := sqlStateOf(err); ok {
		switch {
		case strings.HasPrefix(state, "42") || strings.HasPrefix(state, "37"):
			return StatusSyntax
		case strings.HasPrefix(state, "24") || strings.HasPrefix(state, "34"):
			return StatusCursor
		case state == "HYT00" || state == "HYT01":
			return StatusQueryTimeout
		case strings.HasPrefix(state, "08"):
			return StatusTransport
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax"):
		return StatusSyntax
	case strings.Contains(msg, "cursor"):
		return StatusCursor
	case strings.Contains(msg, "timeout"):
		return StatusQueryTimeout
	}
	return StatusExecution
}
