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
	"strconv"
	"strings"
	"time"
)

// maxDSNLength is SQL_MAX_DSN_LENGTH: the longest name the driver
// manager will resolve through system data source lookup.
const maxDSNLength = 32

// ResolveDSN normalizes a user-supplied data source identifier into a
// form the underlying driver accepts. It is pure and idempotent, and
// applies only to the default ODBC driver; for any other driver the
// identifier passes through verbatim.
//
// Three cases are distinguished:
//   - the identifier already contains '=' and is taken as an explicit
//     keyword connection string, returned unchanged;
//   - the identifier contains a path separator and is taken as a
//     file-based database, rewritten to a DBQ keyword string;
//   - the identifier exceeds maxDSNLength, so system source lookup
//     would fail on the name alone, rewritten to a DSN keyword string.
//
// Anything else is a plain named source and is returned unchanged.
func ResolveDSN(raw string, cfg QueryConfig) string {
	if cfg.DriverName != "" && cfg.DriverName != DefaultDriverName {
		return raw
	}
	switch {
	case strings.ContainsRune(raw, '='):
		return raw
	case strings.ContainsAny(raw, `/\`):
		return "DBQ=" + escapeKeywordValue(raw) + ";"
	case len(raw) > maxDSNLength:
		return "DSN=" + escapeKeywordValue(raw) + ";"
	}
	return raw
}

// buildConnString assembles the full keyword connection string for the
// ODBC driver: resolved source, credentials, then the session
// attributes carried by the configuration. For non-ODBC drivers the
// resolved identifier is returned as-is and credentials are expected
// to be part of it.
//
// The returned string contains the password; it must never be logged.
// Use redactConnString for anything user-visible.
func buildConnString(resolved, user, password string, cfg QueryConfig) string {
	if cfg.DriverName != DefaultDriverName {
		return resolved
	}

	var b strings.Builder
	if strings.ContainsRune(resolved, '=') {
		b.WriteString(resolved)
		if !strings.HasSuffix(resolved, ";") {
			b.WriteByte(';')
		}
	} else {
		b.WriteString("DSN=")
		b.WriteString(escapeKeywordValue(resolved))
		b.WriteByte(';')
	}
	if user != "" {
		b.WriteString("UID=")
		b.WriteString(escapeKeywordValue(user))
		b.WriteByte(';')
	}
	if password != "" {
		b.WriteString("PWD=")
		b.WriteString(escapeKeywordValue(password))
		b.WriteByte(';')
	}
	if cfg.ReadOnly {
		b.WriteString("ReadOnly=1;")
	}
	if cfg.ConnectionTimeout > 0 {
		b.WriteString("Connection Timeout=")
		b.WriteString(formatSeconds(cfg.ConnectionTimeout))
		b.WriteByte(';')
	}
	if cfg.QueryTimeout > 0 {
		b.WriteString("Query Timeout=")
		b.WriteString(formatSeconds(cfg.QueryTimeout))
		b.WriteByte(';')
	}
	if lvl := cfg.IsolationLevel.String(); lvl != "" {
		b.WriteString("Isolation Level=")
		b.WriteString(lvl)
		b.WriteByte(';')
	}
	return b.String()
}

// escapeKeywordValue wraps a keyword value in braces when it contains
// characters that would otherwise terminate the value.
func escapeKeywordValue(v string) string {
	if strings.ContainsAny(v, ";{}") {
		return "{" + strings.ReplaceAll(v, "}", "}}") + "}"
	}
	return v
}

func formatSeconds(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// redactConnString replaces the password value so connection strings
// can appear in logs and error messages.
func redactConnString(s string) string {
	parts := strings.Split(s, ";")
	for i, kv := range parts {
		k, _, ok := strings.Cut(kv, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "PWD") {
			parts[i] = k + "=***"
		}
	}
	return strings.Join(parts, ";")
}
