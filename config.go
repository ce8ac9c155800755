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

import "time"

// Default configuration values applied by Connect when the
// corresponding QueryConfig field is zero.
const (
	DefaultBatchSize         = 1024
	DefaultQueueDepth        = 1
	DefaultMaxTextSize       = 65536
	DefaultMaxBinarySize     = 65536
	DefaultConnectionTimeout = 30 * time.Second
	DefaultDriverName        = "odbc"

	maxQueueDepth = 8
)

// IsolationLevel is the transactional visibility guarantee requested
// for the session.
type IsolationLevel uint8

const (
	LevelDefault IsolationLevel = iota
	LevelReadUncommitted
	LevelReadCommitted
	LevelRepeatableRead
	LevelSnapshot
	LevelSerializable
)

// String renders the level as the keyword value understood by ODBC
// connection strings.
func (lvl IsolationLevel) String() string {
	switch lvl {
	case LevelReadUncommitted:
		return "ReadUncommitted"
	case LevelReadCommitted:
		return "ReadCommitted"
	case LevelRepeatableRead:
		return "RepeatableRead"
	case LevelSnapshot:
		return "Snapshot"
	case LevelSerializable:
		return "Serializable"
	}
	return ""
}

// QueryConfig configures a Connection. It is attached at Connect time
// and immutable thereafter: Connect copies the value and never reads
// the caller's struct again.
//
// The zero value of any field selects its documented default.
type QueryConfig struct {
	// BatchSize is the number of rows fetched and encoded per batch.
	// Default DefaultBatchSize. Must be > 0.
	BatchSize int
	// QueueDepth is the number of in-flight batches buffered between
	// the fetch and encode stages. Default DefaultQueueDepth. Larger
	// values trade memory for throughput smoothing; capped at 8.
	// Peak memory is bounded by BatchSize * (QueueDepth + 1) rows.
	QueueDepth int
	// MaxTextSize is the byte limit for a single text value. Values
	// longer than this are truncated and counted (see
	// RecordReader Truncations). Default DefaultMaxTextSize.
	MaxTextSize int
	// MaxBinarySize is the byte limit for a single binary value,
	// under the same truncation rule. Default DefaultMaxBinarySize.
	MaxBinarySize int
	// ReadOnly requests a read-only session.
	ReadOnly bool
	// ConnectionTimeout bounds the time spent opening the connection.
	// Default DefaultConnectionTimeout. Must be >= 0; zero selects
	// the default.
	ConnectionTimeout time.Duration
	// QueryTimeout bounds the cumulative wall-clock time of an entire
	// fetch sequence, not a single batch. Zero means unlimited.
	QueryTimeout time.Duration
	// IsolationLevel is applied as a session attribute at open time,
	// before any statement executes.
	IsolationLevel IsolationLevel
	// DriverName selects the database/sql driver used to reach the
	// source. Default DefaultDriverName ("odbc"). DSN rewriting only
	// applies to the default ODBC driver; any other driver receives
	// the data source identifier verbatim.
	DriverName string
}

// withDefaults returns a copy with every zero field replaced by its
// documented default.
func (cfg QueryConfig) withDefaults() QueryConfig {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.MaxTextSize == 0 {
		cfg.MaxTextSize = DefaultMaxTextSize
	}
	if cfg.MaxBinarySize == 0 {
		cfg.MaxBinarySize = DefaultMaxBinarySize
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.DriverName == "" {
		cfg.DriverName = DefaultDriverName
	}
	return cfg
}

// validate fails fast on out-of-range values. It runs after
// withDefaults, so zero values have already been replaced.
func (cfg *QueryConfig) validate() error {
	eh := errorHelper{prefix: "ibarrow"}
	if cfg.BatchSize <= 0 {
		return eh.errorf(StatusInvalidArgument, "batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.QueueDepth <= 0 || cfg.QueueDepth > maxQueueDepth {
		return eh.errorf(StatusInvalidArgument, "queue depth must be in 1..%d, got %d", maxQueueDepth, cfg.QueueDepth)
	}
	if cfg.MaxTextSize <= 0 {
		return eh.errorf(StatusInvalidArgument, "max text size must be positive, got %d", cfg.MaxTextSize)
	}
	if cfg.MaxBinarySize <= 0 {
		return eh.errorf(StatusInvalidArgument, "max binary size must be positive, got %d", cfg.MaxBinarySize)
	}
	if cfg.ConnectionTimeout <= 0 {
		return eh.errorf(StatusInvalidArgument, "connection timeout must be positive, got %s", cfg.ConnectionTimeout)
	}
	if cfg.QueryTimeout < 0 {
		return eh.errorf(StatusInvalidArgument, "query timeout must not be negative, got %s", cfg.QueryTimeout)
	}
	if cfg.IsolationLevel > LevelSerializable {
		return eh.errorf(StatusInvalidArgument, "unknown isolation level %d", cfg.IsolationLevel)
	}
	return nil
}
