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

// Package ibarrow is a streaming bridge between ODBC-accessible
// relational sources and the Arrow columnar format.
//
// A Connection executes SQL against the source and emits the result
// set as Arrow record batches, overlapping the I/O-bound row fetch
// with the CPU-bound columnar encode so that arbitrarily large result
// sets stream in constant memory. Results can be consumed batch by
// batch (QueryRecords), as an Arrow IPC stream (QueryStream,
// QueryIPC), or as one concatenated in-memory table (QueryTable); the
// ffi subpackage additionally exposes results through the Arrow C
// Data Interface for zero-copy handoff to foreign consumers.
//
// The source is reached through a database/sql driver, "odbc" by
// default; the bridge does not implement a driver of its own. A
// Connection serves one logical query at a time and is not safe for
// concurrent use, except for Close, which may be called from any
// goroutine to cancel an in-flight query.
package ibarrow

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State is a connection lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateConnected
	StateQuerying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnected:
		return "connected"
	case StateQuerying:
		return "querying"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is an open session against one data source. It owns the
// native handle exclusively; every operation except Close fails once
// the connection is closed.
type Connection struct {
	id   string
	dsn  string // resolved, never contains the password
	user string
	cfg  QueryConfig
	eh   errorHelper

	db   *sql.DB
	conn *sql.Conn

	alloc  memory.Allocator
	logger *slog.Logger
	tracer trace.Tracer

	tracerShutdown func(context.Context) error

	mu          sync.Mutex
	state       State
	queryCancel context.CancelFunc
}

// Connect resolves the data source identifier, opens a session, and
// applies the configured session attributes before any statement can
// execute. A nil cfg selects all defaults. Invalid configuration and
// all open failures are reported as classified errors; the connection
// timeout is enforced here and surfaces as a connection timeout error.
func Connect(ctx context.Context, dsn, user, password string, cfg *QueryConfig) (*Connection, error) {
	var conf QueryConfig
	if cfg != nil {
		conf = *cfg
	}
	conf = conf.withDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}

	c := &Connection{
		id:     uuid.NewString(),
		user:   user,
		cfg:    conf,
		eh:     errorHelper{prefix: "ibarrow"},
		alloc:  memory.DefaultAllocator,
		logger: nilLogger(),
		state:  StateCreated,
	}

	tracer, shutdown, err := initTracing(ctx)
	if err != nil {
		return nil, c.eh.wrap(StatusInternal, err)
	}
	c.tracer = tracer
	c.tracerShutdown = shutdown

	resolved := ResolveDSN(dsn, conf)
	c.dsn = redactConnString(resolved)
	connStr := buildConnString(resolved, user, password, conf)

	ctx, span := c.tracer.Start(ctx, "ibarrow.Connect",
		trace.WithAttributes(
			attribute.String("ibarrow.connection_id", c.id),
			attribute.String("db.system", conf.DriverName),
		))
	defer span.End()

	db, err := sql.Open(conf.DriverName, connStr)
	if err != nil {
		return nil, c.eh.wrap(StatusDSN, err)
	}
	// The pool is sized to the single session this connection owns.
	db.SetMaxOpenConns(1)

	openCtx, cancel := context.WithTimeout(ctx, conf.ConnectionTimeout)
	defer cancel()

	conn, err := db.Conn(openCtx)
	if err != nil {
		_ = db.Close()
		return nil, translateConnectErr(c.eh, err)
	}
	if err := conn.PingContext(openCtx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, translateConnectErr(c.eh, err)
	}

	// Read-only and isolation level ride in the keyword connection
	// string for the ODBC driver, so they are in effect before the
	// first statement.
	c.db = db
	c.conn = conn
	c.state = StateConnected

	c.logger.LogAttrs(ctx, slog.LevelInfo, "connected",
		slog.String("dsn", c.dsn),
		slog.String("driver", conf.DriverName))
	return c, nil
}

// SetAllocator replaces the Arrow allocator used for all batches
// produced by subsequent queries. Passing nil restores the default
// allocator. Must not be called while a query is in flight.
func (c *Connection) SetAllocator(mem memory.Allocator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	c.alloc = mem
}

// Config returns a copy of the configuration attached at Connect time.
func (c *Connection) Config() QueryConfig {
	return c.cfg
}

// State reports the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// String identifies the connection without exposing the password.
func (c *Connection) String() string {
	return "ibarrow.Connection(dsn=" + c.dsn + ", user=" + c.user + ")"
}

// TestConnection issues a trivial round-trip query and reports whether
// it succeeded. Ordinary connectivity failures are reported as false,
// never raised; a closed connection is simply not connected.
func (c *Connection) TestConnection(ctx context.Context) bool {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateCreated {
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	c.mu.Unlock()

	var one int
	if err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		c.logger.LogAttrs(ctx, slog.LevelDebug, "test connection failed",
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// Close releases the native handle. It is idempotent: closing an
// already-closed connection is a no-op, and native close failures are
// logged rather than raised so the handle is released exactly once on
// every path. Closing cancels any in-flight query, which unblocks both
// pipeline stages promptly.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	if c.queryCancel != nil {
		c.queryCancel()
		c.queryCancel = nil
	}
	conn, db := c.conn, c.db
	c.conn, c.db = nil, nil
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil && err != sql.ErrConnDone {
			c.logger.LogAttrs(context.Background(), slog.LevelWarn, "session close failed",
				slog.String("error", err.Error()))
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			c.logger.LogAttrs(context.Background(), slog.LevelWarn, "handle close failed",
				slog.String("error", err.Error()))
		}
	}
	if c.tracerShutdown != nil {
		_ = c.tracerShutdown(context.Background())
		c.tracerShutdown = nil
	}
	c.logger.LogAttrs(context.Background(), slog.LevelInfo, "closed",
		slog.String("dsn", c.dsn))
	return nil
}

// beginQuery transitions Connected -> Querying, recording the cancel
// hook Close uses to abort the pipeline. The session handle is
// captured under the same lock: a Close racing the query nils out
// c.conn, so the query must run against the handle it won the state
// transition with, and let Close surface as a cancellation or
// ErrConnDone rather than a nil dereference.
func (c *Connection) beginQuery(cancel context.CancelFunc) (*sql.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		return nil, c.eh.errorf(StatusInvalidState, "connection is closed")
	case StateQuerying:
		return nil, c.eh.errorf(StatusInvalidState, "another query is in flight")
	case StateCreated:
		return nil, c.eh.errorf(StatusInvalidState, "connection was never opened")
	}
	c.state = StateQuerying
	c.queryCancel = cancel
	return c.conn, nil
}

// endQuery transitions Querying -> Connected once the pipeline has
// fully terminated. A failed query leaves the connection valid and
// closable.
func (c *Connection) endQuery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateQuerying {
		c.state = StateConnected
		c.queryCancel = nil
	}
}
