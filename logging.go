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
	"log/slog"
)

// nilLogger returns a logger that discards everything, so logging
// calls never need a nil check.
func nilLogger() *slog.Logger {
	return slog.New(discardHandler{})
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// SetLogger attaches a structured logger to the connection. Passing
// nil restores the discarding default. Log records never contain the
// password.
func (c *Connection) SetLogger(logger *slog.Logger) {
	if logger == nil {
		c.logger = nilLogger()
		return
	}
	c.logger = logger.With(slog.String("connection_id", c.id))
}
