// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging is a thin structured-logging layer over log/slog, in the
// shape of the teacher's plugin/evm/log compatibility wrapper: named
// levels, contextual key/value pairs, one root logger handed down by
// reference with per-component children via With.
package logging

import (
	"io"
	"log/slog"
	"os"
)

type Logger = *slog.Logger

var root Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Root returns the process-wide root logger.
func Root() Logger { return root }

// Init reconfigures the root logger's level and output. Call once at
// startup before any component logger is derived from Root.
func Init(w io.Writer, level slog.Level, jsonFormat bool) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if jsonFormat {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	root = slog.New(h)
}

// Component returns a child logger tagged with the given component name,
// e.g. logging.Component("rpcpool").
func Component(name string) Logger {
	return root.With("component", name)
}
