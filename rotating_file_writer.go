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
	"os"
	"path/filepath"
	"time"
)

const (
	traceFilePrefix  = "ibarrow"
	traceFileExt     = ".jsonl"
	traceFileMaxSize = int64(1024) * 1024 // bytes
	traceFileMaxNum  = 100
)

// rotatingTraceWriter writes span exports into date-stamped files
// under the user config directory, starting a new file once the
// current one exceeds traceFileMaxSize and pruning the oldest files
// beyond traceFileMaxNum. Used by the ibarrow_file trace exporter.
type rotatingTraceWriter struct {
	dir     string
	current *os.File
}

func newRotatingTraceWriter() (*rotatingTraceWriter, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(configDir, "ibarrow", "traces")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &rotatingTraceWriter{dir: dir}, nil
}

func (w *rotatingTraceWriter) Write(p []byte) (int, error) {
	if err := w.maybeRotate(); err != nil {
		return 0, err
	}
	if w.current == nil {
		name := traceFilePrefix + "-" + time.Now().UTC().Format("2006-01-02-15-04-05.000000000") + traceFileExt
		f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
		if err != nil {
			return 0, err
		}
		w.current = f
	}
	return w.current.Write(p)
}

func (w *rotatingTraceWriter) Close() error {
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	return err
}

func (w *rotatingTraceWriter) maybeRotate() error {
	if w.current == nil {
		return nil
	}
	info, err := w.current.Stat()
	if err != nil {
		return err
	}
	if info.Size() < traceFileMaxSize {
		return nil
	}
	if err := w.current.Close(); err != nil {
		return err
	}
	w.current = nil
	return w.pruneOldFiles()
}

func (w *rotatingTraceWriter) pruneOldFiles() error {
	// Trace file names sort lexicographically by creation time.
	files, err := filepath.Glob(filepath.Join(w.dir, traceFilePrefix+"-*"+traceFileExt))
	if err != nil || len(files) <= traceFileMaxNum {
		return nil
	}
	for _, path := range files[:len(files)-traceFileMaxNum] {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
