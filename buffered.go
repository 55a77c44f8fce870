// Copyright 2024 The Gopm3 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gopm3

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logBufferSize = 32 * 1024
	logFlushDelay = 250 * time.Millisecond
)

// BufferedWriter batches writes to an underlying writer.  The buffer is
// written out when it fills up, or at the latest flushDelay after the
// first unflushed write, so a chatty process doesn't turn every line into
// a system call and a quiet one still shows up promptly.
type BufferedWriter struct {
	w          io.Writer
	buf        bytes.Buffer
	size       int
	flushDelay time.Duration
	timer      *time.Timer
	closed     bool
	mx         sync.Mutex
}

// NewBufferedWriter wraps w.  No goroutine is left running between
// flushes.
func NewBufferedWriter(w io.Writer, size int, flushDelay time.Duration) *BufferedWriter {
	bw := &BufferedWriter{w: w, size: size, flushDelay: flushDelay}
	bw.buf.Grow(size)
	return bw
}

func (bw *BufferedWriter) Write(b []byte) (int, error) {
	bw.mx.Lock()
	defer bw.mx.Unlock()
	if bw.closed {
		return 0, os.ErrClosed
	}
	n, _ := bw.buf.Write(b)
	if bw.buf.Len() >= bw.size {
		return n, bw.flush()
	}
	if bw.timer == nil {
		bw.timer = time.AfterFunc(bw.flushDelay, func() {
			bw.mx.Lock()
			bw.timer = nil
			_ = bw.flush()
			bw.mx.Unlock()
		})
	}
	return n, nil
}

// Flush writes out anything buffered.
func (bw *BufferedWriter) Flush() error {
	bw.mx.Lock()
	defer bw.mx.Unlock()
	return bw.flush()
}

func (bw *BufferedWriter) flush() error {
	if bw.timer != nil {
		bw.timer.Stop()
		bw.timer = nil
	}
	if bw.buf.Len() == 0 {
		return nil
	}
	_, e := bw.w.Write(bw.buf.Bytes())
	bw.buf.Reset()
	return e
}

// Close flushes, and closes the underlying writer if it is a Closer.
func (bw *BufferedWriter) Close() error {
	bw.mx.Lock()
	defer bw.mx.Unlock()
	if bw.closed {
		return nil
	}
	bw.closed = true
	e := bw.flush()
	if c, ok := bw.w.(io.Closer); ok {
		if ce := c.Close(); e == nil {
			e = ce
		}
	}
	return e
}

// openProcessLog opens the rotating log file for a process in dir.
func openProcessLog(dir, name string) (*BufferedWriter, error) {
	if e := os.MkdirAll(dir, 0o755); e != nil {
		return nil, e
	}
	lj := &lumberjack.Logger{
		Filename:   filepath.Join(dir, name+".log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return NewBufferedWriter(lj, logBufferSize, logFlushDelay), nil
}
