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
	"sync"
)

const (
	// MaxOutputRecords is how many lines of output are kept per process.
	MaxOutputRecords = 2500

	// maxLine bounds a line we are still waiting on a newline for.
	maxLine = 64 * 1024
)

// OutputLog collects the output of one process.  It implements a fan out
// similar to a tee: each stream is broken into lines, and every line is
// delivered to the in-memory ring and to each registered sink.  The sinks
// see plain newline terminated text, without any stream tag.
type OutputLog struct {
	ring  *Log
	sinks []io.Writer
	lock  sync.Mutex
}

// Stream returns an io.Writer for one stream of the process (normally
// "stdout" or "stderr").  Partial lines are held back until the newline
// arrives, or Flush is called.
func (o *OutputLog) Stream(name string) *StreamWriter {
	return &StreamWriter{out: o, name: name}
}

// AddSink adds a destination.  A sink can only be added once.
func (o *OutputLog) AddSink(w io.Writer) {
	o.lock.Lock()
	defer o.lock.Unlock()
	for _, x := range o.sinks {
		if x == w {
			return
		}
	}
	o.sinks = append(o.sinks, w)
}

// DelSink removes a destination added with AddSink.
func (o *OutputLog) DelSink(w io.Writer) {
	o.lock.Lock()
	defer o.lock.Unlock()
	for i, x := range o.sinks {
		if x == w {
			o.sinks = append(o.sinks[:i], o.sinks[i+1:]...)
			break
		}
	}
}

// Ring returns the in-memory log of recent lines.
func (o *OutputLog) Ring() *Log {
	return o.ring
}

// Note writes a line that did not come from the process itself, such as
// an exit notice, so that it shows up inline with the output.
func (o *OutputLog) Note(text string) {
	o.emit("", []byte(text))
}

func (o *OutputLog) emit(stream string, line []byte) {
	o.ring.Append(stream, string(line))
	o.lock.Lock()
	if len(o.sinks) > 0 {
		buf := make([]byte, len(line)+1)
		copy(buf, line)
		buf[len(line)] = '\n'
		for _, w := range o.sinks {
			_, _ = w.Write(buf)
		}
	}
	o.lock.Unlock()
}

// NewOutputLog returns an OutputLog whose ring holds max lines.
func NewOutputLog(max int) *OutputLog {
	if max <= 0 {
		max = MaxOutputRecords
	}
	return &OutputLog{ring: NewLog(max)}
}

// StreamWriter is the line splitting writer returned by OutputLog.Stream.
type StreamWriter struct {
	out     *OutputLog
	name    string
	partial []byte
	lock    sync.Mutex
}

func (s *StreamWriter) Write(b []byte) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	n := len(b)
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			s.partial = append(s.partial, b...)
			if len(s.partial) >= maxLine {
				s.out.emit(s.name, s.partial)
				s.partial = nil
			}
			break
		}
		line := b[:i]
		if len(s.partial) > 0 {
			line = append(s.partial, line...)
			s.partial = nil
		}
		s.out.emit(s.name, bytes.TrimSuffix(line, []byte{'\r'}))
		b = b[i+1:]
	}
	return n, nil
}

// Flush emits any trailing partial line.
func (s *StreamWriter) Flush() {
	s.lock.Lock()
	if len(s.partial) > 0 {
		s.out.emit(s.name, s.partial)
		s.partial = nil
	}
	s.lock.Unlock()
}
