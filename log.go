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
	"context"
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

// LogRecord is one line of a Log.  Stream is "stdout" or "stderr" for
// process output, and empty for supervisor messages.
type LogRecord struct {
	Id     int64     `json:"id,string"`
	Time   time.Time `json:"time"`
	Stream string    `json:"stream,omitempty"`
	Text   string    `json:"text"`
}

// Log is a bounded in-memory ring of lines.  Writers never block on
// readers; a reader that falls behind simply misses the oldest lines.
type Log struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	id         int64
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

func (log *Log) lock() {
	log.mx.Lock()
}

func (log *Log) unlock() {
	log.mx.Unlock()
}

// Write implements io.Writer.  Each newline separated line becomes its
// own record.
func (log *Log) Write(b []byte) (int, error) {
	log.Append("", string(b))
	return len(b), nil
}

// Append adds the lines of text to the log, tagged with stream.
func (log *Log) Append(stream string, text string) {
	text = strings.TrimRight(text, "\r\n")
	now := time.Now()
	log.lock()
	for _, line := range strings.Split(text, "\n") {
		idx := log.numRecords % log.maxRecords
		log.id++
		log.records[idx] = LogRecord{
			Id:     log.id,
			Time:   now,
			Stream: stream,
			Text:   strings.TrimSuffix(line, "\r"),
		}
		// NB: numRecords may actually be more than maxRecords.
		// In that case, we've looped, but we use this really to
		// track the next index.
		log.numRecords++
	}
	for cv := range log.cvs {
		cv.Broadcast()
	}
	log.unlock()
}

func (log *Log) Clear() {
	log.lock()
	log.numRecords = 0
	// We presume that we cannot add new records more quickly than
	// once every nanosecond.
	log.id = time.Now().UnixNano()
	for cv := range log.cvs {
		cv.Broadcast()
	}
	log.unlock()
}

// Len returns the number of records currently held.
func (log *Log) Len() int {
	log.lock()
	defer log.unlock()
	if log.numRecords > log.maxRecords {
		return log.maxRecords
	}
	return log.numRecords
}

// GetRecords returns the records that are stored, as well as an ID
// suitable for use as an Etag.  The last parameter can be the last ID
// that was checked, in which case this function will return nil immediately
// if the log has not changed since that ID was returned, without duplicating
// any records.  Note that IDs are not unique across different Log instances.
func (log *Log) GetRecords(last int64) ([]LogRecord, int64) {
	log.lock()
	defer log.unlock()
	if log.id == last {
		return nil, last
	}
	cnt := log.numRecords
	if cnt > log.maxRecords {
		cnt = log.maxRecords
	}
	recs := make([]LogRecord, 0, cnt)
	index := log.numRecords - cnt
	for j := 0; j < cnt; j++ {
		recs = append(recs, log.records[index%log.maxRecords])
		index++
	}
	return recs, log.id
}

// Watch waits until the log ID differs from last, the expire duration
// passes, or ctx is done, and returns the current ID.  A non-positive
// expire returns immediately.
func (log *Log) Watch(ctx context.Context, last int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&log.mx)
	wake := func() {
		log.lock()
		expired = true
		cv.Broadcast()
		log.unlock()
	}
	if expire <= 0 {
		expired = true
	} else {
		timer := time.AfterFunc(expire, wake)
		defer timer.Stop()
		stop := context.AfterFunc(ctx, wake)
		defer stop()
	}

	log.lock()
	log.cvs[cv] = true
	for log.id == last && !expired {
		cv.Wait()
	}
	delete(log.cvs, cv)
	last = log.id
	log.unlock()
	return last
}

// NewLog returns a Log holding at most max records.  A max of zero means
// MaxLogRecords.
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	return &Log{
		records:    make([]LogRecord, max),
		maxRecords: max,
		id:         time.Now().UnixNano(),
		cvs:        make(map[*sync.Cond]bool),
	}
}
