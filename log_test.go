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
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLog(t *testing.T) {
	Convey("A log keeps the most recent lines", t, func() {
		log := NewLog(3)
		recs, id := log.GetRecords(0)
		So(recs, ShouldBeEmpty)

		fmt.Fprintf(log, "one\ntwo\n")
		recs, id2 := log.GetRecords(id)
		So(len(recs), ShouldEqual, 2)
		So(recs[0].Text, ShouldEqual, "one")
		So(recs[1].Text, ShouldEqual, "two")
		So(recs[1].Id, ShouldEqual, recs[0].Id+1)

		Convey("Nothing is returned when nothing changed", func() {
			recs, id3 := log.GetRecords(id2)
			So(recs, ShouldBeNil)
			So(id3, ShouldEqual, id2)
		})

		Convey("Old lines fall off", func() {
			log.Append("stderr", "three\nfour")
			recs, _ := log.GetRecords(id2)
			So(len(recs), ShouldEqual, 3)
			So(log.Len(), ShouldEqual, 3)
			So(recs[0].Text, ShouldEqual, "two")
			So(recs[2].Text, ShouldEqual, "four")
			So(recs[2].Stream, ShouldEqual, "stderr")
		})

		Convey("Clear empties it", func() {
			log.Clear()
			recs, _ := log.GetRecords(id2)
			So(recs, ShouldBeEmpty)
		})
	})

	Convey("Watch wakes up on writes", t, func() {
		log := NewLog(0)
		_, id := log.GetRecords(0)

		So(log.Watch(context.Background(), id, 0), ShouldEqual, id)

		start := time.Now()
		So(log.Watch(context.Background(), id, 50*time.Millisecond), ShouldEqual, id)
		So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 50*time.Millisecond)

		time.AfterFunc(20*time.Millisecond, func() { log.Append("", "hello") })
		nid := log.Watch(context.Background(), id, 5*time.Second)
		So(nid, ShouldNotEqual, id)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)
		start = time.Now()
		So(log.Watch(ctx, nid, 5*time.Second), ShouldEqual, nid)
		So(time.Since(start), ShouldBeLessThan, 5*time.Second)
	})
}

func TestOutputLog(t *testing.T) {
	Convey("Output is split into lines per stream", t, func() {
		out := NewOutputLog(10)
		sink := &lineSink{}
		out.AddSink(sink)
		stdout := out.Stream("stdout")
		stderr := out.Stream("stderr")

		stdout.Write([]byte("hel"))
		stderr.Write([]byte("oops\r\n"))
		stdout.Write([]byte("lo\nwor"))
		recs, _ := out.Ring().GetRecords(0)
		So(len(recs), ShouldEqual, 2)
		So(recs[0].Stream, ShouldEqual, "stderr")
		So(recs[0].Text, ShouldEqual, "oops")
		So(recs[1].Stream, ShouldEqual, "stdout")
		So(recs[1].Text, ShouldEqual, "hello")

		stdout.Flush()
		recs, _ = out.Ring().GetRecords(0)
		So(len(recs), ShouldEqual, 3)
		So(recs[2].Text, ShouldEqual, "wor")
		So(sink.String(), ShouldEqual, "oops\nhello\nwor\n")

		Convey("Removed sinks see nothing more", func() {
			out.DelSink(sink)
			out.Note("bye")
			So(sink.String(), ShouldEqual, "oops\nhello\nwor\n")
		})
	})
}

func TestBufferedWriter(t *testing.T) {
	Convey("Buffered writes come out on size or delay", t, func() {
		sink := &lineSink{}
		bw := NewBufferedWriter(sink, 8, 30*time.Millisecond)

		bw.Write([]byte("abc"))
		So(sink.String(), ShouldEqual, "")
		So(waitFor(time.Second, func() bool { return sink.String() == "abc" }), ShouldBeTrue)

		bw.Write([]byte("0123456789"))
		So(sink.String(), ShouldEqual, "abc0123456789")

		bw.Write([]byte("tail"))
		So(bw.Close(), ShouldBeNil)
		So(sink.String(), ShouldEqual, "abc0123456789tail")
		_, e := bw.Write([]byte("late"))
		So(e, ShouldNotBeNil)
	})
}
