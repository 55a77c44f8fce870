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

package util

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hspak/gopm3"
	"github.com/hspak/gopm3/rest"
)

func info(name string, st gopm3.State) *rest.ProcessInfo {
	p := &rest.ProcessInfo{}
	p.Name = name
	p.State = st
	return p
}

func TestFormatDuration(t *testing.T) {
	Convey("Durations format as h:mm:ss", t, func() {
		So(FormatDuration(0), ShouldEqual, "0:00:00")
		So(FormatDuration(61*time.Second), ShouldEqual, "0:01:01")
		So(FormatDuration(26*time.Hour+3*time.Minute+4*time.Second),
			ShouldEqual, "26:03:04")
		So(FormatDuration(-time.Second), ShouldEqual, "0:00:00")
	})
}

func TestStatus(t *testing.T) {
	Convey("Status flags health and pending restarts", t, func() {
		p := info("web", gopm3.Running)
		So(Status(p), ShouldEqual, "running")
		p.Health = gopm3.HealthUnhealthy
		So(Status(p), ShouldEqual, "running!")

		c := info("worker", gopm3.Crashed)
		c.Pending = true
		c.ExitCode = 3
		c.Stopped = time.Now()
		So(Status(c), ShouldEqual, "crashed*")
		So(Detail(c), ShouldEqual, "exit 3, restart pending")

		k := info("killed", gopm3.Crashed)
		k.ExitSignal = "SIGKILL"
		k.ExitCode = -1
		k.Stopped = time.Now()
		So(Detail(k), ShouldEqual, "signal SIGKILL")
	})
}

func TestSortProcesses(t *testing.T) {
	Convey("Sorting puts trouble first", t, func() {
		items := []*rest.ProcessInfo{
			info("b", gopm3.Running),
			info("a", gopm3.Stopped),
			info("c", gopm3.Failed),
			info("a", gopm3.Running),
			info("d", gopm3.Crashed),
		}
		SortProcesses(items)
		names := []string{}
		for _, p := range items {
			names = append(names, p.Name+":"+p.State.String())
		}
		So(names, ShouldResemble, []string{
			"c:failed", "d:crashed", "a:running", "b:running", "a:stopped",
		})
		c := Count(items)
		So(c.Total, ShouldEqual, 5)
		So(c.Running, ShouldEqual, 2)
		So(c.Failed, ShouldEqual, 1)
		So(c.Crashed, ShouldEqual, 1)
		So(c.Stopped, ShouldEqual, 1)
	})
}
