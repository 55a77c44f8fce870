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

package ui

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hspak/gopm3"
	"github.com/hspak/gopm3/gopm3/util"
	"github.com/hspak/gopm3/rest"
)

func proc(name string, st gopm3.State) *rest.ProcessInfo {
	p := &rest.ProcessInfo{}
	p.Name = name
	p.State = st
	p.Stamp = time.Now()
	p.Spec = gopm3.ProcessSpec{Name: name, Command: "sleep", Args: []string{"60"},
		Restart: gopm3.RestartAlways, StopSignal: "TERM",
		StopTimeout: gopm3.Duration(10 * time.Second)}
	return p
}

func TestKeyMarkup(t *testing.T) {
	Convey("Key names are highlighted", t, func() {
		So(keyMarkup([]string{"[Q] Quit", "[ESC] Main"}),
			ShouldEqual, "[%AQ%N] Quit [%AESC%N] Main")
		So(keyMarkup([]string{"100% [X]"}), ShouldEqual, "100%% [%AX%N]")
		So(keyMarkup(nil), ShouldEqual, "")
	})
}

func TestLevels(t *testing.T) {
	Convey("The status level follows the worst process", t, func() {
		So(levelFor(util.Counts{}), ShouldEqual, levelNormal)
		So(levelFor(util.Counts{Total: 2, Running: 2}), ShouldEqual, levelGood)
		So(levelFor(util.Counts{Total: 2, Running: 1, Stopped: 1}), ShouldEqual, levelWarn)
		So(levelFor(util.Counts{Total: 2, Running: 1, Crashed: 1}), ShouldEqual, levelError)
		So(levelFor(util.Counts{Total: 1, Failed: 1}), ShouldEqual, levelError)
	})

	Convey("Process lines are colored by state", t, func() {
		run := proc("web", gopm3.Running)
		So(styleFor(run), ShouldEqual, StyleGood)
		run.Health = gopm3.HealthUnhealthy
		So(styleFor(run), ShouldEqual, StyleWarn)
		So(styleFor(proc("x", gopm3.Crashed)), ShouldEqual, StyleError)
		So(styleFor(proc("x", gopm3.Stopped)), ShouldEqual, StyleNormal)
	})
}

func TestLines(t *testing.T) {
	Convey("A process line has name, state and pid", t, func() {
		p := proc("web", gopm3.Running)
		p.Pid = 4242
		p.Restarts = 2
		l := processLine(p)
		So(l, ShouldStartWith, "web ")
		So(l, ShouldContainSubstring, "running")
		So(l, ShouldContainSubstring, "4242")
		So(l, ShouldContainSubstring, "0:00:00")
	})

	Convey("Info shows the command and stop settings", t, func() {
		p := proc("web", gopm3.Stopped)
		text := strings.Join(infoLines(p), "\n")
		So(text, ShouldContainSubstring, "sleep 60")
		So(text, ShouldContainSubstring, "SIGTERM, 10s")
		So(text, ShouldNotContainSubstring, "Pid:")
	})

	Convey("Log lines mark standard error", t, func() {
		r := rest.LogRecord{Time: time.Now(), Stream: "stderr", Text: "boom"}
		So(logLine(r), ShouldEndWith, " ! boom")
		r.Stream = "stdout"
		So(logLine(r), ShouldEndWith, "   boom")
	})

	Convey("Authorization failures get a hint", t, func() {
		e := &rest.Error{Code: http.StatusUnauthorized, Kind: rest.KindAuth, Message: "unauthorized"}
		So(describeError(e), ShouldContainSubstring, "-u user:pass")
		So(describeError(errors.New("refused")), ShouldContainSubstring, "refused")
	})
}
