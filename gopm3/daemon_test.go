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

//go:build !windows

package main

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hspak/gopm3"
	"github.com/hspak/gopm3/rest"
)

// freeAddr finds a loopback port nothing is listening on.
func freeAddr(t *testing.T) string {
	ln, e := net.Listen("tcp", "127.0.0.1:0")
	if e != nil {
		t.Fatal(e)
	}
	a := ln.Addr().String()
	ln.Close()
	return a
}

func waitUp(client *rest.Client) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, e := client.Info(ctx)
		cancel()
		if e == nil || time.Now().After(deadline) {
			return e
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// logContains polls the output of a process through the log command.
func logContains(path, name, text string) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if out, e := execute("-c", path, "log", name); e == nil && strings.Contains(out, text) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

func TestDaemon(t *testing.T) {
	Convey("Given a running supervisor", t, func() {
		listen := freeAddr(t)
		path := writeConfig(t, fmt.Sprintf(`{
			"control": {"listen": %q},
			"processes": [
				{"name": "web", "command": "sleep", "args": ["60"], "stop_timeout": "2s"},
				{"name": "once", "command": "sh", "args": ["-c", "echo hello"], "restart": "never"}
			]}`, listen))

		done := make(chan error, 1)
		go func() {
			_, e := execute("-c", path, "--watch=false", "--log-level", "warn")
			done <- e
		}()
		client := rest.NewClient(nil, "http://"+listen)
		So(waitUp(client), ShouldBeNil)

		Convey("Client commands find it through the config file", func() {
			out, e := execute("-c", path, "status")
			So(e, ShouldBeNil)
			So(out, ShouldContainSubstring, "web")
			So(out, ShouldContainSubstring, "once")

			out, e = execute("-c", path, "info", "web")
			So(e, ShouldBeNil)
			So(out, ShouldContainSubstring, "sleep 60")

			_, e = execute("-c", path, "stop", "web")
			So(e, ShouldBeNil)
			p, e := client.GetProcess(context.Background(), "web")
			So(e, ShouldBeNil)
			So(p.State, ShouldEqual, gopm3.Stopped)

			_, e = execute("-c", path, "start", "web")
			So(e, ShouldBeNil)

			_, e = execute("-c", path, "restart", "nosuch")
			So(e, ShouldNotBeNil)
			So(exitCode(e), ShouldEqual, exitFailure)

			So(logContains(path, "once", "[stdout] hello"), ShouldBeTrue)

			out, e = execute("-c", path, "reload")
			So(e, ShouldBeNil)
			So(out, ShouldContainSubstring, "unchanged: web once")
		})

		Reset(func() {
			_, e := execute("-c", path, "shutdown")
			So(e, ShouldBeNil)
			select {
			case e := <-done:
				So(e, ShouldBeNil)
			case <-time.After(10 * time.Second):
				t.Fatal("supervisor did not exit")
			}
		})
	})
}
