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

package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hspak/gopm3"
	"github.com/hspak/gopm3/rest"
)

// execute runs the command line args and returns what it printed.
func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	e := root.Execute()
	return out.String(), e
}

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "gopm3.config.json")
	if e := os.WriteFile(path, []byte(body), 0o644); e != nil {
		t.Fatal(e)
	}
	return path
}

func TestExitCode(t *testing.T) {
	Convey("Errors map to exit codes", t, func() {
		So(exitCode(nil), ShouldEqual, 0)
		So(exitCode(fmt.Errorf("boom")), ShouldEqual, exitFailure)
		So(exitCode(&gopm3.ConfigValidationError{Problems: []string{"x"}}), ShouldEqual, exitConfig)
		So(exitCode(fmt.Errorf("load: %w", &gopm3.ConfigParseError{Err: fmt.Errorf("eof")})), ShouldEqual, exitConfig)
		So(exitCode(&gopm3.SpawnError{Name: "x", Err: os.ErrNotExist}), ShouldEqual, exitSpawn)
		So(exitCode(&rest.Error{Code: http.StatusBadRequest, Kind: rest.KindConfig}), ShouldEqual, exitConfig)
		So(exitCode(&rest.Error{Code: http.StatusInternalServerError, Kind: rest.KindSpawn}), ShouldEqual, exitSpawn)
		So(exitCode(&rest.Error{Code: http.StatusNotFound, Kind: rest.KindNotFound}), ShouldEqual, exitFailure)
	})
}

func TestAddresses(t *testing.T) {
	Convey("The control address comes from the flag, then the config", t, func() {
		cfg := &gopm3.Config{}
		So(listenAddr("", nil), ShouldEqual, gopm3.DefaultListen)
		So(listenAddr("", cfg), ShouldEqual, gopm3.DefaultListen)
		cfg.Control.Listen = ":9000"
		So(listenAddr("", cfg), ShouldEqual, ":9000")
		So(listenAddr("127.0.0.1:7000", cfg), ShouldEqual, "127.0.0.1:7000")
		So(listenAddr("http://localhost:7000", cfg), ShouldEqual, "localhost:7000")

		So(clientURL("", nil), ShouldEqual, "http://"+gopm3.DefaultListen)
		So(clientURL("", cfg), ShouldEqual, "http://127.0.0.1:9000")
		So(clientURL("http://example:1/", cfg), ShouldEqual, "http://example:1")
		So(clientURL("0.0.0.0:80", nil), ShouldEqual, "http://127.0.0.1:80")
	})
}

func TestValidate(t *testing.T) {
	Convey("validate checks a configuration file", t, func() {
		good := writeConfig(t, `{"processes": [
			{"name": "a", "command": "true"},
			{"name": "b", "command": "true"}]}`)
		out, e := execute("validate", good)
		So(e, ShouldBeNil)
		So(out, ShouldContainSubstring, "ok, 2 processes: a b")

		Convey("The -c flag names the default file", func() {
			out, e := execute("-c", good, "validate")
			So(e, ShouldBeNil)
			So(out, ShouldContainSubstring, "ok, 2 processes")
		})

		Convey("Bad files exit with the config status", func() {
			bad := writeConfig(t, `{"processes": [{"name": "a"}, {"name": "a", "command": "x"}]}`)
			_, e := execute("validate", bad)
			So(e, ShouldNotBeNil)
			So(exitCode(e), ShouldEqual, exitConfig)

			_, e = execute("validate", filepath.Join(t.TempDir(), "missing.json"))
			So(e, ShouldNotBeNil)
			So(exitCode(e), ShouldEqual, exitFailure)
		})
	})

	Convey("stop needs names or --all", t, func() {
		_, e := execute("-a", "http://127.0.0.1:1", "stop")
		So(e, ShouldNotBeNil)
		_, e = execute("-a", "http://127.0.0.1:1", "stop", "--all", "web")
		So(e, ShouldNotBeNil)
	})

	Convey("Bad credentials are rejected before connecting", t, func() {
		_, e := execute("-a", "http://127.0.0.1:1", "-u", "nopass", "status")
		So(e, ShouldNotBeNil)
		So(e.Error(), ShouldContainSubstring, "user:pass")
	})
}
