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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/crypto/bcrypt"
)

const sampleConfig = `{
  "log_level": "debug",
  "control": {"listen": "127.0.0.1:9000"},
  "processes": [
    {
      "name": "web",
      "command": "node",
      "args": ["server.js", "--port", "8080"],
      "env": {"NODE_ENV": "development"},
      "restart": "on-failure",
      "max_restarts": 5,
      "restart_delay": "250ms",
      "stop_timeout": "3s"
    },
    {
      "name": "tsc:watch",
      "command": "tsc",
      "args": ["--watch"],
      "health_check": {"command": "true"}
    }
  ]
}`

func TestParseConfig(t *testing.T) {
	Convey("A full configuration parses", t, func() {
		cfg, e := ParseConfig([]byte(sampleConfig), FormatJSON)
		So(e, ShouldBeNil)
		So(cfg.Names(), ShouldResemble, []string{"web", "tsc:watch"})
		So(cfg.LogLevel, ShouldEqual, "debug")
		So(cfg.Control.Listen, ShouldEqual, "127.0.0.1:9000")

		web := cfg.Processes[0]
		So(web.Args, ShouldResemble, []string{"server.js", "--port", "8080"})
		So(web.Env["NODE_ENV"], ShouldEqual, "development")
		So(web.Restart, ShouldEqual, RestartOnFailure)
		So(web.MaxRestarts, ShouldEqual, 5)
		So(web.RestartDelay.Std(), ShouldEqual, 250*time.Millisecond)
		So(web.StopTimeout.Std(), ShouldEqual, 3*time.Second)

		Convey("Defaults are filled in", func() {
			tsc := cfg.Processes[1]
			So(tsc.Restart, ShouldEqual, RestartAlways)
			So(tsc.RestartDelay.Std(), ShouldEqual, DefaultRestartDelay)
			So(tsc.MaxRestartDelay.Std(), ShouldEqual, DefaultMaxRestartDelay)
			So(tsc.StopSignal, ShouldEqual, "TERM")
			So(tsc.StopTimeout.Std(), ShouldEqual, DefaultStopTimeout)
			So(tsc.UseProcessGroup(), ShouldBeTrue)
			So(tsc.Env, ShouldBeNil)
			So(tsc.HealthCheck.Interval.Std(), ShouldEqual, DefaultHealthInterval)
			So(tsc.HealthCheck.Retries, ShouldEqual, DefaultHealthRetries)
		})

		Convey("And survives a round trip", func() {
			for _, f := range []Format{FormatJSON, FormatYAML} {
				b, e := cfg.Marshal(f)
				So(e, ShouldBeNil)
				again, e := ParseConfig(b, f)
				So(e, ShouldBeNil)
				So(len(again.Processes), ShouldEqual, len(cfg.Processes))
				for i := range cfg.Processes {
					So(again.Processes[i].Equal(cfg.Processes[i]), ShouldBeTrue)
				}
			}
		})
	})

	Convey("The original array format parses", t, func() {
		cfg, e := ParseConfig([]byte(`[
			{"name": "api", "command": "go", "args": ["run", "."], "restart_delay": 1000},
			{"name": "db", "command": "postgres", "use_process_group": true}
		]`), FormatJSON)
		So(e, ShouldBeNil)
		So(cfg.Names(), ShouldResemble, []string{"api", "db"})
		So(cfg.Processes[0].RestartDelay.Std(), ShouldEqual, time.Second)
		So(cfg.Processes[0].UseProcessGroup(), ShouldBeTrue)
		So(cfg.Processes[1].UseProcessGroup(), ShouldBeFalse)
		So(cfg.Processes[1].LegacyNoGroup, ShouldBeFalse)
		So(cfg.Control.Listen, ShouldEqual, DefaultListen)
	})

	Convey("YAML parses to the same specs as JSON", t, func() {
		y := `
processes:
  - name: web
    command: node
    args: [server.js, --port, "8080"]
    env:
      NODE_ENV: development
    restart: on-failure
    max_restarts: 5
    restart_delay: 250ms
    stop_timeout: 3s
  - name: "tsc:watch"
    command: tsc
    args: [--watch]
    health_check:
      command: "true"
`
		a, e := ParseConfig([]byte(y), FormatYAML)
		So(e, ShouldBeNil)
		b, e := ParseConfig([]byte(sampleConfig), FormatJSON)
		So(e, ShouldBeNil)
		So(len(a.Processes), ShouldEqual, 2)
		So(a.Processes[0].Equal(b.Processes[0]), ShouldBeTrue)
		So(a.Processes[1].Equal(b.Processes[1]), ShouldBeTrue)
	})

	Convey("YAML numbers are milliseconds too", t, func() {
		cfg, e := ParseConfig([]byte("- name: a\n  command: x\n  restart_delay: 1500\n"), FormatYAML)
		So(e, ShouldBeNil)
		So(cfg.Processes[0].RestartDelay.Std(), ShouldEqual, 1500*time.Millisecond)
	})
}

func TestConfigErrors(t *testing.T) {
	Convey("Malformed JSON is a parse error with a position", t, func() {
		_, e := ParseConfig([]byte("{\n  \"processes\": [\n    {\"name\": }\n  ]\n}"), FormatJSON)
		var pe *ConfigParseError
		So(errors.As(e, &pe), ShouldBeTrue)
		So(pe.Line, ShouldEqual, 3)
		So(IsConfigError(e), ShouldBeTrue)
	})

	Convey("Empty input is a parse error", t, func() {
		_, e := ParseConfig([]byte("  \n"), FormatJSON)
		var pe *ConfigParseError
		So(errors.As(e, &pe), ShouldBeTrue)
	})

	Convey("A bad duration is a parse error", t, func() {
		_, e := ParseConfig([]byte(`[{"name": "a", "command": "x", "stop_timeout": "soon"}]`), FormatJSON)
		var pe *ConfigParseError
		So(errors.As(e, &pe), ShouldBeTrue)
	})

	Convey("Every problem is reported at once", t, func() {
		_, e := ParseConfig([]byte(`[
			{"name": "a", "command": "x"},
			{"name": "a", "command": "y"},
			{"name": "b"},
			{"command": "z"},
			{"name": "bad name", "command": "x"},
			{"name": "c", "command": "x", "restart": "sometimes"},
			{"name": "d", "command": "x", "max_restarts": -1},
			{"name": "e", "command": "x", "stop_signal": "BOGUS"}
		]`), FormatJSON)
		var ve *ConfigValidationError
		So(errors.As(e, &ve), ShouldBeTrue)
		So(IsConfigError(e), ShouldBeTrue)
		So(len(ve.Problems), ShouldEqual, 7)
		So(e.Error(), ShouldContainSubstring, `duplicate process name "a"`)
		So(e.Error(), ShouldContainSubstring, "processes[2].command is required")
		So(e.Error(), ShouldContainSubstring, "processes[3].name is required")
		So(e.Error(), ShouldContainSubstring, "processes[5].restart must be one of")
		So(e.Error(), ShouldContainSubstring, "unknown signal")
	})

	Convey("Signal names are accepted with or without SIG", t, func() {
		cfg, e := ParseConfig([]byte(`[
			{"name": "a", "command": "x", "stop_signal": "SIGINT"},
			{"name": "b", "command": "x", "stop_signal": "quit"}
		]`), FormatJSON)
		So(e, ShouldBeNil)
		So(cfg.Processes[0].StopSignal, ShouldEqual, "INT")
		So(cfg.Processes[1].StopSignal, ShouldEqual, "QUIT")
	})

	Convey("Control auth is checked", t, func() {
		_, e := ParseConfig([]byte(`{"control": {"password_hash": "nope"}, "processes": []}`), FormatJSON)
		var ve *ConfigValidationError
		So(errors.As(e, &ve), ShouldBeTrue)
		So(len(ve.Problems), ShouldEqual, 2)

		hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
		_, e = ParseConfig([]byte(`{"control": {"user": "admin", "password_hash": "`+string(hash)+`"}, "processes": []}`), FormatJSON)
		So(e, ShouldBeNil)
	})
}

func TestLoadConfig(t *testing.T) {
	Convey("Loading from files", t, func() {
		dir := t.TempDir()

		Convey("A missing file is an error, but not a config error", func() {
			_, e := LoadConfig(filepath.Join(dir, "nope.json"))
			So(e, ShouldNotBeNil)
			So(IsConfigError(e), ShouldBeFalse)
		})

		Convey("The extension picks the format", func() {
			p := filepath.Join(dir, "gopm3.yml")
			So(os.WriteFile(p, []byte("- name: a\n  command: x\n"), 0o644), ShouldBeNil)
			cfg, e := LoadConfig(p)
			So(e, ShouldBeNil)
			So(cfg.Path(), ShouldEqual, p)
			So(cfg.Names(), ShouldResemble, []string{"a"})
		})

		Convey("Errors name the file", func() {
			p := filepath.Join(dir, "gopm3.config.json")
			So(os.WriteFile(p, []byte(`[{"name": "a"}]`), 0o644), ShouldBeNil)
			_, e := LoadConfig(p)
			So(e, ShouldNotBeNil)
			So(e.Error(), ShouldStartWith, p)
		})
	})
}
