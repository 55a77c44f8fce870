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

package rest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/crypto/bcrypt"

	"github.com/hspak/gopm3"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	tl.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func sleeper(name string) gopm3.ProcessSpec {
	return gopm3.ProcessSpec{Name: name, Command: "sleep", Args: []string{"100"}}
}

// newTestServer runs a supervisor with a router behind an httptest
// server.  Everything is torn down when the test ends.
func newTestServer(t *testing.T, cc gopm3.ControlConfig, specs ...gopm3.ProcessSpec) (*gopm3.Supervisor, *httptest.Server, <-chan error) {
	ring := gopm3.NewLog(0)
	logger, e := gopm3.NewLogger("debug", &testLog{t}, ring)
	if e != nil {
		t.Fatal(e)
	}
	sup := gopm3.NewSupervisor(gopm3.Options{Name: "rest", Logger: logger, Log: ring})
	r := gopm3.NewRouter(sup, func() (*gopm3.Config, error) {
		return &gopm3.Config{Processes: specs}, nil
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(NewHandler(sup, r, cc))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		sup.Close()
	})
	if _, e := r.Submit(ctx, gopm3.ControlCommand{Kind: gopm3.CmdReload}); e != nil {
		t.Fatalf("initial reload: %v", e)
	}
	return sup, srv, done
}

func TestClientServer(t *testing.T) {
	Convey("Given a control API", t, func() {
		sup, srv, done := newTestServer(t, gopm3.ControlConfig{}, sleeper("a"), sleeper("b"))
		c := NewClient(nil, srv.URL)
		ctx := context.Background()

		Convey("Info describes the supervisor", func() {
			info, e := c.Info(ctx)
			So(e, ShouldBeNil)
			So(info.Name, ShouldEqual, "rest")
			So(info.Processes, ShouldEqual, 2)
			So(info.Running, ShouldEqual, 2)
		})

		Convey("Processes come back in order", func() {
			names, e := c.Processes(ctx)
			So(e, ShouldBeNil)
			So(names, ShouldResemble, []string{"a", "b"})

			st, e := c.Statuses(ctx)
			So(e, ShouldBeNil)
			So(len(st), ShouldEqual, 2)
			So(st[0].Name, ShouldEqual, "a")
			So(st[0].State, ShouldEqual, gopm3.Running)
			So(st[0].Spec.Command, ShouldEqual, "sleep")
		})

		Convey("Control requests work", func() {
			So(c.StopProcess(ctx, "a", time.Second), ShouldBeNil)
			p, e := c.GetProcess(ctx, "a")
			So(e, ShouldBeNil)
			So(p.State, ShouldEqual, gopm3.Stopped)

			So(c.StartProcess(ctx, "a"), ShouldBeNil)
			So(c.RestartProcess(ctx, "b"), ShouldBeNil)
			ps, _ := sup.Status("b")
			So(ps.Restarts, ShouldEqual, 1)

			res, e := c.Reload(ctx)
			So(e, ShouldBeNil)
			So(res.Unchanged, ShouldResemble, []string{"a", "b"})

			So(c.StopAll(ctx, 0), ShouldBeNil)
			So(sup.Info().Running, ShouldEqual, 0)
		})

		Convey("Unknown processes are 404", func() {
			_, e := c.GetProcess(ctx, "nope")
			So(e, ShouldNotBeNil)
			ae, ok := e.(*Error)
			So(ok, ShouldBeTrue)
			So(ae.Code, ShouldEqual, http.StatusNotFound)

			e = c.StartProcess(ctx, "nope")
			ae, ok = e.(*Error)
			So(ok, ShouldBeTrue)
			So(ae.Kind, ShouldEqual, KindNotFound)
		})

		Convey("Bad timeouts are refused", func() {
			res, e := http.Post(srv.URL+"/processes/a/stop?timeout=soon", "text/plain", nil)
			So(e, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A watch returns when the process changes", func() {
			p, e := c.GetProcess(ctx, "a")
			So(e, ShouldBeNil)
			time.AfterFunc(50*time.Millisecond, func() { sup.Stop("a", 0) })
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			start := time.Now()
			p2, e := c.WatchProcess(wctx, "a", p)
			So(e, ShouldBeNil)
			So(p2.Serial, ShouldNotEqual, p.Serial)
			So(time.Since(start), ShouldBeLessThan, 5*time.Second)
		})

		Convey("Unchanged resources are not sent twice", func() {
			req, _ := http.NewRequest("GET", srv.URL+"/processes", nil)
			res, e := http.DefaultClient.Do(req)
			So(e, ShouldBeNil)
			io.Copy(io.Discard, res.Body)
			res.Body.Close()
			tag := res.Header.Get("Etag")
			So(tag, ShouldNotBeEmpty)

			req.Header.Set("If-None-Match", tag)
			res, e = http.DefaultClient.Do(req)
			So(e, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusNotModified)
		})

		Convey("Logs are served", func() {
			l, e := c.GetLog(ctx, "")
			So(e, ShouldBeNil)
			So(l.Records, ShouldNotBeEmpty)

			l, e = c.GetLog(ctx, "a")
			So(e, ShouldBeNil)
			So(l.Name, ShouldEqual, "a")
		})

		Convey("Metrics are served", func() {
			res, e := http.Get(srv.URL + "/metrics")
			So(e, ShouldBeNil)
			body, _ := io.ReadAll(res.Body)
			res.Body.Close()
			So(string(body), ShouldContainSubstring, `gopm3_process_starts_total{process="a"} 1`)
		})

		Convey("Shutdown ends the daemon", func() {
			So(c.Shutdown(ctx), ShouldBeNil)
			So(<-done, ShouldBeNil)
			So(sup.Info().Running, ShouldEqual, 0)
		})
	})
}

func TestAuth(t *testing.T) {
	Convey("With a password set", t, func() {
		hash, e := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
		So(e, ShouldBeNil)
		_, srv, _ := newTestServer(t, gopm3.ControlConfig{User: "ali", PasswordHash: string(hash)})
		c := NewClient(nil, srv.URL)

		Convey("Anonymous requests are refused", func() {
			_, e := c.Info(context.Background())
			ae, ok := e.(*Error)
			So(ok, ShouldBeTrue)
			So(ae.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("Wrong passwords are refused", func() {
			c.SetAuth("ali", "open")
			_, e := c.Info(context.Background())
			So(e, ShouldNotBeNil)
		})

		Convey("The right password works", func() {
			c.SetAuth("ali", "sesame")
			info, e := c.Info(context.Background())
			So(e, ShouldBeNil)
			So(info.Name, ShouldEqual, "rest")
		})
	})
}
