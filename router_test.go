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

package gopm3

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

// testConfig is a configuration source tests can change underneath a
// Router.
type testConfig struct {
	specs []ProcessSpec
	err   error
	mx    sync.Mutex
}

func (tc *testConfig) set(specs []ProcessSpec, err error) {
	tc.mx.Lock()
	tc.specs = specs
	tc.err = err
	tc.mx.Unlock()
}

func (tc *testConfig) load() (*Config, error) {
	tc.mx.Lock()
	defer tc.mx.Unlock()
	if tc.err != nil {
		return nil, tc.err
	}
	return &Config{Processes: append([]ProcessSpec(nil), tc.specs...)}, nil
}

// runRouter starts r in the background.  The returned channel delivers
// the result of Run, and is closed after that.
func runRouter(ctx context.Context, r *Router) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- r.Run(ctx)
		close(ch)
	}()
	return ch
}

func TestRouter(t *testing.T) {
	Convey("Given a running router", t, func() {
		s := newTestSupervisor(t)
		tc := &testConfig{}
		tc.set([]ProcessSpec{sleeper("a"), sleeper("b")}, nil)
		r := NewRouter(s, tc.load, zaptest.NewLogger(t))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := runRouter(ctx, r)

		res, e := r.Submit(ctx, ControlCommand{Kind: CmdReload})
		So(e, ShouldBeNil)
		So(res.Added, ShouldResemble, []string{"a", "b"})
		So(testutil.ToFloat64(s.metrics.reloads.WithLabelValues("ok")), ShouldEqual, 1)

		Convey("Commands reach the supervisor", func() {
			_, e := r.Submit(ctx, ControlCommand{Kind: CmdStop, Name: "a"})
			So(e, ShouldBeNil)
			ps, _ := s.Status("a")
			So(ps.State, ShouldEqual, Stopped)

			_, e = r.Submit(ctx, ControlCommand{Kind: CmdStart, Name: "a"})
			So(e, ShouldBeNil)
			ps, _ = s.Status("a")
			So(ps.State, ShouldEqual, Running)

			_, e = r.Submit(ctx, ControlCommand{Kind: CmdRestart, Name: "b"})
			So(e, ShouldBeNil)
			ps, _ = s.Status("b")
			So(ps.Restarts, ShouldEqual, 1)

			_, e = r.Submit(ctx, ControlCommand{Kind: CmdStopAll})
			So(e, ShouldBeNil)
			So(s.Info().Running, ShouldEqual, 0)

			_, e = r.Submit(ctx, ControlCommand{Kind: CmdStart, Name: "zz"})
			So(errors.Is(e, ErrNotFound), ShouldBeTrue)

			_, e = r.Submit(ctx, ControlCommand{Kind: "dance"})
			So(errors.Is(e, ErrNoCommand), ShouldBeTrue)
		})

		Convey("Commands for different processes run side by side", func() {
			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i, n := range []string{"a", "b"} {
				wg.Add(1)
				go func(i int, n string) {
					defer wg.Done()
					_, errs[i] = r.Submit(ctx, ControlCommand{Kind: CmdRestart, Name: n})
				}(i, n)
			}
			wg.Wait()
			So(errs[0], ShouldBeNil)
			So(errs[1], ShouldBeNil)
		})

		Convey("SIGHUP reloads the configuration", func() {
			tc.set([]ProcessSpec{sleeper("a"), sleeper("c")}, nil)
			r.Signal(unix.SIGHUP)
			So(waitFor(3*time.Second, inState(s, "c", Running)), ShouldBeTrue)
			So(waitFor(3*time.Second, func() bool {
				names, _ := s.Names()
				return len(names) == 2 && names[1] == "c"
			}), ShouldBeTrue)
		})

		Convey("A bad configuration is rejected without changes", func() {
			tc.set(nil, &ConfigValidationError{Problems: []string{"nope"}})
			_, e := r.Submit(ctx, ControlCommand{Kind: CmdReload})
			So(IsConfigError(e), ShouldBeTrue)
			names, _ := s.Names()
			So(names, ShouldResemble, []string{"a", "b"})
			So(s.Info().Running, ShouldEqual, 2)
			So(testutil.ToFloat64(s.metrics.reloads.WithLabelValues("error")), ShouldEqual, 1)
		})

		Convey("A shutdown command stops everything and ends Run", func() {
			_, e := r.Submit(ctx, ControlCommand{Kind: CmdShutdown})
			So(e, ShouldBeNil)
			So(<-done, ShouldBeNil)
			for _, ps := range s.Statuses() {
				So(ps.State, ShouldEqual, Stopped)
			}
			_, e = r.Submit(ctx, ControlCommand{Kind: CmdStart, Name: "a"})
			So(errors.Is(e, ErrQueueClosed), ShouldBeTrue)
		})

		Convey("SIGTERM shuts down", func() {
			r.Signal(unix.SIGTERM)
			So(<-done, ShouldBeNil)
			So(s.Info().Running, ShouldEqual, 0)
		})

		Convey("Cancelling the context shuts down", func() {
			cancel()
			So(<-done, ShouldBeNil)
			So(s.ShuttingDown(), ShouldBeTrue)
		})

		Convey("Commands after Run returns are refused every time", func() {
			cancel()
			So(<-done, ShouldBeNil)
			for i := 0; i < 20; i++ {
				sctx, scancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
				_, e := r.Submit(sctx, ControlCommand{Kind: CmdStopAll})
				scancel()
				So(e, ShouldEqual, ErrQueueClosed)
			}
		})

		// Make sure Run is finished whichever way the test went.
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
		}
	})

	Convey("A signal arriving before Run is held for it", t, func() {
		s := newTestSupervisor(t)
		tc := &testConfig{}
		tc.set([]ProcessSpec{sleeper("early")}, nil)
		r := NewRouter(s, tc.load, zaptest.NewLogger(t))
		So(unix.Kill(os.Getpid(), unix.SIGHUP), ShouldBeNil)
		time.Sleep(50 * time.Millisecond)
		So(s.Info().Running, ShouldEqual, 0)

		ctx, cancel := context.WithCancel(context.Background())
		done := runRouter(ctx, r)
		So(waitFor(3*time.Second, inState(s, "early", Running)), ShouldBeTrue)
		cancel()
		So(<-done, ShouldBeNil)
	})

	Convey("A second signal during shutdown kills", t, func() {
		s := newTestSupervisor(t)
		r := NewRouter(s, nil, zaptest.NewLogger(t))
		So(s.Start(ProcessSpec{
			Name:        "stubborn",
			Command:     "sh",
			Args:        []string{"-c", `trap "" TERM; echo ready; while :; do sleep 1; done`},
			StopTimeout: Duration(time.Minute),
		}), ShouldBeNil)
		So(waitFor(2*time.Second, outputContains(s, "stubborn", "ready")), ShouldBeTrue)

		done := runRouter(context.Background(), r)
		r.Signal(unix.SIGINT)
		So(waitFor(2*time.Second, inState(s, "stubborn", Stopping)), ShouldBeTrue)
		start := time.Now()
		r.Signal(unix.SIGINT)
		So(<-done, ShouldBeNil)
		So(time.Since(start), ShouldBeLessThan, 5*time.Second)
		ps, _ := s.Status("stubborn")
		So(ps.ExitSignal, ShouldEqual, "SIGKILL")
	})
}
