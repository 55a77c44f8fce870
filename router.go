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
	"os"
	"os/signal"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CommandKind names a control operation.
type CommandKind string

const (
	CmdStart    CommandKind = "start"
	CmdStop     CommandKind = "stop"
	CmdStopAll  CommandKind = "stop-all"
	CmdRestart  CommandKind = "restart"
	CmdReload   CommandKind = "reload"
	CmdShutdown CommandKind = "shutdown"
)

// ControlCommand is a request for the Router.  Grace, when positive,
// overrides the stop timeout of the affected processes.
type ControlCommand struct {
	Kind  CommandKind
	Name  string
	Grace time.Duration
	Reply chan<- Reply
}

// Reply carries the outcome of a ControlCommand.  Result is only set for
// reloads that got as far as reconciling.
type Reply struct {
	Result *ReconcileResult
	Err    error
}

// Router is the only way state changing requests reach a Supervisor
// while it runs under the daemon.  Operating system signals and control
// requests alike are turned into ControlCommands on one queue, and
// dispatched from there.
//
// Commands run concurrently; the Supervisor serializes commands aimed at
// the same process.  SIGHUP reloads the configuration.  SIGINT or
// SIGTERM shut everything down, in reverse order, after which Run
// returns.  A second SIGINT or SIGTERM during shutdown kills whatever is
// still running.
type Router struct {
	sup     *Supervisor
	load    func() (*Config, error)
	logger  *zap.Logger
	grace   time.Duration
	queue   chan ControlCommand
	signals chan os.Signal
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewRouter returns a Router for sup.  load is called for every reload;
// normally it is LoadConfig on the configuration file.
//
// The routed signals are captured from here on, so a SIGINT arriving
// before Run is held for it rather than killing the daemon outright.
// Run releases them when it returns.
func NewRouter(sup *Supervisor, load func() (*Config, error), logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		sup:     sup,
		load:    load,
		logger:  logger.Named("router"),
		queue:   make(chan ControlCommand),
		signals: make(chan os.Signal, 4),
		done:    make(chan struct{}),
	}
	signal.Notify(r.signals, routedSignals...)
	return r
}

// SetShutdownGrace sets the grace used for signal initiated shutdowns.
// By default every process gets its own stop_timeout.
func (r *Router) SetShutdownGrace(d time.Duration) {
	r.grace = d
}

// Signal delivers sig to the router as if it came from the operating
// system.  It never blocks; if the router is hopelessly behind, the
// signal is dropped just like a coalesced OS signal would be.
func (r *Router) Signal(sig os.Signal) {
	select {
	case r.signals <- sig:
	default:
	}
}

// Submit hands cmd to Run and waits for its reply.  The queue is
// unbuffered, so a command is either taken by Run or refused with
// ErrQueueClosed once Run has returned; none are left behind.
func (r *Router) Submit(ctx context.Context, cmd ControlCommand) (*ReconcileResult, error) {
	reply := make(chan Reply, 1)
	cmd.Reply = reply
	select {
	case r.queue <- cmd:
	case <-r.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rep := <-reply:
		return rep.Result, rep.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes signals and commands until the supervisor has been shut
// down, either by a signal, a shutdown command, or ctx being cancelled.
// It returns the error from the shutdown, if any.
func (r *Router) Run(ctx context.Context) error {
	defer signal.Stop(r.signals)
	defer r.once.Do(func() { close(r.done) })

	var waiters []chan<- Reply
	var finished chan error
	ctxDone := ctx.Done()

	beginShutdown := func(why string) {
		if finished != nil {
			return
		}
		r.logger.Info("shutdown requested", zap.String("by", why))
		finished = make(chan error, 1)
		go func() {
			finished <- r.sup.Shutdown(r.grace)
		}()
	}

	for {
		select {
		case <-ctxDone:
			ctxDone = nil
			beginShutdown("context")

		case sig := <-r.signals:
			switch {
			case isReloadSignal(sig):
				r.logger.Info("reload requested", zap.Stringer("signal", sig))
				r.wg.Add(1)
				go r.dispatch(ControlCommand{Kind: CmdReload})
			case finished != nil:
				r.logger.Warn("second signal during shutdown, killing", zap.Stringer("signal", sig))
				r.sup.KillAll()
			default:
				beginShutdown(sig.String())
			}

		case cmd := <-r.queue:
			if cmd.Kind == CmdShutdown {
				if cmd.Reply != nil {
					waiters = append(waiters, cmd.Reply)
				}
				beginShutdown("request")
				continue
			}
			r.wg.Add(1)
			go r.dispatch(cmd)

		case e := <-finished:
			r.wg.Wait()
			for _, w := range waiters {
				w <- Reply{Err: e}
			}
			r.logger.Info("shutdown complete")
			return e
		}
	}
}

func (r *Router) dispatch(cmd ControlCommand) {
	defer r.wg.Done()
	rep := r.execute(cmd)
	if rep.Err != nil {
		r.logger.Warn("command failed", zap.String("kind", string(cmd.Kind)),
			zap.String("process", cmd.Name), zap.Error(rep.Err))
	}
	if cmd.Reply != nil {
		cmd.Reply <- rep
	}
}

func (r *Router) execute(cmd ControlCommand) Reply {
	switch cmd.Kind {
	case CmdStart:
		return Reply{Err: r.sup.StartName(cmd.Name)}
	case CmdStop:
		return Reply{Err: r.sup.Stop(cmd.Name, cmd.Grace)}
	case CmdRestart:
		return Reply{Err: r.sup.Restart(cmd.Name)}
	case CmdStopAll:
		return Reply{Err: r.sup.StopAll(cmd.Grace)}
	case CmdReload:
		res, e := r.reload()
		return Reply{Result: res, Err: e}
	}
	return Reply{Err: fmt.Errorf("%q: %w", cmd.Kind, ErrNoCommand)}
}

// reload loads the configuration again and reconciles.  A configuration
// that does not load leaves everything as it was.
func (r *Router) reload() (*ReconcileResult, error) {
	if r.load == nil {
		return nil, fmt.Errorf("reload: no configuration source")
	}
	cfg, e := r.load()
	r.sup.Metrics().Reloaded(e)
	if e != nil {
		r.logger.Error("reload rejected", zap.Error(e))
		return nil, e
	}
	res, e := r.sup.Reconcile(cfg.Processes)
	r.logger.Info("reloaded",
		zap.Strings("added", res.Added),
		zap.Strings("changed", res.Changed),
		zap.Strings("removed", res.Removed))
	return &res, e
}
