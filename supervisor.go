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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultKillGrace is how long we wait for a process to go away after
// SIGKILL before reporting it as stuck.
const DefaultKillGrace = 5 * time.Second

// Options configure a Supervisor.  The zero value is usable.
type Options struct {
	// Name distinguishes supervisor instances in logs and the API.
	Name string

	// Logger receives supervisor events.  A no-op logger is used when nil.
	Logger *zap.Logger

	// Log is the in-memory ring of supervisor messages served by the
	// control API.  Normally it is the same ring handed to NewLogger.
	Log *Log

	// LogDir, when set, gets one rotating <name>.log file per process.
	LogDir string

	// KillGrace overrides DefaultKillGrace.
	KillGrace time.Duration
}

// Supervisor owns a set of processes.  It spawns them, watches them with
// one monitor goroutine each, and restarts them according to their
// RestartPolicy.  All methods are safe for concurrent use.
//
// Processes are kept in registry order, which is the order of the last
// configuration handed to Reconcile.  Bulk stops go in reverse order.
type Supervisor struct {
	name      string
	logger    *zap.Logger
	log       *Log
	logDir    string
	killGrace time.Duration
	metrics   *Metrics

	procs      map[string]*instance
	order      []string
	closing    bool
	serial     int64
	listSerial int64
	createTime time.Time
	updateTime time.Time
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool

	reconcileMx sync.Mutex
	wg          sync.WaitGroup
}

func NewSupervisor(opts Options) *Supervisor {
	if opts.Name == "" {
		opts.Name = "gopm3"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Log == nil {
		opts.Log = NewLog(MaxLogRecords)
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	now := time.Now()
	// The origin serial is the current time in nanoseconds, so that a
	// client caching serials notices when the supervisor was restarted.
	return &Supervisor{
		name:       opts.Name,
		logger:     opts.Logger.Named("supervisor"),
		log:        opts.Log,
		logDir:     opts.LogDir,
		killGrace:  opts.KillGrace,
		metrics:    NewMetrics(),
		procs:      make(map[string]*instance),
		cvs:        make(map[*sync.Cond]bool),
		serial:     now.UnixNano(),
		listSerial: now.UnixNano(),
		createTime: now,
		updateTime: now,
	}
}

func (s *Supervisor) lock() {
	s.mx.Lock()
}

func (s *Supervisor) unlock() {
	s.mx.Unlock()
}

// Name returns the name the supervisor was created with.
func (s *Supervisor) Name() string {
	return s.name
}

// Metrics returns the supervisor's Prometheus collectors.
func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}

// Logger returns the supervisor's logger.
func (s *Supervisor) Logger() *zap.Logger {
	return s.logger
}

// bump records a change to inst and wakes up watchers.  Call with lock
// held.
func (s *Supervisor) bump(inst *instance) {
	s.updateTime = time.Now()
	s.serial++
	if inst != nil {
		inst.stamp = s.updateTime
		inst.serial = s.serial
	}
	// NB: the lock must be held here, otherwise the woken goroutines
	// may not see the updated serial number.
	for cv := range s.cvs {
		cv.Broadcast()
	}
}

// bumpList records a change to the set or order of processes.  Call with
// lock held.
func (s *Supervisor) bumpList() {
	s.bump(nil)
	s.listSerial = s.serial
}

func (s *Supervisor) setState(inst *instance, st State, reason string) {
	inst.state = st
	inst.reason = reason
	s.bump(inst)
}

func (s *Supervisor) find(name string) (*instance, error) {
	s.lock()
	defer s.unlock()
	if inst, ok := s.procs[name]; ok {
		return inst, nil
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// register returns the instance for spec.Name, creating it at the end of
// the registry if needed.  An existing instance that is not running takes
// on the new spec.
func (s *Supervisor) register(spec ProcessSpec) (*instance, error) {
	s.lock()
	defer s.unlock()
	if s.closing {
		return nil, ErrShuttingDown
	}
	if inst, ok := s.procs[spec.Name]; ok {
		if !inst.state.Live() && !inst.spec.Equal(spec) {
			inst.spec = spec
			inst.bo = newBackoff(spec)
			s.bump(inst)
		}
		return inst, nil
	}
	inst := newInstance(spec)
	if s.logDir != "" {
		if f, e := openProcessLog(s.logDir, spec.Name); e != nil {
			s.logger.Warn("cannot open process log file",
				zap.String("process", spec.Name), zap.Error(e))
		} else {
			inst.file = f
			inst.out.AddSink(f)
		}
	}
	s.procs[spec.Name] = inst
	s.order = append(s.order, spec.Name)
	s.bump(inst)
	s.bumpList()
	return inst, nil
}

// unregister drops inst from the registry.  The process must be stopped.
func (s *Supervisor) unregister(inst *instance) {
	s.lock()
	inst.removed = true
	delete(s.procs, inst.name)
	for i, n := range s.order {
		if n == inst.name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.bumpList()
	s.unlock()
	s.metrics.forget(inst.name)
	if inst.file != nil {
		inst.out.DelSink(inst.file)
		_ = inst.file.Close()
	}
}

// retire unregisters inst after it was stopped for good.  If its
// process survived the stop, inst stays registered and visible, marked
// as retiring, and the monitor unregisters it once the exit is seen.
// It reports whether inst is gone now.  Call with inst.ctl held.
func (s *Supervisor) retire(inst *instance) bool {
	s.lock()
	if inst.proc != nil {
		inst.retiring = true
		inst.reason = "removed, waiting for exit"
		s.bump(inst)
		s.unlock()
		return false
	}
	s.unlock()
	s.unregister(inst)
	return true
}

// dropRetired finishes the removal of a retiring instance whose process
// has now exited.
func (s *Supervisor) dropRetired(inst *instance) {
	defer s.wg.Done()
	inst.ctl.Lock()
	defer inst.ctl.Unlock()
	s.lock()
	drop := inst.retiring && !inst.removed
	inst.retiring = false
	s.unlock()
	if drop {
		s.unregister(inst)
		s.logger.Info("removed", zap.String("process", inst.name))
	}
}

// cancelPending cancels a scheduled automatic restart, and invalidates
// any restart timer that already fired but has not run yet.  It reports
// whether a restart was pending.  Call with lock held.
func (s *Supervisor) cancelPending(inst *instance) bool {
	inst.gen++
	t := inst.pending
	if t == nil {
		return false
	}
	inst.pending = nil
	if t.Stop() {
		// The timer function will never run, so account for it here.
		s.wg.Done()
	}
	return true
}

// launch spawns a new run of inst.  Explicit starts reset the restart
// budget and the backoff.  Call with inst.ctl held.
func (s *Supervisor) launch(inst *instance, explicit bool) error {
	s.lock()
	if s.closing {
		s.unlock()
		return ErrShuttingDown
	}
	if inst.state.Live() {
		s.unlock()
		return nil
	}
	s.cancelPending(inst)
	if explicit {
		inst.attempts = 0
		inst.bo.Reset()
	}
	spec := inst.spec
	s.setState(inst, Starting, "starting")
	s.unlock()

	logger := s.logger.With(zap.String("process", inst.name))
	p, e := spawn(spec, inst.out)

	s.lock()
	defer s.unlock()
	if e != nil {
		inst.exitCode = -1
		inst.exitSig = ""
		s.setState(inst, Failed, e.Error())
		s.metrics.spawnFailed(inst.name)
		logger.Error("spawn failed", zap.String("command", spec.String()), zap.Error(e))
		inst.out.Note(fmt.Sprintf("gopm3: %v", e))
		if !explicit && !s.closing && !exhausted(spec, inst.attempts) {
			// Missing binaries do sometimes show up, e.g. mid deploy.
			s.scheduleRestart(inst)
		}
		return e
	}
	inst.proc = p
	inst.pid = p.pid
	inst.runID = uuid.NewString()
	inst.started = p.started
	inst.stopping = false
	inst.unhealthy = false
	inst.health = HealthUnknown
	s.setState(inst, Running, "running")
	s.metrics.started(inst.name)
	logger.Info("started", zap.Int("pid", p.pid), zap.String("run", inst.runID),
		zap.String("command", spec.String()))

	s.wg.Add(1)
	go s.monitor(inst, p)
	if hc := spec.HealthCheck; hc != nil {
		s.wg.Add(1)
		go s.healthLoop(inst, p, spec, *hc)
	}
	return nil
}

// monitor waits for p to exit, and decides what happens next.
func (s *Supervisor) monitor(inst *instance, p *process) {
	defer s.wg.Done()
	p.wait()

	ran := p.ended.Sub(p.started)
	logger := s.logger.With(zap.String("process", inst.name), zap.Int("pid", p.pid))

	s.lock()
	defer p.finish()
	defer s.unlock()

	inst.proc = nil
	inst.pid = 0
	inst.exitCode = p.code
	inst.exitSig = p.sigName
	inst.stopped = p.ended
	failed := p.failed() || inst.unhealthy

	how := fmt.Sprintf("exit code %d", p.code)
	if p.sigName != "" {
		how = "signal " + p.sigName
	}
	inst.out.Note(fmt.Sprintf("gopm3: process exited (%s)", how))

	if inst.stopping {
		s.metrics.exited(inst.name, "stopped", ran)
		logger.Info("stopped", zap.String("status", how), zap.Duration("ran", ran))
		s.setState(inst, Stopped, "stopped ("+how+")")
		if inst.retiring {
			s.wg.Add(1)
			go s.dropRetired(inst)
		}
		return
	}
	if failed {
		s.metrics.exited(inst.name, "failed", ran)
	} else {
		s.metrics.exited(inst.name, "clean", ran)
	}
	reason := "exited (" + how + ")"
	if inst.unhealthy {
		reason = "health check failed"
	}
	spec := inst.spec
	if settled(spec, ran) {
		inst.attempts = 0
		inst.bo.Reset()
	}

	switch {
	case s.closing || inst.removed || !wantRestart(spec.Restart, failed):
		logger.Info("exited", zap.String("status", how), zap.Duration("ran", ran))
		s.setState(inst, restState(failed), reason)
	case exhausted(spec, inst.attempts):
		logger.Warn("restart limit reached", zap.String("status", how),
			zap.Int("max_restarts", spec.MaxRestarts))
		s.setState(inst, Crashed, reason+", restart limit reached")
	default:
		logger.Info("exited, will restart", zap.String("status", how),
			zap.Duration("ran", ran))
		inst.reason = reason
		s.scheduleRestart(inst)
	}
}

// scheduleRestart arranges for an automatic restart after the next
// backoff delay.  Call with lock held.
func (s *Supervisor) scheduleRestart(inst *instance) {
	s.cancelPending(inst)
	inst.attempts++
	delay := inst.bo.NextBackOff()
	gen := inst.gen
	if inst.state != Failed {
		inst.state = Crashed
	}
	inst.reason = fmt.Sprintf("%s; restarting in %v", inst.reason, delay)
	s.wg.Add(1)
	inst.pending = time.AfterFunc(delay, func() {
		s.autoRestart(inst, gen)
	})
	s.bump(inst)
}

func (s *Supervisor) autoRestart(inst *instance, gen int64) {
	defer s.wg.Done()
	inst.ctl.Lock()
	defer inst.ctl.Unlock()

	s.lock()
	if inst.gen != gen || s.closing || inst.removed {
		s.unlock()
		return
	}
	inst.pending = nil
	inst.restarts++
	s.unlock()

	s.metrics.restarted(inst.name)
	_ = s.launch(inst, false)
}

// Start registers spec (or reuses the existing entry of that name) and
// starts it.  Starting a process that is already running does nothing.
func (s *Supervisor) Start(spec ProcessSpec) error {
	spec.normalize()
	if e := validate.Struct(spec); e != nil {
		return &ConfigValidationError{Problems: fieldProblems(spec.Name+": ", e)}
	}
	inst, e := s.register(spec)
	if e != nil {
		return e
	}
	inst.ctl.Lock()
	defer inst.ctl.Unlock()
	return s.launch(inst, true)
}

// StartName starts a registered process that is not running.  This
// resets its restart budget and backoff.
func (s *Supervisor) StartName(name string) error {
	inst, e := s.find(name)
	if e != nil {
		return e
	}
	inst.ctl.Lock()
	defer inst.ctl.Unlock()
	return s.launch(inst, true)
}

// Stop stops the named process.  The stop signal is sent first; if the
// process is still there after grace (its stop_timeout when grace is not
// positive) it is killed.  Stopping a process that is not running cancels
// any pending automatic restart.
func (s *Supervisor) Stop(name string, grace time.Duration) error {
	inst, e := s.find(name)
	if e != nil {
		return e
	}
	inst.ctl.Lock()
	defer inst.ctl.Unlock()
	return s.stop(inst, grace)
}

// stop does the work of Stop.  Call with inst.ctl held.
func (s *Supervisor) stop(inst *instance, grace time.Duration) error {
	s.lock()
	if s.cancelPending(inst) {
		s.setState(inst, Stopped, "stopped while waiting to restart")
	}
	p := inst.proc
	if p == nil {
		s.unlock()
		return nil
	}
	if grace <= 0 {
		grace = inst.spec.StopTimeout.Std()
	}
	sig := inst.spec.Signal()
	inst.stopping = true
	s.setState(inst, Stopping, "stopping")
	s.unlock()

	logger := s.logger.With(zap.String("process", inst.name), zap.Int("pid", p.pid))
	logger.Info("stopping", zap.Stringer("signal", sig), zap.Duration("grace", grace))
	if e := p.signal(sig); e != nil {
		logger.Warn("stop signal failed, killing",
			zap.Error(&SignalError{Name: inst.name, Signal: sig, Err: e}))
		grace = 0
	}
	return s.awaitExit(inst, p, grace)
}

// awaitExit waits up to grace for p to exit, then kills it and waits up
// to the kill grace.
func (s *Supervisor) awaitExit(inst *instance, p *process, grace time.Duration) error {
	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.exited:
			return nil
		case <-timer.C:
		}
	}

	logger := s.logger.With(zap.String("process", inst.name), zap.Int("pid", p.pid))
	if sent, e := p.kill(); e != nil {
		logger.Error("kill failed", zap.Error(e))
	} else if sent {
		logger.Warn("did not exit in time, killed", zap.Duration("grace", grace))
	}

	timer := time.NewTimer(s.killGrace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	}
	e := &SignalError{
		Name:   inst.name,
		Signal: killSignal(),
		Err:    fmt.Errorf("still running %v after kill", s.killGrace),
	}
	logger.Error("process is stuck", zap.Error(e))
	return e
}

// Restart stops the named process, if it is running, and starts it again.
// The restart is counted, and the restart budget and backoff are reset.
func (s *Supervisor) Restart(name string) error {
	inst, e := s.find(name)
	if e != nil {
		return e
	}
	inst.ctl.Lock()
	defer inst.ctl.Unlock()
	return s.restart(inst)
}

func (s *Supervisor) restart(inst *instance) error {
	if e := s.stop(inst, 0); e != nil {
		return e
	}
	s.lock()
	inst.restarts++
	s.unlock()
	s.metrics.restarted(inst.name)
	return s.launch(inst, true)
}

// ReconcileResult reports what Reconcile did, by process name.
type ReconcileResult struct {
	Added     []string `json:"added"`
	Changed   []string `json:"changed"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
}

// Reconcile brings the running set in line with specs: processes no
// longer present are stopped (in reverse registry order) and removed,
// processes whose spec changed are restarted with the new spec, and new
// processes are started.  Processes whose spec did not change are left
// alone, whatever their state, so calling Reconcile twice with the same
// specs is harmless.  The registry order becomes the order of specs.
//
// Errors starting or stopping individual processes do not stop the rest
// of the work; they are joined into the returned error.
func (s *Supervisor) Reconcile(specs []ProcessSpec) (ReconcileResult, error) {
	var res ReconcileResult
	cfg := &Config{Processes: append([]ProcessSpec(nil), specs...)}
	cfg.normalize()
	if problems := cfg.check(); len(problems) != 0 {
		return res, &ConfigValidationError{Problems: problems}
	}
	specs = cfg.Processes

	s.reconcileMx.Lock()
	defer s.reconcileMx.Unlock()

	want := make(map[string]ProcessSpec, len(specs))
	for _, sp := range specs {
		want[sp.Name] = sp
	}

	s.lock()
	if s.closing {
		s.unlock()
		return res, ErrShuttingDown
	}
	var removed []*instance
	for i := len(s.order) - 1; i >= 0; i-- {
		if _, ok := want[s.order[i]]; !ok {
			removed = append(removed, s.procs[s.order[i]])
		}
	}
	var changed []*instance
	var added []ProcessSpec
	for _, sp := range specs {
		inst, ok := s.procs[sp.Name]
		switch {
		case !ok:
			added = append(added, sp)
		case inst.retiring || !inst.spec.Equal(sp):
			changed = append(changed, inst)
		default:
			res.Unchanged = append(res.Unchanged, sp.Name)
		}
	}
	s.unlock()

	var errs []error
	for _, inst := range removed {
		inst.ctl.Lock()
		if e := s.stop(inst, 0); e != nil {
			errs = append(errs, e)
		}
		if s.retire(inst) {
			res.Removed = append(res.Removed, inst.name)
			s.logger.Info("removed", zap.String("process", inst.name))
		} else {
			s.logger.Warn("removal waits for exit", zap.String("process", inst.name))
		}
		inst.ctl.Unlock()
	}
	for _, inst := range changed {
		inst.ctl.Lock()
		s.lock()
		gone := inst.removed
		inst.retiring = false
		s.unlock()
		if gone {
			// Its old process finished exiting meanwhile.
			inst.ctl.Unlock()
			added = append(added, want[inst.name])
			continue
		}
		if e := s.stop(inst, 0); e != nil {
			errs = append(errs, e)
		} else {
			s.lock()
			inst.spec = want[inst.name]
			inst.bo = newBackoff(inst.spec)
			inst.restarts++
			s.bump(inst)
			s.unlock()
			s.metrics.restarted(inst.name)
			s.logger.Info("configuration changed", zap.String("process", inst.name))
			if e := s.launch(inst, true); e != nil {
				errs = append(errs, e)
			}
		}
		inst.ctl.Unlock()
		res.Changed = append(res.Changed, inst.name)
	}
	for _, sp := range added {
		inst, e := s.register(sp)
		if e != nil {
			errs = append(errs, e)
			continue
		}
		inst.ctl.Lock()
		if e := s.launch(inst, true); e != nil {
			errs = append(errs, e)
		}
		inst.ctl.Unlock()
		res.Added = append(res.Added, sp.Name)
	}

	s.lock()
	order := make([]string, 0, len(s.order))
	for _, sp := range specs {
		if _, ok := s.procs[sp.Name]; ok {
			order = append(order, sp.Name)
		}
	}
	for _, n := range s.order {
		if _, ok := want[n]; !ok {
			// Registered by Start while we were busy.
			order = append(order, n)
		}
	}
	s.order = order
	s.bumpList()
	s.unlock()

	return res, errors.Join(errs...)
}

// stopAll stops every process in reverse registry order.  A positive
// grace overrides each process's own stop_timeout.
func (s *Supervisor) stopAll(grace time.Duration) error {
	s.lock()
	insts := make([]*instance, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		insts = append(insts, s.procs[s.order[i]])
	}
	s.unlock()

	var errs []error
	for _, inst := range insts {
		inst.ctl.Lock()
		if e := s.stop(inst, grace); e != nil {
			errs = append(errs, e)
		}
		inst.ctl.Unlock()
	}
	return errors.Join(errs...)
}

// StopAll stops every process, in reverse registry order.  The processes
// stay registered and can be started again.
func (s *Supervisor) StopAll(grace time.Duration) error {
	s.logger.Info("stopping all processes")
	return s.stopAll(grace)
}

// Shutdown stops every process in reverse registry order and refuses any
// further starts.  Pending automatic restarts are cancelled first.
func (s *Supervisor) Shutdown(grace time.Duration) error {
	s.lock()
	already := s.closing
	s.closing = true
	for _, inst := range s.procs {
		if s.cancelPending(inst) {
			s.setState(inst, Stopped, "shut down while waiting to restart")
		}
	}
	s.bump(nil)
	s.unlock()
	if !already {
		s.logger.Info("shutting down")
	}
	return s.stopAll(grace)
}

// KillAll sends SIGKILL to every live process without waiting for
// anything.  It is meant for impatient users during Shutdown, so it does
// not take the per-process control locks that Shutdown holds.
func (s *Supervisor) KillAll() {
	s.lock()
	defer s.unlock()
	for _, n := range s.order {
		inst := s.procs[n]
		if p := inst.proc; p != nil {
			inst.stopping = true
			if _, e := p.kill(); e != nil {
				s.logger.Error("kill failed", zap.String("process", n), zap.Error(e))
			}
		}
	}
	s.logger.Warn("killed all processes")
}

// ShuttingDown reports whether Shutdown has been called.
func (s *Supervisor) ShuttingDown() bool {
	s.lock()
	defer s.unlock()
	return s.closing
}

// Close shuts down, waits for every goroutine the supervisor started, and
// closes the per-process log files.
func (s *Supervisor) Close() error {
	e := s.Shutdown(0)
	s.wg.Wait()

	s.lock()
	insts := make([]*instance, 0, len(s.procs))
	for _, inst := range s.procs {
		insts = append(insts, inst)
	}
	s.unlock()
	for _, inst := range insts {
		if inst.file != nil {
			inst.out.DelSink(inst.file)
			_ = inst.file.Close()
		}
	}
	return e
}
