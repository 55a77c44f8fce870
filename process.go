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
	"os"
	"os/exec"
	"sync"
	"time"
)

// pipeGrace bounds how long we keep reading output after the process we
// started has exited, when something else still holds its pipes open.
const pipeGrace = time.Second

// process is one operating system level run of a ProcessSpec.  It is
// created by spawn.  The exit fields are valid once wait returns; exited
// is closed by the monitor after the supervisor has recorded the exit.
type process struct {
	name    string
	cmd     *exec.Cmd
	pid     int
	pgid    int // zero when not running in its own process group
	started time.Time
	stdout  *StreamWriter
	stderr  *StreamWriter
	exited  chan struct{}

	// Valid after wait returns.
	ended    time.Time
	code     int
	sigName  string
	waitErr  error
	killOnce sync.Once
}

// spawn starts the process described by spec, sending its output to out.
// The returned error, if any, is a *SpawnError.
func spawn(spec ProcessSpec, out *OutputLog) (*process, error) {
	p := &process{
		name:   spec.Name,
		stdout: out.Stream("stdout"),
		stderr: out.Stream("stderr"),
		exited: make(chan struct{}),
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = spec.Environ()
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	cmd.WaitDelay = pipeGrace
	setProcAttr(cmd, spec.UseProcessGroup())
	if e := cmd.Start(); e != nil {
		return nil, &SpawnError{Name: spec.Name, Err: e}
	}
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.started = time.Now()
	if spec.UseProcessGroup() {
		p.pgid = processGroup(p.pid)
	}
	return p, nil
}

// wait blocks until the process exits, and records how it ended.  It
// must be called exactly once, from the monitor goroutine.
func (p *process) wait() {
	e := p.cmd.Wait()
	p.stdout.Flush()
	p.stderr.Flush()
	p.ended = time.Now()
	p.waitErr = e
	if ps := p.cmd.ProcessState; ps != nil {
		p.code, p.sigName = exitStatus(ps)
	} else {
		p.code = -1
	}
	// Children left behind in the group would otherwise be orphaned.
	killGroup(p.pgid)
}

func (p *process) finish() {
	close(p.exited)
}

func (p *process) done() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// signal delivers sig to the process, or its whole group.
func (p *process) signal(sig os.Signal) error {
	if p.done() {
		return nil
	}
	return signalProcess(p.cmd.Process, p.pgid, sig)
}

// kill sends SIGKILL, at most once per run.  It reports whether this
// call was the one that sent it.
func (p *process) kill() (bool, error) {
	var e error
	sent := false
	p.killOnce.Do(func() {
		sent = true
		e = p.signal(killSignal())
	})
	return sent, e
}

// failed reports whether the exit counts as a failure for restart
// purposes.
func (p *process) failed() bool {
	return p.code != 0 || p.sigName != ""
}
