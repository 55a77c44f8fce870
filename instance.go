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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	HealthUnknown   = ""
	HealthOK        = "healthy"
	HealthUnhealthy = "unhealthy"
)

// instance is the supervisor's record for one named process.  There is
// exactly one per name; successive runs of the process reuse it, so that
// counters and the output log survive restarts.
//
// ctl is held for the whole of any control operation (start, stop,
// restart, reconcile) on the instance, so two of them never interleave.
// Everything below it is protected by the Supervisor lock.
type instance struct {
	ctl  sync.Mutex
	name string
	out  *OutputLog
	file *BufferedWriter

	spec      ProcessSpec
	state     State
	proc      *process
	runID     string
	pid       int
	exitCode  int
	exitSig   string
	restarts  int
	attempts  int
	health    string
	started   time.Time
	stopped   time.Time
	stamp     time.Time
	reason    string
	serial    int64
	gen       int64
	pending   *time.Timer
	bo        *backoff.ExponentialBackOff
	stopping  bool
	unhealthy bool
	removed   bool
	retiring  bool
}

func newInstance(spec ProcessSpec) *instance {
	return &instance{
		name:     spec.Name,
		spec:     spec,
		out:      NewOutputLog(MaxOutputRecords),
		bo:       newBackoff(spec),
		state:    Stopped,
		exitCode: -1,
		stamp:    time.Now(),
	}
}

// ProcessStatus is a point in time copy of a process's state.
type ProcessStatus struct {
	Name       string      `json:"name"`
	Command    string      `json:"command"`
	State      State       `json:"state"`
	Pid        int         `json:"pid,omitempty"`
	RunID      string      `json:"run_id,omitempty"`
	ExitCode   int         `json:"exit_code"`
	ExitSignal string      `json:"exit_signal,omitempty"`
	Restarts   int         `json:"restarts"`
	Attempts   int         `json:"attempts"`
	Health     string      `json:"health,omitempty"`
	Pending    bool        `json:"pending"`
	Started    time.Time   `json:"started"`
	Stopped    time.Time   `json:"stopped"`
	Stamp      time.Time   `json:"stamp"`
	Reason     string      `json:"reason,omitempty"`
	Serial     int64       `json:"serial,string"`
	Spec       ProcessSpec `json:"spec"`
}

// Uptime returns how long the current run has lasted, or zero.
func (ps ProcessStatus) Uptime() time.Duration {
	if ps.Pid == 0 || ps.Started.IsZero() {
		return 0
	}
	return time.Since(ps.Started)
}

// snapshot copies the instance.  Call with the Supervisor lock held.
func (inst *instance) snapshot() ProcessStatus {
	return ProcessStatus{
		Name:       inst.name,
		Command:    inst.spec.String(),
		State:      inst.state,
		Pid:        inst.pid,
		RunID:      inst.runID,
		ExitCode:   inst.exitCode,
		ExitSignal: inst.exitSig,
		Restarts:   inst.restarts,
		Attempts:   inst.attempts,
		Health:     inst.health,
		Pending:    inst.pending != nil,
		Started:    inst.started,
		Stopped:    inst.stopped,
		Stamp:      inst.stamp,
		Reason:     inst.reason,
		Serial:     inst.serial,
		Spec:       inst.spec,
	}
}
