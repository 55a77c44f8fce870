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
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// routedSignals are the signals a Router listens for.
var routedSignals = []os.Signal{unix.SIGHUP, unix.SIGINT, unix.SIGTERM}

func isReloadSignal(sig os.Signal) bool {
	return sig == unix.SIGHUP
}

// lookupSignal maps "TERM" or "SIGTERM" to a signal.
func lookupSignal(name string) (os.Signal, bool) {
	name = strings.ToUpper(name)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, true
	}
	return nil, false
}

func setProcAttr(cmd *exec.Cmd, group bool) {
	if group {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
}

func processGroup(pid int) int {
	if pgid, e := unix.Getpgid(pid); e == nil {
		return pgid
	}
	return pid
}

// signalProcess delivers sig to the group when pgid is set, else just to
// the process.  A process that is already gone is not an error.
func signalProcess(proc *os.Process, pgid int, sig os.Signal) error {
	var e error
	if pgid > 0 {
		s, ok := sig.(syscall.Signal)
		if !ok {
			return errors.New("unsupported signal")
		}
		e = unix.Kill(-pgid, s)
	} else {
		e = proc.Signal(sig)
	}
	if errors.Is(e, unix.ESRCH) || errors.Is(e, os.ErrProcessDone) {
		return nil
	}
	return e
}

// killGroup sweeps up whatever is left in a process group.
func killGroup(pgid int) {
	if pgid > 0 {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
}

func killSignal() os.Signal {
	return unix.SIGKILL
}

// exitStatus returns the exit code, or -1 and the signal name when the
// process was killed by a signal.
func exitStatus(ps *os.ProcessState) (int, string) {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, unix.SignalName(ws.Signal())
	}
	return ps.ExitCode(), ""
}
