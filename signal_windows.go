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

//go:build windows

package gopm3

import (
	"errors"
	"os"
	"os/exec"
	"strings"
)

var routedSignals = []os.Signal{os.Interrupt}

func isReloadSignal(sig os.Signal) bool {
	return false
}

func lookupSignal(name string) (os.Signal, bool) {
	switch strings.TrimPrefix(strings.ToUpper(name), "SIG") {
	case "INT", "TERM":
		return os.Interrupt, true
	case "KILL":
		return os.Kill, true
	}
	return nil, false
}

func setProcAttr(cmd *exec.Cmd, group bool) {}

func processGroup(pid int) int {
	return 0
}

func signalProcess(proc *os.Process, pgid int, sig os.Signal) error {
	var e error
	if sig == os.Interrupt {
		// Windows has no way to deliver an interrupt to another process.
		e = proc.Kill()
	} else {
		e = proc.Signal(sig)
	}
	if errors.Is(e, os.ErrProcessDone) {
		return nil
	}
	return e
}

func killGroup(pgid int) {}

func killSignal() os.Signal {
	return os.Kill
}

func exitStatus(ps *os.ProcessState) (int, string) {
	return ps.ExitCode(), ""
}
