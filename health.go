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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// healthLoop runs the health check for one run of a process until the
// run ends.  After hc.Retries consecutive failures the process is
// terminated, and its exit is then treated as a failure whatever its
// exit status.
func (s *Supervisor) healthLoop(inst *instance, p *process, spec ProcessSpec, hc HealthCheck) {
	defer s.wg.Done()
	logger := s.logger.With(zap.String("process", inst.name), zap.Int("pid", p.pid))
	ticker := time.NewTicker(hc.Interval.Std())
	defer ticker.Stop()

	fails := 0
	for {
		select {
		case <-p.exited:
			return
		case <-ticker.C:
		}
		e := probe(spec, hc, p.pid)
		if e == nil {
			fails = 0
			s.setHealth(inst, p, HealthOK)
			continue
		}
		fails++
		s.metrics.healthFailed(inst.name)
		logger.Warn("health check failed", zap.Int("failures", fails), zap.Error(e))
		if fails < hc.Retries {
			continue
		}

		if !s.setHealth(inst, p, HealthUnhealthy) {
			return
		}
		inst.out.Note(fmt.Sprintf("gopm3: health check failed %d times, terminating", fails))
		if e := p.signal(spec.Signal()); e != nil {
			logger.Warn("stop signal failed", zap.Error(e))
		}
		timer := time.NewTimer(spec.StopTimeout.Std())
		select {
		case <-p.exited:
		case <-timer.C:
			if _, e := p.kill(); e != nil {
				logger.Error("kill failed", zap.Error(e))
			}
		}
		timer.Stop()
		return
	}
}

// setHealth records the health of run p, unless a newer run or a stop
// request has superseded it.  It reports whether the record was made.
func (s *Supervisor) setHealth(inst *instance, p *process, health string) bool {
	s.lock()
	defer s.unlock()
	if inst.proc != p || inst.stopping {
		return false
	}
	if health == HealthUnhealthy {
		inst.unhealthy = true
	}
	if inst.health != health {
		inst.health = health
		s.bump(inst)
	}
	return true
}

// probe runs the health check command once.  The process id is passed
// in the environment as PID.
func probe(spec ProcessSpec, hc HealthCheck, pid int) error {
	ctx, cancel := context.WithTimeout(context.Background(), hc.Timeout.Std())
	defer cancel()
	cmd := exec.CommandContext(ctx, hc.Command, hc.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = append(spec.Environ(), fmt.Sprintf("PID=%d", pid))
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if e := cmd.Run(); e != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("timed out after %v", hc.Timeout)
		}
		if msg := bytes.TrimSpace(out.Bytes()); len(msg) > 0 {
			return fmt.Errorf("%w: %s", e, lastLine(msg))
		}
		return e
	}
	return nil
}

func lastLine(b []byte) []byte {
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		return b[i+1:]
	}
	return b
}
