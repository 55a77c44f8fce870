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
	"os"
	"sync"
	"time"
)

// SupervisorInfo is top-level information about a Supervisor.
type SupervisorInfo struct {
	Name       string    `json:"name"`
	Pid        int       `json:"pid"`
	Serial     int64     `json:"serial,string"`
	ListSerial int64     `json:"list_serial,string"`
	Processes  int       `json:"processes"`
	Running    int       `json:"running"`
	Closing    bool      `json:"closing"`
	CreateTime time.Time `json:"create_time"`
	UpdateTime time.Time `json:"update_time"`
}

// Info returns a consistent snapshot of top-level supervisor state.
func (s *Supervisor) Info() SupervisorInfo {
	s.lock()
	defer s.unlock()
	i := SupervisorInfo{
		Name:       s.name,
		Pid:        os.Getpid(),
		Serial:     s.serial,
		ListSerial: s.listSerial,
		Processes:  len(s.order),
		Closing:    s.closing,
		CreateTime: s.createTime,
		UpdateTime: s.updateTime,
	}
	for _, inst := range s.procs {
		if inst.proc != nil {
			i.Running++
		}
	}
	return i
}

// Serial returns the global serial number.  It changes whenever any
// process changes state.
func (s *Supervisor) Serial() int64 {
	s.lock()
	defer s.unlock()
	return s.serial
}

// Names returns the process names in registry order, along with the
// serial of the list.
func (s *Supervisor) Names() ([]string, int64) {
	s.lock()
	defer s.unlock()
	return append([]string(nil), s.order...), s.listSerial
}

// Status returns a snapshot of the named process.
func (s *Supervisor) Status(name string) (ProcessStatus, error) {
	s.lock()
	defer s.unlock()
	inst, ok := s.procs[name]
	if !ok {
		return ProcessStatus{}, ErrNotFound
	}
	return inst.snapshot(), nil
}

// Statuses returns snapshots of every process, in registry order.
func (s *Supervisor) Statuses() []ProcessStatus {
	s.lock()
	defer s.unlock()
	rv := make([]ProcessStatus, 0, len(s.order))
	for _, n := range s.order {
		rv = append(rv, s.procs[n].snapshot())
	}
	return rv
}

// watchSerial waits for *src to differ from old, for expire to pass, or
// for ctx to be done, and returns the current value.  A poll can be done
// by supplying 0 for the expiration.
func (s *Supervisor) watchSerial(ctx context.Context, old int64, src *int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&s.mx)
	wake := func() {
		s.lock()
		expired = true
		cv.Broadcast()
		s.unlock()
	}
	if expire > 0 {
		timer := time.AfterFunc(expire, wake)
		defer timer.Stop()
		stop := context.AfterFunc(ctx, wake)
		defer stop()
	} else {
		expired = true
	}

	s.lock()
	defer s.unlock()
	s.cvs[cv] = true
	for *src == old && !expired {
		cv.Wait()
	}
	delete(s.cvs, cv)
	return *src
}

// WatchSerial waits for a change in the global serial number.
func (s *Supervisor) WatchSerial(ctx context.Context, old int64, expire time.Duration) int64 {
	return s.watchSerial(ctx, old, &s.serial, expire)
}

// WatchProcesses waits for a change in the list of processes.
func (s *Supervisor) WatchProcesses(ctx context.Context, old int64, expire time.Duration) int64 {
	return s.watchSerial(ctx, old, &s.listSerial, expire)
}

// WatchProcess waits for a change to the named process.
func (s *Supervisor) WatchProcess(ctx context.Context, name string, old int64, expire time.Duration) (int64, error) {
	inst, e := s.find(name)
	if e != nil {
		return 0, e
	}
	return s.watchSerial(ctx, old, &inst.serial, expire), nil
}

// GetLog returns the supervisor's own log records.  See Log.GetRecords.
func (s *Supervisor) GetLog(last int64) ([]LogRecord, int64) {
	return s.log.GetRecords(last)
}

// WatchLog waits for new supervisor log records.
func (s *Supervisor) WatchLog(ctx context.Context, last int64, expire time.Duration) int64 {
	return s.log.Watch(ctx, last, expire)
}

// GetProcessLog returns the recent output of the named process.
func (s *Supervisor) GetProcessLog(name string, last int64) ([]LogRecord, int64, error) {
	inst, e := s.find(name)
	if e != nil {
		return nil, 0, e
	}
	recs, id := inst.out.Ring().GetRecords(last)
	return recs, id, nil
}

// WatchProcessLog waits for new output from the named process.
func (s *Supervisor) WatchProcessLog(ctx context.Context, name string, last int64, expire time.Duration) (int64, error) {
	inst, e := s.find(name)
	if e != nil {
		return 0, e
	}
	return inst.out.Ring().Watch(ctx, last, expire), nil
}
