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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hspak/gopm3"
	"github.com/hspak/gopm3/rest"
)

// Status is the short state shown in listings.
func Status(p *rest.ProcessInfo) string {
	s := p.State.String()
	if p.Health == gopm3.HealthUnhealthy {
		s += "!"
	}
	if p.Pending {
		s += "*"
	}
	return s
}

// Detail describes the last thing that happened to the process.
func Detail(p *rest.ProcessInfo) string {
	var parts []string
	if p.Reason != "" {
		parts = append(parts, p.Reason)
	}
	switch {
	case p.ExitSignal != "":
		parts = append(parts, "signal "+p.ExitSignal)
	case !p.Stopped.IsZero() && p.Pid == 0:
		parts = append(parts, fmt.Sprintf("exit %d", p.ExitCode))
	}
	if p.Pending {
		parts = append(parts, "restart pending")
	}
	return strings.Join(parts, ", ")
}

// Since is how long the process has been in its current state.
func Since(p *rest.ProcessInfo) time.Duration {
	d := time.Since(p.Stamp)
	// for printing second resolution is sufficient
	return d - d%time.Second
}

func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// rank orders states by how much attention they need.
func rank(s gopm3.State) int {
	switch s {
	case gopm3.Failed:
		return 0
	case gopm3.Crashed:
		return 1
	case gopm3.Starting, gopm3.Stopping:
		return 2
	case gopm3.Running:
		return 3
	}
	return 4
}

type sorted []*rest.ProcessInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if ra, rb := rank(a.State), rank(b.State); ra != rb {
		// put failed items at front
		return ra < rb
	}
	return a.Name < b.Name
}

// SortProcesses orders processes with the troubled ones first, then by
// name.
func SortProcesses(items []*rest.ProcessInfo) {
	sort.Stable(sorted(items))
}

// Counts tallies processes by state.
type Counts struct {
	Total   int
	Running int
	Stopped int
	Crashed int
	Failed  int
	Busy    int
}

func Count(items []*rest.ProcessInfo) Counts {
	var c Counts
	for _, p := range items {
		c.Total++
		switch p.State {
		case gopm3.Running:
			c.Running++
		case gopm3.Stopped:
			c.Stopped++
		case gopm3.Crashed:
			c.Crashed++
		case gopm3.Failed:
			c.Failed++
		default:
			c.Busy++
		}
	}
	return c
}
