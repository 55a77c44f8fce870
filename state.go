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
	"fmt"
)

// State is the lifecycle state of a supervised process.
//
//	          +------------+
//	          |            |
//	+--------->  Starting  +---------+
//	|         |            |         |
//	|         +-----+------+         |
//	|               |           +----V-----+
//	|         +-----V------+    |          |
//	|         |            |    |  Failed  |
//	|   +-----+  Running   |    |          |
//	|   |     |            |    +----------+
//	|   |     +-----+------+
//	|   |           |
//	|   |     +-----V------+    +----------+
//	|   |     |            |    |          |
//	|   |     |  Stopping  +---->  Stopped |
//	|   |     |            |    |          |
//	|   |     +------------+    +----------+
//	|   |
//	|   |     +------------+
//	|   |     |            |
//	|   +----->  Crashed   |
//	|         |            |
//	+---------+------------+
//
// Crashed with a pending restart goes back to Starting once the backoff
// delay has passed.  Crashed without one, Stopped and Failed are at rest
// until somebody starts the process again.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Crashed
	Failed
)

var stateNames = []string{
	Stopped:  "stopped",
	Starting: "starting",
	Running:  "running",
	Stopping: "stopping",
	Crashed:  "crashed",
	Failed:   "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Live reports whether an operating system process may exist.
func (s State) Live() bool {
	return s == Starting || s == Running || s == Stopping
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}
