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
	"time"

	"github.com/cenkalti/backoff/v5"
)

// newBackoff returns the restart delay sequence for spec: RestartDelay,
// doubling up to MaxRestartDelay.  There is no jitter, so the sequence is
// predictable for people reading the logs.
func newBackoff(spec ProcessSpec) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = spec.RestartDelay.Std()
	b.MaxInterval = spec.MaxRestartDelay.Std()
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// wantRestart reports whether the policy asks for a restart after an
// unrequested exit.
func wantRestart(policy RestartPolicy, failed bool) bool {
	switch policy {
	case RestartAlways:
		return true
	case RestartOnFailure:
		return failed
	}
	return false
}

// restState is where an instance rests when no restart follows.
func restState(failed bool) State {
	if failed {
		return Crashed
	}
	return Stopped
}

// exhausted reports whether the restart budget is used up.
func exhausted(spec ProcessSpec, attempts int) bool {
	return spec.MaxRestarts > 0 && attempts >= spec.MaxRestarts
}

// settled reports whether a run lasted long enough that earlier failures
// should no longer count against the process.
func settled(spec ProcessSpec, ran time.Duration) bool {
	return ran > spec.MaxRestartDelay.Std()
}
