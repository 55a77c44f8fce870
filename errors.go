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
	"os"
	"strings"
)

var (
	ErrNotFound     = errors.New("no such process")
	ErrShuttingDown = errors.New("supervisor is shutting down")
	ErrQueueClosed  = errors.New("control queue closed")
	ErrNoCommand    = errors.New("unknown control command")
)

// ConfigParseError reports configuration input that could not be decoded
// at all.  Line and Column are 1-based and zero when unknown.
type ConfigParseError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *ConfigParseError) Error() string {
	where := e.Path
	if where == "" {
		where = "config"
	}
	if e.Line > 0 {
		where = fmt.Sprintf("%s:%d:%d", where, e.Line, e.Column)
	}
	return fmt.Sprintf("%s: parse error: %v", where, e.Err)
}

func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

// ConfigValidationError reports a configuration that decoded fine but
// describes an invalid process set.  Every problem found is listed; a
// configuration with any problem is rejected as a whole.
type ConfigValidationError struct {
	Path     string
	Problems []string
}

func (e *ConfigValidationError) Error() string {
	where := e.Path
	if where == "" {
		where = "config"
	}
	return fmt.Sprintf("%s: invalid configuration: %s", where,
		strings.Join(e.Problems, "; "))
}

// SpawnError is returned when the operating system refuses to launch a
// process, e.g. a missing binary or a permission problem.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// SignalError is returned when a signal could not be delivered to a
// managed process, or the process survived SIGKILL for longer than the
// kill grace period.
type SignalError struct {
	Name   string
	Signal os.Signal
	Err    error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signal %v to %s: %v", e.Signal, e.Name, e.Err)
}

func (e *SignalError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is a parse or validation error.
func IsConfigError(err error) bool {
	var pe *ConfigParseError
	var ve *ConfigValidationError
	return errors.As(err, &pe) || errors.As(err, &ve)
}

// IsSpawnError reports whether err carries a SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}
