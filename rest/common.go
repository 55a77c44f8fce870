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
// Package rest implements the gopm3 control API: an http.Handler serving
// a Supervisor, and a Client for it.
//
// GET requests support long polling.  A client passes the Etag it last
// saw in the PollEtagHeader, and the number of seconds it is prepared to
// wait in PollTimeHeader; the server holds the request until the resource
// changes or the time is up.  If-None-Match works as usual.
package rest

import (
	"errors"
	"net/http"

	"github.com/hspak/gopm3"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	PollEtagHeader = "X-Gopm3-Poll-Etag"
	PollTimeHeader = "X-Gopm3-Poll-Time"

	// MaxPollTime caps the seconds a long poll may wait.
	MaxPollTime = 300
)

// Error kinds, so that a client can tell what went wrong without parsing
// messages.
const (
	KindNotFound = "not-found"
	KindConfig   = "config"
	KindSpawn    = "spawn"
	KindSignal   = "signal"
	KindShutdown = "shutdown"
	KindAuth     = "auth"
)

var ok struct{}

// ManagerInfo is the top-level state of the supervisor.
type ManagerInfo struct {
	gopm3.SupervisorInfo
	etag string
}

// ProcessInfo is the state of one process.
type ProcessInfo struct {
	gopm3.ProcessStatus
	etag string
}

// LogRecord is one line of a log.
type LogRecord = gopm3.LogRecord

// LogInfo is the contents of a log.  Name is empty for the supervisor's
// own log.
type LogInfo struct {
	Name    string
	Records []LogRecord
	etag    string
}

// Error is returned by the API for any failed request.
type Error struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// errorFor maps a supervisor error to an API error.
func errorFor(e error) *Error {
	var se *gopm3.SpawnError
	var sig *gopm3.SignalError
	switch {
	case errors.Is(e, gopm3.ErrNotFound):
		return &Error{http.StatusNotFound, KindNotFound, e.Error()}
	case errors.Is(e, gopm3.ErrShuttingDown), errors.Is(e, gopm3.ErrQueueClosed):
		return &Error{http.StatusServiceUnavailable, KindShutdown, e.Error()}
	case gopm3.IsConfigError(e):
		return &Error{http.StatusBadRequest, KindConfig, e.Error()}
	case errors.As(e, &se):
		return &Error{http.StatusInternalServerError, KindSpawn, e.Error()}
	case errors.As(e, &sig):
		return &Error{http.StatusInternalServerError, KindSignal, e.Error()}
	}
	return &Error{http.StatusInternalServerError, "", e.Error()}
}
