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

// Package gopm3 is a small process manager.  It is handed a declarative
// list of processes, starts them, watches them, and restarts them
// according to a per-process restart policy.
//
// The pieces are layered.  LoadConfig turns a configuration file into
// ProcessSpecs.  A Supervisor owns the processes themselves: it spawns
// them, monitors them with one goroutine per child, and drives each
// through a small state machine.  A Router turns operating system signals
// and external control requests into commands for the Supervisor, and
// coordinates shutdown.  Status snapshots and long-poll watches on the
// Supervisor give read-only views suitable for a control API or a
// terminal UI.
//
// This is not meant as a replacement for init or systemd, but rather as a
// tool for developers to run a group of related processes together
// (a web server, a worker, a compiler in watch mode) as one unit.
package gopm3
