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

//go:build !plan9 && !js

package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hspak/gopm3"
	"github.com/hspak/gopm3/gopm3/ui"
)

/*
   Our screen has the following appearance:

                      http://127.0.0.1:8321                        gopm3
      3 Processes    2 Running    1 Crashed    0 Failed    0 Stopped
    web                  running        4242    1:02:13    0
    worker               crashed*          -    0:00:01    4   exit 1, restart pending
    cron                 running        4250    1:02:13    0
   [Q] Quit [H] Help [I] Info [L] Log [T] Stop [R] Restart
*/

func newUICmd(g *globals) *cobra.Command {
	debugLog := ""
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Interactive terminal interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, base, e := g.newClient()
			if e != nil {
				return e
			}
			logger := zap.NewNop()
			if debugLog != "" {
				f, e := os.OpenFile(debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if e != nil {
					return e
				}
				defer f.Close()
				if logger, e = gopm3.NewLogger("debug", f, nil); e != nil {
					return e
				}
			}
			return ui.NewApp(client, base, logger).Run()
		},
	}
	cmd.Flags().StringVar(&debugLog, "debug-log", "", "write interface debug messages to a file")
	return cmd
}
