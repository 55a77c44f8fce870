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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hspak/gopm3"
	"github.com/hspak/gopm3/gopm3/util"
	"github.com/hspak/gopm3/rest"
)

// requestTimeout bounds one-shot requests.  Stops can take as long as
// the processes' grace periods, so those are not bounded by it.
const requestTimeout = 10 * time.Second

func showStatus(w io.Writer, p *rest.ProcessInfo) {
	pid := "-"
	if p.Pid != 0 {
		pid = fmt.Sprint(p.Pid)
	}
	fmt.Fprintf(w, "%-20s %-10s %8s %10s %3d  %s\n", p.Name,
		util.Status(p), pid, util.FormatDuration(util.Since(p)),
		p.Restarts, util.Detail(p))
}

func showInfo(w io.Writer, p *rest.ProcessInfo) {
	fmt.Fprintf(w, "Name:      %s\n", p.Name)
	fmt.Fprintf(w, "Command:   %s\n", strings.Join(append([]string{p.Spec.Command}, p.Spec.Args...), " "))
	fmt.Fprintf(w, "Status:    %s\n", util.Status(p))
	fmt.Fprintf(w, "Since:     %v\n", util.Since(p))
	if p.Pid != 0 {
		fmt.Fprintf(w, "Pid:       %d\n", p.Pid)
		fmt.Fprintf(w, "Run:       %s\n", p.RunID)
		fmt.Fprintf(w, "Uptime:    %s\n", util.FormatDuration(p.Uptime()))
	}
	fmt.Fprintf(w, "Restarts:  %d\n", p.Restarts)
	fmt.Fprintf(w, "Policy:    %s\n", p.Spec.Restart)
	if p.Health != "" {
		fmt.Fprintf(w, "Health:    %s\n", p.Health)
	}
	fmt.Fprintf(w, "Detail:    %s\n", util.Detail(p))
}

func showRecord(w io.Writer, r rest.LogRecord) {
	if r.Stream != "" {
		fmt.Fprintf(w, "%s [%s] %s\n", r.Time.Format(time.StampMilli), r.Stream, r.Text)
	} else {
		fmt.Fprintf(w, "%s %s\n", r.Time.Format(time.StampMilli), r.Text)
	}
}

func newStatusCmd(g *globals) *cobra.Command {
	sorted := false
	cmd := &cobra.Command{
		Use:   "status [<name> ...]",
		Short: "Show the state of processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, e := g.newClient()
			if e != nil {
				return e
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			var infos []*rest.ProcessInfo
			if len(args) == 0 {
				if infos, e = client.Statuses(ctx); e != nil {
					return e
				}
			}
			for _, n := range args {
				info, e := client.GetProcess(ctx, n)
				if e != nil {
					return e
				}
				infos = append(infos, info)
			}
			if sorted {
				util.SortProcesses(infos)
			}
			for _, info := range infos {
				showStatus(cmd.OutOrStdout(), info)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sorted, "sort", false, "list troubled processes first")
	return cmd
}

func newInfoCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show details of one process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, e := g.newClient()
			if e != nil {
				return e
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			info, e := client.GetProcess(ctx, args[0])
			if e != nil {
				return e
			}
			showInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

// forEach runs fn for every name, and returns every failure.
func forEach(names []string, fn func(string) error) error {
	var errs []error
	for _, n := range names {
		if e := fn(n); e != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n, e))
		}
	}
	return errors.Join(errs...)
}

func newStartCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name> ...",
		Short: "Start processes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, e := g.newClient()
			if e != nil {
				return e
			}
			return forEach(args, func(n string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				return client.StartProcess(ctx, n)
			})
		},
	}
}

func newStopCmd(g *globals) *cobra.Command {
	var grace time.Duration
	all := false
	cmd := &cobra.Command{
		Use:   "stop <name> ...",
		Short: "Stop processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all != (len(args) == 0) {
				return fmt.Errorf("give either process names or --all")
			}
			client, _, e := g.newClient()
			if e != nil {
				return e
			}
			if all {
				return client.StopAll(cmd.Context(), grace)
			}
			return forEach(args, func(n string) error {
				return client.StopProcess(cmd.Context(), n, grace)
			})
		},
	}
	cmd.Flags().DurationVarP(&grace, "timeout", "t", 0,
		"grace before SIGKILL (default: the process stop_timeout)")
	cmd.Flags().BoolVar(&all, "all", false, "stop every process, in reverse order")
	return cmd
}

func newRestartCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name> ...",
		Short: "Restart processes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, e := g.newClient()
			if e != nil {
				return e
			}
			return forEach(args, func(n string) error {
				return client.RestartProcess(cmd.Context(), n)
			})
		},
	}
}

func newReloadCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, e := g.newClient()
			if e != nil {
				return e
			}
			res, e := client.Reload(cmd.Context())
			if res != nil {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "added:     %s\n", strings.Join(res.Added, " "))
				fmt.Fprintf(w, "changed:   %s\n", strings.Join(res.Changed, " "))
				fmt.Fprintf(w, "removed:   %s\n", strings.Join(res.Removed, " "))
				fmt.Fprintf(w, "unchanged: %s\n", strings.Join(res.Unchanged, " "))
			}
			return e
		},
	}
}

func newLogCmd(g *globals) *cobra.Command {
	follow := false
	cmd := &cobra.Command{
		Use:   "log [<name>]",
		Short: "Show process output, or the supervisor log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, e := g.newClient()
			if e != nil {
				return e
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return showLog(cmd.Context(), cmd.OutOrStdout(), client, name, follow)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines")
	return cmd
}

// showLog prints a log, and with follow keeps printing lines newer than
// the last one printed until ctx is done.
func showLog(ctx context.Context, w io.Writer, client *rest.Client, name string, follow bool) error {
	info, e := client.GetLog(ctx, name)
	if e != nil {
		return e
	}
	var last int64
	for {
		for _, r := range info.Records {
			if r.Id > last {
				showRecord(w, r)
				last = r.Id
			}
		}
		if !follow {
			return nil
		}
		if info, e = client.WatchLog(ctx, name, info); e != nil {
			if ctx.Err() != nil {
				return nil
			}
			return e
		}
	}
}

func newShutdownCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Stop every process and make the supervisor exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, e := g.newClient()
			if e != nil {
				return e
			}
			e = client.Shutdown(cmd.Context())
			var ae *rest.Error
			if errors.As(e, &ae) && ae.Code == http.StatusServiceUnavailable {
				// Already on its way down.
				return nil
			}
			return e
		},
	}
}

func newValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [<path>]",
		Short: "Check a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.cfgPath
			if len(args) == 1 {
				path = args[0]
			}
			cfg, e := gopm3.LoadConfig(path)
			if e != nil {
				return e
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d processes: %s\n",
				path, len(cfg.Processes), strings.Join(cfg.Names(), " "))
			return nil
		},
	}
}
