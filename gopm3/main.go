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

// Command gopm3 runs a set of processes under supervision, or talks to a
// supervisor that is already running.
//
// With no subcommand it runs the supervisor in the foreground, using the
// configuration file given with -c (default gopm3.config.json).  The
// other subcommands are clients of the supervisor's control API:
//
//	status [<name> ...]  - show the state of the named processes (or all)
//	info <name>          - show detailed state of one process
//	start <name> ...     - start processes
//	stop <name> ...      - stop processes (--all for every process)
//	restart <name> ...   - restart processes
//	reload               - reload the configuration file
//	log [<name>]         - show the output of a process, or the supervisor log
//	shutdown             - stop everything and make the supervisor exit
//	validate [<path>]    - check a configuration file
//	ui                   - interactive terminal interface
//
// The control address is taken from -a, else from control.listen in the
// configuration file, else 127.0.0.1:8321.
//
// The exit status is 0 on success, 2 for configuration errors, 3 when a
// process could not be spawned, and 1 for anything else.
package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hspak/gopm3"
	"github.com/hspak/gopm3/rest"
)

const (
	exitFailure = 1
	exitConfig  = 2
	exitSpawn   = 3
)

// globals holds the flags shared by every subcommand.
type globals struct {
	cfgPath  string
	addr     string
	auth     string
	logLevel string

	// daemon only
	shutdownGrace time.Duration
	watch         bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "gopm3",
		Short:         "Run and supervise a set of processes",
		Args:          cobra.NoArgs,
		RunE:          g.runDaemon,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.cfgPath, "config", "c", gopm3.DefaultConfigFile, "configuration file")
	pf.StringVarP(&g.addr, "addr", "a", "", "control API address")
	pf.StringVarP(&g.auth, "user", "u", "", "user:pass for the control API")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	g.addDaemonFlags(root)
	root.AddCommand(
		newRunCmd(g),
		newStatusCmd(g),
		newInfoCmd(g),
		newStartCmd(g),
		newStopCmd(g),
		newRestartCmd(g),
		newReloadCmd(g),
		newLogCmd(g),
		newShutdownCmd(g),
		newValidateCmd(g),
		newUICmd(g),
	)
	return root
}

// exitCode maps an error to the process exit status.  Errors returned by
// the control API are classified by their kind.
func exitCode(e error) int {
	var ae *rest.Error
	switch {
	case e == nil:
		return 0
	case gopm3.IsConfigError(e):
		return exitConfig
	case gopm3.IsSpawnError(e):
		return exitSpawn
	case errors.As(e, &ae) && ae.Kind == rest.KindConfig:
		return exitConfig
	case errors.As(e, &ae) && ae.Kind == rest.KindSpawn:
		return exitSpawn
	}
	return exitFailure
}

// listenAddr is the host:port the daemon serves the control API on.
func listenAddr(flag string, cfg *gopm3.Config) string {
	a := flag
	if a == "" && cfg != nil {
		a = cfg.Control.Listen
	}
	if a == "" {
		return gopm3.DefaultListen
	}
	if u, e := url.Parse(a); e == nil && u.Host != "" {
		a = u.Host
	}
	return a
}

// clientURL is the base URL clients use.  A listen address with no host
// is reached through the loopback interface.
func clientURL(flag string, cfg *gopm3.Config) string {
	if strings.Contains(flag, "://") {
		return strings.TrimSuffix(flag, "/")
	}
	a := listenAddr(flag, cfg)
	if host, port, e := net.SplitHostPort(a); e == nil {
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		a = net.JoinHostPort(host, port)
	}
	return "http://" + a
}

// newClient returns a client for the running supervisor.  A configuration
// file that cannot be read is not an error here; it only means the
// default address is used.
func (g *globals) newClient() (*rest.Client, string, error) {
	var cfg *gopm3.Config
	if g.addr == "" {
		if c, e := gopm3.LoadConfig(g.cfgPath); e == nil {
			cfg = c
		}
	}
	base := clientURL(g.addr, cfg)
	client := rest.NewClient(nil, base)
	if g.auth != "" {
		a := strings.SplitN(g.auth, ":", 2)
		if len(a) != 2 {
			return nil, "", fmt.Errorf("bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}
	return client, base, nil
}

func main() {
	if e := newRootCmd().Execute(); e != nil {
		fmt.Fprintf(os.Stderr, "gopm3: %v\n", e)
		os.Exit(exitCode(e))
	}
}
