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
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hspak/gopm3"
	"github.com/hspak/gopm3/rest"
)

func (g *globals) addDaemonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.DurationVar(&g.shutdownGrace, "shutdown-timeout", 0,
		"grace for every process on shutdown (default: each stop_timeout)")
	f.BoolVar(&g.watch, "watch", true,
		"reload when the configuration file changes")
}

func newRunCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor in the foreground (default)",
		Args:  cobra.NoArgs,
		RunE:  g.runDaemon,
	}
	g.addDaemonFlags(cmd)
	return cmd
}

// runDaemon runs the supervisor until it is shut down by a signal or a
// shutdown request.  The router, the control API and the configuration
// watcher run as one group; when the router finishes, the others are
// stopped.
func (g *globals) runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, e := gopm3.LoadConfig(g.cfgPath)
	if e != nil {
		return e
	}
	level := cfg.LogLevel
	if g.logLevel != "" {
		level = g.logLevel
	}
	ring := gopm3.NewLog(gopm3.MaxLogRecords)
	logger, e := gopm3.NewLogger(level, cmd.ErrOrStderr(), ring)
	if e != nil {
		return e
	}
	defer func() { _ = logger.Sync() }()

	// Bind first, so that a busy port fails before anything is spawned.
	listen := listenAddr(g.addr, cfg)
	ln, e := net.Listen("tcp", listen)
	if e != nil {
		return e
	}

	sup := gopm3.NewSupervisor(gopm3.Options{
		Logger: logger,
		Log:    ring,
		LogDir: cfg.LogDir,
	})
	defer sup.Close()

	router := gopm3.NewRouter(sup, func() (*gopm3.Config, error) {
		return gopm3.LoadConfig(g.cfgPath)
	}, logger)
	if g.shutdownGrace > 0 {
		router.SetShutdownGrace(g.shutdownGrace)
	}

	srv := &http.Server{
		Handler:           rest.NewHandler(sup, router, cfg.Control),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("control API listening", zap.String("addr", ln.Addr().String()))

	// The router already holds SIGINT and SIGTERM, so an interrupt while
	// the first processes start is acted on once it runs.
	_, startErr := sup.Reconcile(cfg.Processes)
	if startErr != nil {
		logger.Error("not every process started", zap.Error(startErr))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		defer cancel()
		return router.Run(gctx)
	})
	grp.Go(func() error {
		if e := srv.Serve(ln); !errors.Is(e, http.ErrServerClosed) {
			return e
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		sctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return srv.Shutdown(sctx)
	})
	if g.watch {
		grp.Go(func() error {
			w := gopm3.NewConfigWatcher(g.cfgPath, logger, func(ctx context.Context) error {
				_, e := router.Submit(ctx, gopm3.ControlCommand{Kind: gopm3.CmdReload})
				return e
			})
			if e := w.Run(gctx); e != nil {
				logger.Warn("configuration watcher stopped", zap.Error(e))
			}
			return nil
		})
	}

	if e := grp.Wait(); e != nil {
		return e
	}
	return startErr
}
