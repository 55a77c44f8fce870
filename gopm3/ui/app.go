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

// Package ui implements the interactive terminal interface of the gopm3
// command.  Everything it shows comes from the control API, through a
// rest.Client.
package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hspak/gopm3"
	"github.com/hspak/gopm3/rest"
)

const (
	// redrawInterval is the shortest time between two redraws caused
	// by updates from the supervisor.
	redrawInterval = 100 * time.Millisecond

	actionTimeout = time.Minute
)

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	info      *InfoPanel
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	client    *rest.Client
	logger    *zap.Logger
	limiter   *rate.Limiter
	ctx       context.Context
	cancel    context.CancelFunc
	mx        sync.Mutex // protects the fields below, set by pollers
	err       error
	items     []*rest.ProcessInfo
	notice    string
	logName   string
	logInfo   *rest.LogInfo
	logErr    error
	logCancel context.CancelFunc

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	if a.view != nil {
		a.panel.SetView(a.view)
		a.panel.Resize()
	}
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowInfo(name string) {
	a.info.SetName(name)
	a.show(a.info)
}

// ShowLog shows the output of the named process, or the supervisor log
// when name is empty.
func (a *App) ShowLog(name string) {
	if a.logCancel != nil {
		a.logCancel()
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.mx.Lock()
	a.logInfo = nil
	a.logErr = nil
	a.logName = name
	a.mx.Unlock()
	a.logCancel = cancel
	a.log.SetName(name)
	go a.refreshLog(ctx, name)

	a.show(a.log)
}

func (a *App) ShowMain() {
	if a.logCancel != nil {
		a.logCancel()
		a.logCancel = nil
		a.mx.Lock()
		a.logName = ""
		a.mx.Unlock()
	}
	a.show(a.main)
}

// act runs a control request without holding up the interface.  The
// outcome is shown as a notice on the main panel.
func (a *App) act(what string, name string, fn func(context.Context) error) {
	a.setNotice(fmt.Sprintf("%s %s ...", what, name))
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, actionTimeout)
		defer cancel()
		e := fn(ctx)
		msg := fmt.Sprintf("%s %s: done", what, name)
		if e != nil {
			msg = fmt.Sprintf("%s %s: %v", what, name, e)
			a.logger.Warn("request failed", zap.String("action", what),
				zap.String("process", name), zap.Error(e))
		}
		a.post(func() { a.notice = msg })
	}()
}

func (a *App) setNotice(msg string) {
	a.mx.Lock()
	a.notice = msg
	a.mx.Unlock()
}

func (a *App) StartProcess(name string) {
	a.act("start", name, func(ctx context.Context) error {
		return a.client.StartProcess(ctx, name)
	})
}

func (a *App) StopProcess(name string) {
	a.act("stop", name, func(ctx context.Context) error {
		return a.client.StopProcess(ctx, name, 0)
	})
}

func (a *App) RestartProcess(name string) {
	a.act("restart", name, func(ctx context.Context) error {
		return a.client.RestartProcess(ctx, name)
	})
}

func (a *App) Quit() {
	/* This just posts the quit event. */
	a.app.Quit()
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetAppName() string {
	return "gopm3"
}

// post applies fn to the shared state and asks for a redraw.  Bursts of
// updates are spread out so that a flapping process cannot keep the
// terminal busy.  A redraw asked for before the screen exists is lost,
// but the state is not; the next tick draws it.
func (a *App) post(fn func()) {
	a.mx.Lock()
	fn()
	a.mx.Unlock()
	if a.limiter.Wait(a.ctx) != nil {
		return
	}
	a.app.Update()
}

// refresh keeps the app items current.  Any change to a process changes
// the supervisor serial, so one long poll covers them all.
func (a *App) refresh() {
	var info *rest.ManagerInfo
	for {
		items, e := a.client.Statuses(a.ctx)
		if a.ctx.Err() != nil {
			return
		}
		a.post(func() {
			a.items = items
			a.err = e
		})
		if e == nil {
			info, e = a.client.WatchInfo(a.ctx, info)
		}
		if e != nil {
			select {
			case <-a.ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (a *App) refreshLog(ctx context.Context, name string) {
	info, e := a.client.GetLog(ctx, name)

	for {
		if ctx.Err() != nil {
			return
		}
		a.post(func() {
			if a.logName == name {
				a.logInfo = info
				a.logErr = e
			}
		})
		if e != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			info, e = a.client.GetLog(ctx, name)
			continue
		}
		info, e = a.client.WatchLog(ctx, name, info)
	}
}

// tick redraws once a second, so that uptimes keep counting.
func (a *App) tick() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-t.C:
			a.app.Update()
		}
	}
}

func (a *App) GetItems() ([]*rest.ProcessInfo, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.items, a.err
}

func (a *App) GetItem(name string) (*rest.ProcessInfo, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	for _, i := range a.items {
		if i.Name == name {
			return i, nil
		}
	}
	return nil, gopm3.ErrNotFound
}

func (a *App) GetLog(name string) (*rest.LogInfo, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.logName == name {
		return a.logInfo, a.logErr
	}
	return nil, nil
}

// Notice returns the outcome of the last request made from the
// interface.
func (a *App) Notice() string {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.notice
}

// Run shows the interface until the user quits.
func (a *App) Run() error {
	a.logger.Info("starting user interface")
	a.app.SetRootWidget(a)
	a.ShowMain()
	go a.refresh()
	go a.tick()
	e := a.app.Run()
	a.cancel()
	return e
}

// NewApp returns the interface for the supervisor that client talks to.
// server is only used for display.
func NewApp(client *rest.Client, server string, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{}
	app.app = &views.Application{}
	app.client = client
	app.logger = logger.Named("ui")
	app.limiter = rate.NewLimiter(rate.Every(redrawInterval), 1)
	app.ctx, app.cancel = context.WithCancel(context.Background())
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app, server)
	app.panel = app.main
	return app
}
