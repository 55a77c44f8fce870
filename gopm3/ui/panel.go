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

package ui

import (
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/hspak/gopm3/rest"
)

var (
	StyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	StyleGood = tcell.StyleDefault.
			Foreground(tcell.ColorGreen).
			Background(tcell.ColorBlack)
	StyleWarn = tcell.StyleDefault.
			Foreground(tcell.ColorYellow).
			Background(tcell.ColorBlack)
	StyleError = tcell.StyleDefault.
			Foreground(tcell.ColorMaroon).
			Background(tcell.ColorBlack)
)

// Panel is just a wrapper around the views.Panel, but it changes
// the names of elements to match our usage: a title bar on top, then a
// status bar, the content, and a key bar at the bottom.
type Panel struct {
	tb   *TitleBar
	sb   *StatusBar
	kb   *KeyBar
	once sync.Once
	app  *App

	views.Panel
}

func (p *Panel) SetTitle(title string) {
	p.tb.SetCenter(title)
}

func (p *Panel) SetKeys(words []string) {
	p.kb.SetKeys(words)
}

func (p *Panel) SetStatus(status string) {
	p.sb.SetText(status)
}

func (p *Panel) SetLevel(l level) {
	p.sb.SetLevel(l)
}

func (p *Panel) Init(app *App) {
	p.once.Do(func() {
		p.app = app

		p.tb = NewTitleBar()
		p.tb.SetRight(app.GetAppName())
		p.tb.SetCenter(" ")

		p.kb = NewKeyBar()

		p.sb = NewStatusBar()

		p.Panel.SetTitle(p.tb)
		p.Panel.SetMenu(p.sb)
		p.Panel.SetStatus(p.kb)
	})
}

func (p *Panel) App() *App {
	return p.app
}

// processKey handles the keys that act on one process, common to the
// panels that have one selected.  Stopping is offered only for live
// processes, starting only for the others.
func (p *Panel) processKey(ev *tcell.EventKey, info *rest.ProcessInfo) bool {
	if info == nil || ev.Key() != tcell.KeyRune {
		return false
	}
	app := p.app
	switch ev.Rune() {
	case 'S', 's':
		if !info.State.Live() {
			app.StartProcess(info.Name)
			return true
		}
	case 'T', 't':
		if info.State.Live() || info.Pending {
			app.StopProcess(info.Name)
			return true
		}
	case 'R', 'r', ' ':
		app.RestartProcess(info.Name)
		return true
	}
	return false
}

// processWords are the key bar entries matching processKey.
func processWords(words []string, info *rest.ProcessInfo) []string {
	if info == nil {
		return words
	}
	if info.State.Live() || info.Pending {
		words = append(words, "[T] Stop")
	} else {
		words = append(words, "[S] Start")
	}
	return append(words, "[R] Restart")
}
