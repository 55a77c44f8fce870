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
	"errors"
	"fmt"
	"net/http"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/hspak/gopm3"
	"github.com/hspak/gopm3/gopm3/util"
	"github.com/hspak/gopm3/rest"
)

// styleFor is the color of a process line.
func styleFor(p *rest.ProcessInfo) tcell.Style {
	switch p.State {
	case gopm3.Running:
		if p.Health == gopm3.HealthUnhealthy {
			return StyleWarn
		}
		return StyleGood
	case gopm3.Crashed, gopm3.Failed:
		return StyleError
	case gopm3.Starting, gopm3.Stopping:
		return StyleWarn
	}
	return StyleNormal
}

// processLine is one row of the process list.
func processLine(p *rest.ProcessInfo) string {
	pid := "-"
	if p.Pid != 0 {
		pid = fmt.Sprint(p.Pid)
	}
	return fmt.Sprintf("%-20s %-10s %8s %10s %4d   %s",
		p.Name, util.Status(p), pid, util.FormatDuration(util.Since(p)),
		p.Restarts, util.Detail(p))
}

// describeError turns a failure to reach the supervisor into a status
// line.
func describeError(e error) string {
	var ae *rest.Error
	if errors.As(e, &ae) && ae.Code == http.StatusUnauthorized {
		return "Not authorized, give credentials with -u user:pass"
	}
	return fmt.Sprintf("Cannot load processes: %v", e)
}

// MainPanel implements a Widget as a Panel, but provides the data
// model and handling for the content area: the list of processes, in
// configuration order.
type MainPanel struct {
	content  *views.CellView
	selected *rest.ProcessInfo
	width    int
	height   int
	curx     int
	cury     int
	lines    [][]rune
	styles   []tcell.Style
	items    []*rest.ProcessInfo

	Panel
}

// mainModel provides the model for a CellArea.
type mainModel struct {
	m *MainPanel
}

func NewMainPanel(app *App, server string) *MainPanel {
	m := &MainPanel{}

	m.Panel.Init(app)
	m.content = views.NewCellView()
	m.SetContent(m.content)

	m.content.SetModel(&mainModel{m})
	m.content.SetStyle(StyleNormal)

	m.SetTitle(server)
	m.SetKeys([]string{"[Q] Quit"})

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if m.processKey(ev, m.selected) {
			return true
		}
		switch ev.Key() {
		case tcell.KeyEsc:
			m.unselect()
			return true
		case tcell.KeyF1:
			m.App().ShowHelp()
			return true
		case tcell.KeyEnter:
			if m.selected != nil {
				m.App().ShowInfo(m.selected.Name)
				return true
			}
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				m.App().Quit()
				return true
			case 'H', 'h':
				m.App().ShowHelp()
				return true
			case 'I', 'i':
				if m.selected != nil {
					m.App().ShowInfo(m.selected.Name)
					return true
				}
			case 'L', 'l':
				if m.selected != nil {
					m.App().ShowLog(m.selected.Name)
				} else {
					m.App().ShowLog("")
				}
				return true
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// Model items
func (model *mainModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	m := model.m

	if y < 0 || y >= len(m.lines) {
		return ' ', StyleNormal, nil, 1
	}

	ch := ' '
	if x >= 0 && x < len(m.lines[y]) {
		ch = m.lines[y][x]
	}
	style := m.styles[y]
	if m.items[y] == m.selected {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (model *mainModel) GetBounds() (int, int) {
	// This assumes that all content is displayable runes of width 1.
	m := model.m
	x := 0
	for _, l := range m.lines {
		if x < len(l) {
			x = len(l)
		}
	}
	return x, len(m.lines)
}

func (model *mainModel) GetCursor() (int, int, bool, bool) {
	m := model.m
	return m.curx, m.cury, true, false
}

func (model *mainModel) MoveCursor(offx, offy int) {
	m := model.m
	m.curx += offx
	m.cury += offy
	m.updateCursor(true)
}

func (model *mainModel) SetCursor(x, y int) {
	m := model.m
	m.curx = x
	m.cury = y
	m.updateCursor(true)
}

func (m *MainPanel) unselect() {
	m.cury = 0
	m.curx = 0
	m.updateCursor(false)
}

func (m *MainPanel) updateCursor(selected bool) {
	m.curx = clamp(m.curx, m.width-1)
	m.cury = clamp(m.cury, m.height-1)
	if selected && m.height > 0 {
		if m.selected == nil {
			m.curx = 0
			m.cury = 0
		}
		m.selected = m.items[m.cury]
	} else {
		m.selected = nil
	}
}

func clamp(v, max int) int {
	if v > max {
		v = max
	}
	if v < 0 {
		v = 0
	}
	return v
}

// update is called to update content, e.g. in response to Draw() or
// as part of another update.  It runs on the interface goroutine.
func (m *MainPanel) update() {
	items, err := m.App().GetItems()
	m.items = items

	// preserve selected item
	if sel := m.selected; sel != nil {
		m.selected = nil
		for i, item := range m.items {
			if item.Name == sel.Name {
				m.selected = item
				m.cury = i
			}
		}
	}
	if err != nil {
		m.SetLevel(levelError)
		m.SetStatus(describeError(err))
		m.lines = nil
		m.styles = nil
		m.items = nil
		m.selected = nil
		m.width, m.height = 0, 0
		return
	}

	m.lines = make([][]rune, 0, len(items))
	m.styles = make([]tcell.Style, 0, len(items))
	m.width = 0
	m.height = len(items)
	for _, info := range items {
		line := []rune(processLine(info))
		if len(line) > m.width {
			m.width = len(line)
		}
		m.lines = append(m.lines, line)
		m.styles = append(m.styles, styleFor(info))
	}

	c := util.Count(items)
	status := fmt.Sprintf(
		"%4d Processes %4d Running %4d Crashed %4d Failed %4d Stopped",
		c.Total, c.Running, c.Crashed, c.Failed, c.Stopped)
	if n := m.App().Notice(); n != "" {
		status += "   " + n
	}
	m.SetStatus(status)
	m.SetLevel(levelFor(c))

	words := []string{"[Q] Quit", "[H] Help"}
	if item := m.selected; item != nil {
		words = append(words, "[I] Info", "[L] Log")
		words = processWords(words, item)
	} else {
		words = append(words, "[L] Log")
	}
	m.SetKeys(words)
}
