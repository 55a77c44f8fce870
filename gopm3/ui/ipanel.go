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
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/hspak/gopm3/gopm3/util"
	"github.com/hspak/gopm3/rest"
)

// InfoPanel shows the details of one process.
type InfoPanel struct {
	text *views.TextArea
	info *rest.ProcessInfo
	name string

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	i := &InfoPanel{}

	i.Panel.Init(app)
	i.text = views.NewTextArea()
	i.text.EnableCursor(false)
	i.text.SetStyle(StyleNormal)
	i.SetContent(i.text)
	i.SetKeys([]string{"[ESC] Main", "[H] Help"})

	return i
}

func (i *InfoPanel) Draw() {
	i.update()
	i.Panel.Draw()
}

func (i *InfoPanel) HandleEvent(ev tcell.Event) bool {
	app := i.app
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if i.processKey(ev, i.info) {
			return true
		}
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'L', 'l':
				if i.info != nil {
					app.ShowLog(i.info.Name)
					return true
				}
			}
		}
	}
	return i.Panel.HandleEvent(ev)
}

func (i *InfoPanel) SetName(name string) {
	i.name = name
	i.info = nil
}

// infoLines is the detail text for a process.
func infoLines(s *rest.ProcessInfo) []string {
	spec := s.Spec
	field := func(k string, v interface{}) string {
		return fmt.Sprintf("%13s %v", k+":", v)
	}
	lines := []string{
		field("Name", s.Name),
		field("Command", strings.Join(append([]string{spec.Command}, spec.Args...), " ")),
		field("Status", util.Status(s)),
		field("Since", s.Stamp.Format("2006-01-02 15:04:05")),
		field("Detail", util.Detail(s)),
	}
	if s.Pid != 0 {
		lines = append(lines,
			field("Pid", s.Pid),
			field("Run", s.RunID),
			field("Uptime", util.FormatDuration(s.Uptime())))
	}
	lines = append(lines,
		field("Restarts", s.Restarts),
		field("Policy", spec.Restart),
		field("Stop", fmt.Sprintf("SIG%s, %v", spec.StopSignal, spec.StopTimeout)))
	if spec.Cwd != "" {
		lines = append(lines, field("Directory", spec.Cwd))
	}
	if spec.HealthCheck != nil {
		health := s.Health
		if health == "" {
			health = "unknown"
		}
		lines = append(lines, field("Health", health))
	}
	return lines
}

func (i *InfoPanel) update() {
	s, e := i.app.GetItem(i.name)
	i.info = s
	words := []string{"[ESC] Main", "[H] Help"}

	i.SetTitle("Details for " + i.name)

	if s == nil {
		if e != nil {
			i.SetStatus(fmt.Sprintf("No data: %v", e))
			i.SetLevel(levelError)
		} else {
			i.SetStatus("Loading...")
			i.SetLevel(levelNormal)
		}
		i.text.SetLines(nil)
		i.SetKeys(words)
		return
	}

	i.SetStatus(s.State.String())
	i.SetLevel(levelFor(countOne(s)))
	i.text.SetLines(infoLines(s))

	words = append(words, "[L] Log")
	i.SetKeys(processWords(words, s))
}
