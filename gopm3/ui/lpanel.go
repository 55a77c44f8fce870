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
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/hspak/gopm3/gopm3/util"
	"github.com/hspak/gopm3/rest"
)

// LogPanel shows a process's output, or the supervisor's own log.
type LogPanel struct {
	text *views.TextArea
	info *rest.ProcessInfo
	name string // process name, empty for the supervisor
	last int64  // newest record shown

	Panel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{}

	p.Panel.Init(app)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
	app := p.app
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if p.processKey(ev, p.info) {
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
			case 'I', 'i':
				if p.info != nil {
					app.ShowInfo(p.info.Name)
					return true
				}
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *LogPanel) SetName(name string) {
	p.SetTitle("Loading")
	p.text.SetLines(nil)
	p.name = name
	p.info = nil
	p.last = 0
}

// logLine formats one record.  Standard error lines are marked so they
// stand out from regular output.
func logLine(r rest.LogRecord) string {
	mark := " "
	if r.Stream == "stderr" {
		mark = "!"
	}
	return fmt.Sprintf("%s %s %s", r.Time.Format(time.StampMilli), mark, r.Text)
}

func (p *LogPanel) update() {
	var procErr error
	p.info = nil
	if p.name != "" {
		p.info, procErr = p.app.GetItem(p.name)
	}
	loginfo, logErr := p.app.GetLog(p.name)

	words := []string{"[ESC] Main", "[H] Help"}

	if p.name == "" {
		p.SetTitle("Supervisor Log")
	} else {
		p.SetTitle("Output of " + p.name)
	}

	if loginfo == nil {
		e := logErr
		if e == nil {
			e = procErr
		}
		if e != nil {
			p.SetStatus(fmt.Sprintf("No data: %v", e))
			p.SetLevel(levelError)
		} else {
			p.SetStatus("Loading ...")
			p.SetLevel(levelNormal)
		}
		p.text.SetLines([]string{""})
		p.SetKeys(words)
		return
	}

	p.SetStatus(fmt.Sprintf("%d lines", len(loginfo.Records)))
	p.SetLevel(levelNormal)
	if p.info != nil {
		p.SetStatus(fmt.Sprintf("%s, %d lines", p.info.State, len(loginfo.Records)))
		p.SetLevel(levelFor(countOne(p.info)))
	}

	lines := make([]string, 0, len(loginfo.Records))
	for _, r := range loginfo.Records {
		lines = append(lines, logLine(r))
	}
	p.text.SetLines(lines)
	// Follow the tail when something new arrives.
	if n := len(loginfo.Records); n > 0 && loginfo.Records[n-1].Id != p.last {
		p.last = loginfo.Records[n-1].Id
		p.text.MakeVisible(0, n-1)
	}

	if p.info != nil {
		words = append(words, "[I] Info")
		words = processWords(words, p.info)
	}
	p.SetKeys(words)
}

func countOne(info *rest.ProcessInfo) util.Counts {
	return util.Count([]*rest.ProcessInfo{info})
}
