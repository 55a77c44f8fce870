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
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/hspak/gopm3/gopm3/util"
)

var (
	barNormal = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
	barAlternate = tcell.StyleDefault.
			Foreground(tcell.ColorBlue).
			Background(tcell.ColorSilver)
)

// level is the overall condition shown by a StatusBar.
type level int

const (
	levelNormal level = iota
	levelGood
	levelWarn
	levelError
)

var levelStyles = map[level]tcell.Style{
	levelNormal: barNormal,
	levelGood: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorGreen).
		Bold(true),
	levelWarn: tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorYellow),
	levelError: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorMaroon).
		Bold(true),
}

// levelFor summarizes a set of processes: anything failed or crashed is
// an error, anything not settled is a warning.
func levelFor(c util.Counts) level {
	switch {
	case c.Failed > 0 || c.Crashed > 0:
		return levelError
	case c.Busy > 0 || c.Stopped > 0:
		return levelWarn
	case c.Running > 0:
		return levelGood
	}
	return levelNormal
}

type TitleBar struct {
	once sync.Once
	views.SimpleStyledTextBar
}

func (tb *TitleBar) Init() {
	tb.once.Do(func() {
		tb.SimpleStyledTextBar.Init()
		tb.SimpleStyledTextBar.SetStyle(barNormal)
		tb.RegisterLeftStyle('N', barNormal)
		tb.RegisterLeftStyle('A', barAlternate)
		tb.RegisterCenterStyle('N', barNormal)
		tb.RegisterCenterStyle('A', barAlternate)
		tb.RegisterRightStyle('N', barNormal)
		tb.RegisterRightStyle('A', barAlternate)
	})
}

func NewTitleBar() *TitleBar {
	tb := &TitleBar{}
	tb.Init()
	return tb
}

// StatusBar is like a TitleBar, but its color follows the condition of
// what is on the screen, e.g. red when something has failed.
type StatusBar struct {
	once   sync.Once
	level  level
	status string
	views.SimpleStyledTextBar
}

func (sb *StatusBar) Init() {
	sb.once.Do(func() {
		sb.SimpleStyledTextBar.Init()
		sb.SetLevel(levelNormal)
	})
}

func (sb *StatusBar) SetLevel(l level) {
	sb.level = l
	style := levelStyles[l]
	sb.SimpleStyledTextBar.SetStyle(style)
	sb.RegisterLeftStyle('N', style)
	sb.SetLeft(sb.status)
}

func (sb *StatusBar) SetText(status string) {
	sb.status = strings.ReplaceAll(status, "%", "%%")
	sb.SetLeft(sb.status)
}

func NewStatusBar() *StatusBar {
	sb := &StatusBar{}
	sb.Init()
	return sb
}

// KeyBar shows the keys available.  Key names are written in brackets,
// as in "[Q] Quit", and are highlighted.
type KeyBar struct {
	once sync.Once
	views.SimpleStyledTextBar
}

func (k *KeyBar) Init() {
	k.once.Do(func() {
		k.SimpleStyledTextBar.Init()
		k.SimpleStyledTextBar.SetStyle(barNormal)
		k.RegisterLeftStyle('N', barNormal)
		k.RegisterLeftStyle('A', barAlternate.Bold(true))
	})
}

func (k *KeyBar) SetKeys(words []string) {
	k.SetLeft(keyMarkup(words))
}

// keyMarkup converts key words into styled text bar markup.
func keyMarkup(words []string) string {
	var b strings.Builder
	for i, w := range words {
		if i != 0 && w != "" {
			b.WriteByte(' ')
		}
		inKey := false
		for _, r := range w {
			switch {
			case r == '%':
				b.WriteString("%%")
			case r == '[' && !inKey:
				b.WriteString("[%A")
				inKey = true
			case r == ']' && inKey:
				b.WriteString("%N]")
				inKey = false
			default:
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func NewKeyBar() *KeyBar {
	kb := &KeyBar{}
	kb.Init()
	return kb
}
