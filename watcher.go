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
package gopm3

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the config file must be quiet before a
// change is acted on.  Editors tend to write a file in several steps.
const DefaultDebounce = 500 * time.Millisecond

// ConfigWatcher calls a function whenever the configuration file changes.
// The directory is watched rather than the file, so that editors which
// save by writing a new file and renaming it over the old one are seen.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger
	onChange func(context.Context) error
}

func NewConfigWatcher(path string, logger *zap.Logger, onChange func(context.Context) error) *ConfigWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigWatcher{
		path:     path,
		debounce: DefaultDebounce,
		logger:   logger.Named("watcher"),
		onChange: onChange,
	}
}

// SetDebounce changes the quiet period.
func (w *ConfigWatcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run watches until ctx is done.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	abs, e := filepath.Abs(w.path)
	if e != nil {
		return e
	}
	fw, e := fsnotify.NewWatcher()
	if e != nil {
		return e
	}
	defer fw.Close()
	if e := fw.Add(filepath.Dir(abs)); e != nil {
		return e
	}
	w.logger.Debug("watching", zap.String("path", abs))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(w.debounce)

		case e, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(e))

		case <-timer.C:
			w.logger.Info("configuration file changed", zap.String("path", abs))
			if e := w.onChange(ctx); e != nil {
				w.logger.Warn("reload after change failed", zap.Error(e))
			}
		}
	}
}
