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
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the supervisor's logger.  Messages go to w (stderr
// when nil) in a human readable console form, and, when ring is not nil,
// into ring as well so that they can be served by the control API.  The
// ring copy has no timestamp of its own since LogRecords carry one.
func NewLogger(level string, w io.Writer, ring *Log) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		l, e := zapcore.ParseLevel(level)
		if e != nil {
			return nil, fmt.Errorf("log level: %w", e)
		}
		lvl = l
	}
	if w == nil {
		w = os.Stderr
	}

	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.Lock(zapcore.AddSync(w)), lvl),
	}
	if ring != nil {
		rc := zap.NewDevelopmentEncoderConfig()
		rc.TimeKey = ""
		rc.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(rc), zapcore.AddSync(ring), lvl))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}
