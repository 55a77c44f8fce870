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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile      = "gopm3.config.json"
	DefaultListen          = "127.0.0.1:8321"
	DefaultRestartDelay    = 500 * time.Millisecond
	DefaultMaxRestartDelay = 30 * time.Second
	DefaultStopTimeout     = 10 * time.Second
	DefaultStopSignal      = "TERM"
	DefaultHealthInterval  = 10 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
	DefaultHealthRetries   = 3
)

// RestartPolicy decides what happens when a process exits on its own.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

// Format selects the configuration syntax.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor guesses the configuration format from a file name.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Duration is a time.Duration that is written as a Go duration string
// ("1.5s").  Bare numbers are read as milliseconds, which is how older
// gopm3 configurations expressed restart_delay.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if e := json.Unmarshal(b, &s); e != nil {
			return e
		}
		return d.parse(s)
	}
	var ms float64
	if e := json.Unmarshal(b, &ms); e != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %w", e)
	}
	*d = Duration(ms * float64(time.Millisecond))
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	switch n.ShortTag() {
	case "!!int", "!!float":
		var ms float64
		if e := n.Decode(&ms); e != nil {
			return e
		}
		*d = Duration(ms * float64(time.Millisecond))
		return nil
	}
	return d.parse(n.Value)
}

func (d *Duration) parse(s string) error {
	v, e := time.ParseDuration(s)
	if e != nil {
		return e
	}
	*d = Duration(v)
	return nil
}

// HealthCheck is a command run periodically against a running process.
// A zero exit status is healthy.  After Retries consecutive failures the
// process is terminated and handled as a failed exit.
type HealthCheck struct {
	Command  string   `json:"command" yaml:"command" validate:"required"`
	Args     []string `json:"args,omitempty" yaml:"args,omitempty"`
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty" validate:"gte=0"`
	Timeout  Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
	Retries  int      `json:"retries,omitempty" yaml:"retries,omitempty" validate:"gte=0"`
}

// ProcessSpec is the declarative description of one supervised process.
// Specs are treated as immutable once loaded; the supervisor replaces a
// spec wholesale when the configuration changes.
type ProcessSpec struct {
	Name            string            `json:"name" yaml:"name" validate:"required,procname"`
	Command         string            `json:"command" yaml:"command" validate:"required"`
	Args            []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Cwd             string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Env             map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Restart         RestartPolicy     `json:"restart,omitempty" yaml:"restart,omitempty" validate:"oneof=never on-failure always"`
	MaxRestarts     int               `json:"max_restarts,omitempty" yaml:"max_restarts,omitempty" validate:"gte=0"`
	RestartDelay    Duration          `json:"restart_delay,omitempty" yaml:"restart_delay,omitempty" validate:"gte=0"`
	MaxRestartDelay Duration          `json:"max_restart_delay,omitempty" yaml:"max_restart_delay,omitempty" validate:"gte=0"`
	StopSignal      string            `json:"stop_signal,omitempty" yaml:"stop_signal,omitempty" validate:"stopsignal"`
	StopTimeout     Duration          `json:"stop_timeout,omitempty" yaml:"stop_timeout,omitempty" validate:"gte=0"`
	ProcessGroup    *bool             `json:"process_group,omitempty" yaml:"process_group,omitempty"`
	HealthCheck     *HealthCheck      `json:"health_check,omitempty" yaml:"health_check,omitempty"`

	// LegacyNoGroup is the use_process_group key of the array format.
	// Despite the name, true there meant signalling only the process
	// itself.  It is folded into ProcessGroup while loading.
	LegacyNoGroup bool `json:"use_process_group,omitempty" yaml:"use_process_group,omitempty"`
}

// Equal reports whether two (normalized) specs describe the same process.
func (p ProcessSpec) Equal(o ProcessSpec) bool {
	return reflect.DeepEqual(p, o)
}

// UseProcessGroup reports whether the process runs in its own process
// group, so that signals reach its children too.  This is the default.
func (p ProcessSpec) UseProcessGroup() bool {
	return p.ProcessGroup == nil || *p.ProcessGroup
}

// Signal returns the graceful stop signal.
func (p ProcessSpec) Signal() os.Signal {
	if sig, ok := lookupSignal(p.StopSignal); ok {
		return sig
	}
	return os.Interrupt
}

// Environ returns the environment for the child: ours, then the Env
// entries in key order.  Later entries win.
func (p ProcessSpec) Environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+p.Env[k])
	}
	return env
}

func (p ProcessSpec) String() string {
	return strings.Join(append([]string{p.Command}, p.Args...), " ")
}

func (p *ProcessSpec) normalize() {
	if len(p.Args) == 0 {
		p.Args = nil
	}
	if len(p.Env) == 0 {
		p.Env = nil
	}
	if p.LegacyNoGroup {
		group := false
		p.ProcessGroup = &group
		p.LegacyNoGroup = false
	}
	if p.Restart == "" {
		p.Restart = RestartAlways
	}
	if p.RestartDelay == 0 {
		p.RestartDelay = Duration(DefaultRestartDelay)
	}
	if p.MaxRestartDelay == 0 {
		p.MaxRestartDelay = Duration(DefaultMaxRestartDelay)
		if p.RestartDelay > p.MaxRestartDelay {
			p.MaxRestartDelay = p.RestartDelay
		}
	}
	if p.StopSignal == "" {
		p.StopSignal = DefaultStopSignal
	}
	p.StopSignal = strings.TrimPrefix(strings.ToUpper(p.StopSignal), "SIG")
	if p.StopTimeout == 0 {
		p.StopTimeout = Duration(DefaultStopTimeout)
	}
	if hc := p.HealthCheck; hc != nil {
		if len(hc.Args) == 0 {
			hc.Args = nil
		}
		if hc.Interval == 0 {
			hc.Interval = Duration(DefaultHealthInterval)
		}
		if hc.Timeout == 0 {
			hc.Timeout = Duration(DefaultHealthTimeout)
		}
		if hc.Retries == 0 {
			hc.Retries = DefaultHealthRetries
		}
	}
}

// ControlConfig describes the control API endpoint.  When PasswordHash is
// set, requests must carry HTTP basic auth for User.
type ControlConfig struct {
	Listen       string `json:"listen,omitempty" yaml:"listen,omitempty"`
	User         string `json:"user,omitempty" yaml:"user,omitempty"`
	PasswordHash string `json:"password_hash,omitempty" yaml:"password_hash,omitempty"`
}

// Config is a complete gopm3 configuration file.
type Config struct {
	LogDir    string        `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
	LogLevel  string        `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Control   ControlConfig `json:"control" yaml:"control"`
	Processes []ProcessSpec `json:"processes" yaml:"processes"`

	path string
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// Names returns the process names in configuration order.
func (c *Config) Names() []string {
	rv := make([]string, 0, len(c.Processes))
	for _, p := range c.Processes {
		rv = append(rv, p.Name)
	}
	return rv
}

// Marshal writes the configuration back out.  Parsing the result yields
// an identical process set.
func (c *Config) Marshal(f Format) ([]byte, error) {
	if f == FormatYAML {
		return yaml.Marshal(c)
	}
	return json.MarshalIndent(c, "", "  ")
}

var (
	procNameRE = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)
	utf8BOM    = []byte("\xef\xbb\xbf")
	validate   = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("procname", func(fl validator.FieldLevel) bool {
		return procNameRE.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("stopsignal", func(fl validator.FieldLevel) bool {
		_, ok := lookupSignal(fl.Field().String())
		return ok
	})
	return v
}

// LoadConfig reads and parses the configuration file at path.  It may be
// called again at any time to pick up changes; it has no side effects
// beyond reading the file.
func LoadConfig(path string) (*Config, error) {
	data, e := os.ReadFile(path)
	if e != nil {
		return nil, fmt.Errorf("read config: %w", e)
	}
	cfg, e := parseConfig(path, data, FormatFor(path))
	if e != nil {
		return nil, e
	}
	cfg.path = path
	return cfg, nil
}

// ParseConfig parses configuration bytes.
func ParseConfig(data []byte, f Format) (*Config, error) {
	return parseConfig("", data, f)
}

func parseConfig(path string, data []byte, f Format) (*Config, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	cfg := &Config{}
	var e error
	if f == FormatYAML {
		e = decodeYAML(data, cfg)
	} else {
		e = decodeJSON(data, cfg)
	}
	if e != nil {
		pe := &ConfigParseError{Path: path, Err: e}
		var se *json.SyntaxError
		var te *json.UnmarshalTypeError
		if errors.As(e, &se) {
			pe.Line, pe.Column = position(data, se.Offset)
		} else if errors.As(e, &te) {
			pe.Line, pe.Column = position(data, te.Offset)
		}
		return nil, pe
	}
	cfg.normalize()
	if problems := cfg.check(); len(problems) != 0 {
		return nil, &ConfigValidationError{Path: path, Problems: problems}
	}
	return cfg, nil
}

func decodeJSON(data []byte, cfg *Config) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty configuration")
	}
	// The original gopm3 format is a bare array of processes.
	if trimmed[0] == '[' {
		return json.Unmarshal(data, &cfg.Processes)
	}
	return json.Unmarshal(data, cfg)
}

func decodeYAML(data []byte, cfg *Config) error {
	var root yaml.Node
	if e := yaml.Unmarshal(data, &root); e != nil {
		return e
	}
	if len(root.Content) == 0 {
		return errors.New("empty configuration")
	}
	if root.Content[0].Kind == yaml.SequenceNode {
		return root.Content[0].Decode(&cfg.Processes)
	}
	return root.Content[0].Decode(cfg)
}

func position(data []byte, offset int64) (int, int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	line, col := 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

func (c *Config) normalize() {
	if c.Control.Listen == "" {
		c.Control.Listen = DefaultListen
	}
	for i := range c.Processes {
		c.Processes[i].normalize()
	}
}

func (c *Config) check() []string {
	var problems []string
	if e := validate.Struct(c); e != nil {
		problems = append(problems, fieldProblems("", e)...)
	}
	if c.Control.PasswordHash != "" {
		if c.Control.User == "" {
			problems = append(problems, "control.user is required with control.password_hash")
		}
		if _, e := bcrypt.Cost([]byte(c.Control.PasswordHash)); e != nil {
			problems = append(problems, "control.password_hash: "+e.Error())
		}
	}
	seen := make(map[string]int)
	for i, p := range c.Processes {
		if j, dup := seen[p.Name]; dup && p.Name != "" {
			problems = append(problems, fmt.Sprintf(
				"duplicate process name %q (processes[%d] and processes[%d])",
				p.Name, j, i))
		} else {
			seen[p.Name] = i
		}
		if p.MaxRestartDelay < p.RestartDelay {
			problems = append(problems, fmt.Sprintf(
				"processes[%d].max_restart_delay is less than restart_delay", i))
		}
	}
	return problems
}

func fieldProblems(prefix string, e error) []string {
	var ve validator.ValidationErrors
	if !errors.As(e, &ve) {
		return []string{prefix + e.Error()}
	}
	rv := make([]string, 0, len(ve))
	for _, fe := range ve {
		// Drop the leading "Config." from the namespace.
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		switch fe.Tag() {
		case "required":
			rv = append(rv, fmt.Sprintf("%s%s is required", prefix, ns))
		case "oneof":
			rv = append(rv, fmt.Sprintf("%s%s must be one of [%s], not %q",
				prefix, ns, fe.Param(), fe.Value()))
		case "procname":
			rv = append(rv, fmt.Sprintf("%s%s %q may only contain letters, digits, '_', '.', ':' and '-'",
				prefix, ns, fe.Value()))
		case "stopsignal":
			rv = append(rv, fmt.Sprintf("%s%s: unknown signal %q",
				prefix, ns, fe.Value()))
		default:
			rv = append(rv, fmt.Sprintf("%s%s failed %s%s", prefix, ns,
				fe.Tag(), fe.Param()))
		}
	}
	return rv
}
