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
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/hspak/gopm3"
)

// Client talks to a gopm3 control API.  It caches what it has seen, so
// that the Watch methods can long poll for changes.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client

	// Cached data
	manager *ManagerInfo
	procs   map[string]*ProcessInfo
	names   []string // process names, in configuration order
	etag    string   // etag for list of processes
	logs    map[string]*LogInfo
	lock    sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(name string) string {
	if name == "" {
		return c.base + "/processes"
	}
	return c.base + "/processes/" + url.PathEscape(name)
}

// Info returns the supervisor's top-level state.
func (c *Client) Info(ctx context.Context) (*ManagerInfo, error) {
	return c.pollInfo(ctx, nil, 0)
}

// WatchInfo waits for the supervisor state to differ from last, which
// any process state change does.  It returns last when nothing changed
// within the poll time.
func (c *Client) WatchInfo(ctx context.Context, last *ManagerInfo) (*ManagerInfo, error) {
	return c.pollInfo(ctx, last, MaxPollTime)
}

func (c *Client) pollInfo(ctx context.Context, last *ManagerInfo, secs int) (*ManagerInfo, error) {
	otag := ""
	if last != nil {
		otag = last.etag
	}
	v := &ManagerInfo{}
	etag, e := c.poll(ctx, c.base+"/", otag, secs, v)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.manager = v
	c.lock.Unlock()
	return v, nil
}

func (c *Client) pollProcesses(ctx context.Context, secs int) ([]string, error) {
	var v []string

	c.lock.Lock()
	otag := c.etag
	onames := c.names
	c.lock.Unlock()

	etag, e := c.poll(ctx, c.url(""), otag, secs, &v)
	if e != nil {
		return nil, e
	}
	if etag == "" || etag == otag {
		return onames, nil
	}
	procs := make(map[string]*ProcessInfo)

	c.lock.Lock()
	c.etag = etag
	c.names = v
	// keep the entries for processes that are still there
	for _, n := range v {
		if p, ok := c.procs[n]; ok {
			procs[n] = p
		}
	}
	c.procs = procs
	c.lock.Unlock()

	return v, nil
}

// Processes returns the process names in configuration order.
func (c *Client) Processes(ctx context.Context) ([]string, error) {
	return c.pollProcesses(ctx, 0)
}

// WatchProcesses waits for the list of processes to change.
func (c *Client) WatchProcesses(ctx context.Context) ([]string, error) {
	return c.pollProcesses(ctx, MaxPollTime)
}

func (c *Client) pollProcess(ctx context.Context, name string, secs int, last *ProcessInfo) (*ProcessInfo, error) {
	c.lock.Lock()
	cached, ok := c.procs[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != cached.etag {
		// The cache is already newer than what the caller has.
		return cached, nil
	} else {
		otag = last.etag
	}

	v := &ProcessInfo{}
	etag, e := c.poll(ctx, c.url(name), otag, secs, v)
	if e != nil {
		c.lock.Lock()
		delete(c.procs, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if cached == nil {
			return last, nil
		}
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.procs[name] = v
	c.lock.Unlock()
	return v, nil
}

// GetProcess returns the current state of the named process.
func (c *Client) GetProcess(ctx context.Context, name string) (*ProcessInfo, error) {
	return c.pollProcess(ctx, name, 0, nil)
}

// WatchProcess waits for the named process to differ from last.
func (c *Client) WatchProcess(ctx context.Context, name string, last *ProcessInfo) (*ProcessInfo, error) {
	return c.pollProcess(ctx, name, MaxPollTime, last)
}

// Statuses returns every process, in configuration order.
func (c *Client) Statuses(ctx context.Context) ([]*ProcessInfo, error) {
	names, e := c.Processes(ctx)
	if e != nil {
		return nil, e
	}
	rv := make([]*ProcessInfo, 0, len(names))
	for _, n := range names {
		p, e := c.GetProcess(ctx, n)
		if e != nil {
			if ae, ok := e.(*Error); ok && ae.Code == http.StatusNotFound {
				// Removed since we listed.
				continue
			}
			return nil, e
		}
		rv = append(rv, p)
	}
	return rv, nil
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {
	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if res.StatusCode != http.StatusOK {
		return "", decodeError(res, body)
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func decodeError(res *http.Response, body []byte) error {
	ae := &Error{}
	if json.Unmarshal(body, ae) != nil || ae.Message == "" {
		return &Error{Code: res.StatusCode, Message: res.Status}
	}
	if ae.Code == 0 {
		ae.Code = res.StatusCode
	}
	return ae
}

func (c *Client) post(ctx context.Context, url string, v interface{}) error {
	req, e := http.NewRequestWithContext(ctx, "POST", url, nil)
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain") // we don't really care
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return e
	}
	if res.StatusCode != http.StatusOK {
		return decodeError(res, body)
	}
	if v != nil {
		return json.Unmarshal(body, v)
	}
	return nil
}

func withTimeout(u string, grace time.Duration) string {
	if grace > 0 {
		return fmt.Sprintf("%s?timeout=%s", u, url.QueryEscape(grace.String()))
	}
	return u
}

func (c *Client) StartProcess(ctx context.Context, name string) error {
	return c.post(ctx, c.url(name)+"/start", nil)
}

// StopProcess stops a process.  A zero grace uses the process's own
// stop_timeout.
func (c *Client) StopProcess(ctx context.Context, name string, grace time.Duration) error {
	return c.post(ctx, withTimeout(c.url(name)+"/stop", grace), nil)
}

func (c *Client) RestartProcess(ctx context.Context, name string) error {
	return c.post(ctx, c.url(name)+"/restart", nil)
}

// StopAll stops every process, in reverse order.
func (c *Client) StopAll(ctx context.Context, grace time.Duration) error {
	return c.post(ctx, withTimeout(c.base+"/stop", grace), nil)
}

// Reload asks the supervisor to reload its configuration file.
func (c *Client) Reload(ctx context.Context) (*gopm3.ReconcileResult, error) {
	res := &gopm3.ReconcileResult{}
	if e := c.post(ctx, c.base+"/reload", res); e != nil {
		return nil, e
	}
	return res, nil
}

// Shutdown stops everything and makes the supervisor exit.  It returns
// once the processes have been stopped.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.post(ctx, c.base+"/shutdown", nil)
}

func (c *Client) pollLog(ctx context.Context, name string, secs int, last *LogInfo) (*LogInfo, error) {
	c.lock.Lock()
	cached := c.logs[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if cached != nil && last.etag != cached.etag {
		// The cache is already newer than what the caller has.
		return cached, nil
	} else {
		otag = last.etag
	}

	u := c.url(name) + "/log"
	if name == "" {
		u = c.base + "/log"
	}

	v := &LogInfo{Name: name}
	etag, e := c.poll(ctx, u, otag, secs, &v.Records)
	if e != nil {
		c.lock.Lock()
		delete(c.logs, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if cached == nil {
			return last, nil
		}
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.logs[name] = v
	c.lock.Unlock()

	return v, nil
}

// GetLog returns the output of the named process, or the supervisor's
// own log when name is empty.
func (c *Client) GetLog(ctx context.Context, name string) (*LogInfo, error) {
	return c.pollLog(ctx, name, 0, nil)
}

// WatchLog waits for the log to have more than last.
func (c *Client) WatchLog(ctx context.Context, name string, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, name, MaxPollTime, last)
}

// NewClient returns a Client handle.  The transport may be nil to use a
// default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t http.RoundTripper, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		base:   baseURI,
		client: &http.Client{Transport: t},
		procs:  make(map[string]*ProcessInfo),
		logs:   make(map[string]*LogInfo),
	}
}
