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
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/hspak/gopm3"
)

// Controller accepts control commands.  *gopm3.Router is one.
type Controller interface {
	Submit(ctx context.Context, cmd gopm3.ControlCommand) (*gopm3.ReconcileResult, error)
}

// Handler wraps a Supervisor, adding http.Handler functionality.  Reads
// go straight to the Supervisor; anything that changes state goes
// through the Controller.
type Handler struct {
	s    *gopm3.Supervisor
	c    Controller
	r    *mux.Router
	user string
	hash []byte
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

func formatEtag(serial int64) string {
	return strconv.Quote(strconv.FormatInt(serial, 10))
}

func parseEtag(tag string) (int64, bool) {
	tag = strings.TrimPrefix(tag, "W/")
	v, e := strconv.ParseInt(strings.Trim(tag, "\""), 10, 64)
	return v, e == nil
}

// pollWait honors the long poll headers, calling watch to wait for a
// change from the client's etag.
func pollWait(r *http.Request, watch func(ctx context.Context, old int64, d time.Duration)) {
	old, ok := parseEtag(r.Header.Get(PollEtagHeader))
	if !ok {
		return
	}
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if e != nil || secs <= 0 {
		return
	}
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	watch(r.Context(), old, time.Duration(secs)*time.Second)
}

// writeTagged writes v with an Etag, or 304 if the client has it already.
func (h *Handler) writeTagged(w http.ResponseWriter, r *http.Request, serial int64, v interface{}) {
	tag := formatEtag(serial)
	w.Header().Set("Etag", tag)
	if old, ok := parseEtag(r.Header.Get("If-None-Match")); ok && old == serial {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.writeJson(w, v)
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	pollWait(r, func(ctx context.Context, old int64, d time.Duration) {
		h.s.WatchSerial(ctx, old, d)
	})
	info := h.s.Info()
	h.writeTagged(w, r, info.Serial, info)
}

func (h *Handler) listProcesses(w http.ResponseWriter, r *http.Request) {
	pollWait(r, func(ctx context.Context, old int64, d time.Duration) {
		h.s.WatchProcesses(ctx, old, d)
	})
	names, serial := h.s.Names()
	h.writeTagged(w, r, serial, names)
}

func (h *Handler) getProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var werr error
	pollWait(r, func(ctx context.Context, old int64, d time.Duration) {
		_, werr = h.s.WatchProcess(ctx, name, old, d)
	})
	st, e := h.s.Status(name)
	if e != nil || werr != nil {
		h.writeError(w, &Error{http.StatusNotFound, KindNotFound, "process not found"})
		return
	}
	h.writeTagged(w, r, st.Serial, st)
}

func (h *Handler) getProcessLog(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	pollWait(r, func(ctx context.Context, old int64, d time.Duration) {
		h.s.WatchProcessLog(ctx, name, old, d)
	})
	recs, id, e := h.s.GetProcessLog(name, 0)
	if e != nil {
		h.writeError(w, errorFor(e))
		return
	}
	h.writeTagged(w, r, id, recs)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	pollWait(r, func(ctx context.Context, old int64, d time.Duration) {
		h.s.WatchLog(ctx, old, d)
	})
	recs, id := h.s.GetLog(0)
	h.writeTagged(w, r, id, recs)
}

func graceParam(r *http.Request) (time.Duration, *Error) {
	v := r.URL.Query().Get("timeout")
	if v == "" {
		return 0, nil
	}
	d, e := time.ParseDuration(v)
	if e != nil {
		if secs, e2 := strconv.Atoi(v); e2 == nil {
			return time.Duration(secs) * time.Second, nil
		}
		return 0, &Error{http.StatusBadRequest, "", "bad timeout: " + e.Error()}
	}
	return d, nil
}

func (h *Handler) command(kind gopm3.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		grace, ge := graceParam(r)
		if ge != nil {
			h.writeError(w, ge)
			return
		}
		cmd := gopm3.ControlCommand{
			Kind:  kind,
			Name:  mux.Vars(r)["name"],
			Grace: grace,
		}
		if cmd.Name != "" {
			if _, e := h.s.Status(cmd.Name); e != nil {
				h.writeError(w, errorFor(e))
				return
			}
		}
		res, e := h.c.Submit(r.Context(), cmd)
		switch {
		case e != nil:
			h.writeError(w, errorFor(e))
		case res != nil:
			h.writeJson(w, res)
		default:
			h.writeJson(w, ok)
		}
	}
}

// authorize wraps the router with HTTP basic auth when a password hash
// is configured.
func (h *Handler) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok && subtle.ConstantTimeCompare([]byte(user), []byte(h.user)) == 1 &&
			bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) == nil {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="gopm3"`)
		h.writeError(w, &Error{http.StatusUnauthorized, KindAuth, "unauthorized"})
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler returns the control API for s.  When cc.PasswordHash is set,
// every request needs basic auth as cc.User.
func NewHandler(s *gopm3.Supervisor, c Controller, cc gopm3.ControlConfig) *Handler {
	r := mux.NewRouter()
	h := &Handler{s: s, c: c, r: r, user: cc.User}
	if cc.PasswordHash != "" {
		h.hash = []byte(cc.PasswordHash)
		r.Use(h.authorize)
	}
	r.HandleFunc("/", h.getInfo).Methods("GET")
	r.HandleFunc("/processes", h.listProcesses).Methods("GET")
	r.HandleFunc("/processes/{name}", h.getProcess).Methods("GET")
	r.HandleFunc("/processes/{name}/log", h.getProcessLog).Methods("GET")
	r.HandleFunc("/processes/{name}/start", h.command(gopm3.CmdStart)).Methods("POST")
	r.HandleFunc("/processes/{name}/stop", h.command(gopm3.CmdStop)).Methods("POST")
	r.HandleFunc("/processes/{name}/restart", h.command(gopm3.CmdRestart)).Methods("POST")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/stop", h.command(gopm3.CmdStopAll)).Methods("POST")
	r.HandleFunc("/reload", h.command(gopm3.CmdReload)).Methods("POST")
	r.HandleFunc("/shutdown", h.command(gopm3.CmdShutdown)).Methods("POST")
	r.Handle("/metrics", promhttp.HandlerFor(s.Metrics().Registry(), promhttp.HandlerOpts{})).Methods("GET")
	return h
}
