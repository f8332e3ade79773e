package service

/*
 Copyright 2019 - 2025 Crunchy Data Solutions, Inc.
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at
      http://www.apache.org/licenses/LICENSE-2.0
 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	log "github.com/sirupsen/logrus"
	"github.com/theckman/httpforwarded"

	"github.com/tilegarden/postgis-tileserver/internal/cache"
	"github.com/tilegarden/postgis-tileserver/internal/conf"
	"github.com/tilegarden/postgis-tileserver/internal/data"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// AppState owns the source registry snapshot served to requests. Handlers
// read the pointer once per request; Install swaps it atomically, so a
// request that started under the old registry finishes under it.
type AppState struct {
	sources atomic.Pointer[data.Sources]
}

// NewAppState creates serving state over an initial registry.
func NewAppState(sources data.Sources) *AppState {
	state := &AppState{}
	state.Install(sources)
	return state
}

// Sources returns the current registry snapshot.
func (s *AppState) Sources() data.Sources {
	return *s.sources.Load()
}

// Install atomically publishes a new registry.
func (s *AppState) Install(sources data.Sources) {
	s.sources.Store(&sources)
}

// Service bundles the serving state shared by the HTTP handlers.
type Service struct {
	state *AppState
	cache *cache.TileCache
}

var serviceInstance *Service

// Initialize wires the handler globals.
func Initialize(state *AppState, tileCache *cache.TileCache) {
	serviceInstance = &Service{state: state, cache: tileCache}
}

// appError is a handler error carrying the HTTP status to report.
type appError struct {
	Error   error
	Message string
	Code    int
}

// appHandler is our HTTP handler type: handlers return an error value and
// the wrapper turns it into a response.
type appHandler func(http.ResponseWriter, *http.Request) *appError

func (fn appHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if e := fn(w, r); e != nil {
		if e.Code >= http.StatusInternalServerError {
			log.Errorf("%s %s: %v", r.Method, r.URL.Path, e.Error)
		} else {
			log.Debugf("%s %s: %d %s", r.Method, r.URL.Path, e.Code, e.Message)
		}
		http.Error(w, e.Message, e.Code)
	}
}

func appErrorBadRequest(err error, msg string) *appError {
	return &appError{Error: err, Message: msg, Code: http.StatusBadRequest}
}

func appErrorNotFound(err error, msg string) *appError {
	return &appError{Error: err, Message: msg, Code: http.StatusNotFound}
}

func appErrorInternal(err error, msg string) *appError {
	return &appError{Error: err, Message: msg, Code: http.StatusInternalServerError}
}

func writeJSON(w http.ResponseWriter, contentType string, payload any) *appError {
	w.Header().Set("Content-Type", contentType)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return appErrorInternal(err, "Error encoding JSON response")
	}
	return nil
}

// normalizePathHandler merges duplicate and trailing slashes before route
// matching, so "/a,b/" and "/a,b" address the same source set.
func normalizePathHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		for strings.Contains(path, "//") {
			path = strings.ReplaceAll(path, "//", "/")
		}
		if len(path) > 1 {
			path = strings.TrimRight(path, "/")
			if path == "" {
				path = "/"
			}
		}
		r.URL.Path = path
		next.ServeHTTP(w, r)
	})
}

// serveSchemeHost derives the public scheme and host of the request,
// honoring reverse-proxy forwarding headers.
func serveSchemeHost(r *http.Request) (string, string) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host

	// IETF standard "Forwarded" header
	if fwd, err := httpforwarded.ParseFromRequest(r); err == nil && len(fwd) > 0 {
		if proto, ok := fwd["proto"]; ok && len(proto) > 0 {
			scheme = proto[0]
		}
		if fwdHost, ok := fwd["host"]; ok && len(fwdHost) > 0 {
			host = fwdHost[0]
		}
		return scheme, host
	}

	// legacy X-Forwarded-* headers
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
		host = fwdHost
	}
	return scheme, host
}

// Serve starts the HTTP server and blocks until it exits. Shutdown is
// abrupt: in-flight requests are abandoned when the listener closes.
func Serve(state *AppState, tileCache *cache.TileCache) error {
	Initialize(state, tileCache)

	router := initRouter(conf.Configuration.Server.BasePath)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET"}),
	)

	var handler http.Handler = router
	handler = normalizePathHandler(handler)
	handler = handlers.CompressHandler(handler)
	handler = corsHandler(handler)
	handler = handlers.CombinedLoggingHandler(log.StandardLogger().Writer(), handler)

	addr := conf.Configuration.Server.ListenAddresses
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		IdleTimeout: time.Duration(conf.Configuration.Server.KeepAlive) * time.Second,
	}

	log.Infof("Listening on %s", addr)
	return srv.ListenAndServe()
}
