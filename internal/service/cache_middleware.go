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
	"bytes"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tilegarden/postgis-tileserver/internal/cache"
	"github.com/tilegarden/postgis-tileserver/internal/conf"
)

// tileCacheMiddleware wraps the tile handler to check the in-memory cache
// first. Empty tiles (204) are cached too so repeated requests for blank
// areas never reach the database.
func tileCacheMiddleware(next appHandler) appHandler {
	return func(w http.ResponseWriter, r *http.Request) *appError {
		s := serviceInstance
		if s == nil || s.cache == nil || !s.cache.Enabled() {
			return next(w, r)
		}

		vars := mux.Vars(r)
		key := cache.Key(vars["source_ids"], vars["z"], vars["x"], vars["y"], r.URL.RawQuery)

		maxAge := conf.Configuration.Cache.BrowserCacheMaxAge

		if entry, found := s.cache.Get(key); found {
			w.Header().Set("Content-Type", entry.ContentType)
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
			if len(entry.Body) == 0 {
				w.WriteHeader(http.StatusNoContent)
			} else {
				w.WriteHeader(http.StatusOK)
				w.Write(entry.Body)
			}
			return nil
		}

		w.Header().Set("X-Cache", "MISS")
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))

		recorder := &responseCapturer{
			ResponseWriter: w,
			body:           &bytes.Buffer{},
		}

		appErr := next(recorder, r)

		if appErr == nil && (recorder.statusCode == http.StatusOK || recorder.statusCode == http.StatusNoContent) {
			s.cache.Set(key, cache.Entry{
				ContentType: recorder.Header().Get("Content-Type"),
				Body:        recorder.body.Bytes(),
			})
		}

		return appErr
	}
}

// responseCapturer captures the response body to store in cache
type responseCapturer struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (rc *responseCapturer) Write(b []byte) (int, error) {
	// If WriteHeader wasn't called explicitly, assume 200 OK
	if rc.statusCode == 0 {
		rc.statusCode = http.StatusOK
	}

	rc.body.Write(b)

	return rc.ResponseWriter.Write(b)
}

func (rc *responseCapturer) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}
