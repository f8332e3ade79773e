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
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/tilegarden/postgis-tileserver/internal/data"
)

// initRouter sets up the HTTP routes
func initRouter(basePath string) *mux.Router {
	router := mux.NewRouter()

	// Apply base path if specified
	var r *mux.Router
	if basePath != "" {
		log.Infof("Using base path: %s", basePath)
		r = router.PathPrefix(basePath).Subrouter()
	} else {
		r = router
	}

	// Root endpoint - placeholder for a future web front
	r.Handle("/", appHandler(handleIndex)).Methods("GET", "HEAD")

	// Health check endpoint for readiness and liveness probes
	r.Handle("/health", appHandler(handleHealth)).Methods("GET", "HEAD")

	// Source catalog
	r.Handle("/catalog", appHandler(handleCatalog)).Methods("GET", "HEAD")

	// TileJSON for one source or a comma-delimited set
	r.Handle("/{source_ids}", appHandler(handleTileJSON)).Methods("GET", "HEAD")

	// Tile endpoint (with cache middleware)
	r.Handle("/{source_ids}/{z}/{x}/{y}", tileCacheMiddleware(appHandler(handleTile))).Methods("GET", "HEAD")

	return router
}

// handleIndex serves the root banner
func handleIndex(w http.ResponseWriter, r *http.Request) *appError {
	w.Header().Set("Content-Type", ContentTypeText)
	w.Write([]byte("postgis-tileserver is running. Eventually this will be a nice web front."))
	return nil
}

// getSources resolves a comma-delimited ID list against a registry
// snapshot, filtering by zoom when one is given and unifying the data
// format across the set.
func getSources(sources data.Sources, sourceIDs string, zoom *int) ([]data.Source, data.DataFormat, *appError) {
	var out []data.Source
	var format data.DataFormat

	for _, id := range strings.Split(sourceIDs, ",") {
		src, ok := sources[id]
		if !ok {
			return nil, "", appErrorNotFound(nil, "Source "+id+" does not exist")
		}
		if zoom != nil && !src.IsValidZoom(*zoom) {
			log.Debugf("Zoom %d is not valid for source %s", *zoom, id)
			continue
		}
		srcFormat := src.Format()
		if format == "" {
			format = srcFormat
		} else if format != srcFormat {
			return nil, "", appErrorNotFound(nil,
				"Cannot merge sources with "+string(format)+" with "+string(srcFormat))
		}
		out = append(out, src)
	}

	if len(out) == 0 {
		return nil, "", appErrorNotFound(nil, "No valid sources found")
	}
	return out, format, nil
}
