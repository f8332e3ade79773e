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
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tilegarden/postgis-tileserver/internal/data"
)

// handleTile serves one tile for a comma-delimited source set. The
// per-source fetches run concurrently; the response body preserves the
// order of the requested IDs.
func handleTile(w http.ResponseWriter, r *http.Request) *appError {
	vars := mux.Vars(r)

	z, err := strconv.Atoi(vars["z"])
	if err != nil {
		return appErrorBadRequest(err, "Invalid zoom level: "+vars["z"])
	}
	x, err := strconv.Atoi(vars["x"])
	if err != nil {
		return appErrorBadRequest(err, "Invalid x coordinate: "+vars["x"])
	}
	y, err := strconv.Atoi(vars["y"])
	if err != nil {
		return appErrorBadRequest(err, "Invalid y coordinate: "+vars["y"])
	}

	// snapshot the registry once: a refresh mid-request must not be seen
	snapshot := serviceInstance.state.Sources()
	sources, format, appErr := getSources(snapshot, vars["source_ids"], &z)
	if appErr != nil {
		return appErr
	}

	xyz := data.Xyz{Z: z, X: x, Y: y}
	query := queryMap(r)

	log.Debugf("Tile request: sources=%s z=%d x=%d y=%d", vars["source_ids"], z, x, y)

	tiles := make([][]byte, len(sources))
	g, ctx := errgroup.WithContext(r.Context())
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			tile, err := src.GetTile(ctx, xyz, query)
			if err != nil {
				return err
			}
			tiles[i] = tile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return appErrorInternal(err, err.Error())
	}

	var body []byte
	for _, tile := range tiles {
		body = append(body, tile...)
	}

	w.Header().Set("Content-Type", format.ContentType())
	if len(body) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return appErrorInternal(err, "Error writing tile data")
	}
	return nil
}

// queryMap copies the URL query into the by-value mapping handed to each
// source. Only the first value of a repeated parameter is kept.
func queryMap(r *http.Request) map[string]string {
	values := r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	query := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	return query
}
