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
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/tilegarden/postgis-tileserver/internal/data"
)

// handleTileJSON serves the TileJSON of one source or the merged TileJSON
// of a comma-delimited set.
func handleTileJSON(w http.ResponseWriter, r *http.Request) *appError {
	vars := mux.Vars(r)

	snapshot := serviceInstance.state.Sources()
	sources, _, appErr := getSources(snapshot, vars["source_ids"], nil)
	if appErr != nil {
		return appErr
	}

	tilesPath := r.URL.Path
	if rewrite := r.Header.Get("x-rewrite-url"); rewrite != "" {
		if path := parseXRewriteURL(rewrite); path != "" {
			tilesPath = path
		}
	}

	tilesURL, err := buildTilesURL(r, tilesPath)
	if err != nil {
		return appErrorBadRequest(err, fmt.Sprintf("Can't build tiles URL: %v", err))
	}

	tilejsons := make([]data.TileJSON, len(sources))
	for i, src := range sources {
		tilejsons[i] = src.TileJSON()
	}
	merged := data.MergeTileJSON(tilejsons)
	merged.Tiles = append(merged.Tiles, tilesURL)

	return writeJSON(w, ContentTypeJSON, merged)
}

// buildTilesURL renders the tile URL template for the TileJSON response from the
// request's public scheme/host, the resolved path, and the original query
// string.
func buildTilesURL(r *http.Request, tilesPath string) (string, error) {
	scheme, host := serveSchemeHost(r)
	base, err := url.Parse(fmt.Sprintf("%s://%s", scheme, host))
	if err != nil {
		return "", err
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid authority %q", host)
	}

	// template placeholders must survive verbatim, so the path is
	// concatenated rather than URL-encoded
	out := base.String() + tilesPath + "/{z}/{x}/{y}"
	if r.URL.RawQuery != "" {
		out += "?" + r.URL.RawQuery
	}
	return out, nil
}

// parseXRewriteURL extracts the path component of a reverse-proxy rewrite
// header, dropping any query string.
func parseXRewriteURL(header string) string {
	u, err := url.Parse(header)
	if err != nil {
		return ""
	}
	return u.Path
}
