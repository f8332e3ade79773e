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
	"sort"

	"github.com/tilegarden/postgis-tileserver/internal/data"
)

// IndexEntry is one catalog listing, assembled from a source's TileJSON.
type IndexEntry struct {
	ID           string             `json:"id"`
	Name         string             `json:"name,omitempty"`
	Description  string             `json:"description,omitempty"`
	Attribution  string             `json:"attribution,omitempty"`
	VectorLayers []data.VectorLayer `json:"vector_layer,omitempty"`
}

// sortIndexEntries orders catalog entries by (id, name); an absent name
// sorts before any present name.
func sortIndexEntries(entries []IndexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ID != entries[j].ID {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Name < entries[j].Name
	})
}

// handleCatalog lists every published source.
func handleCatalog(w http.ResponseWriter, r *http.Request) *appError {
	snapshot := serviceInstance.state.Sources()

	entries := make([]IndexEntry, 0, len(snapshot))
	for id, src := range snapshot {
		tilejson := src.TileJSON()
		entries = append(entries, IndexEntry{
			ID:           id,
			Name:         tilejson.Name,
			Description:  tilejson.Description,
			Attribution:  tilejson.Attribution,
			VectorLayers: tilejson.VectorLayers,
		})
	}
	sortIndexEntries(entries)

	return writeJSON(w, ContentTypeJSON, entries)
}
