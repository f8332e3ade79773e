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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tilegarden/postgis-tileserver/internal/cache"
	"github.com/tilegarden/postgis-tileserver/internal/data"
)

// mockSource is a scriptable in-memory source for handler tests.
type mockSource struct {
	id       string
	format   data.DataFormat
	tilejson data.TileJSON
	minZoom  *int
	maxZoom  *int
	tile     []byte
	err      error
	delay    time.Duration
}

func (m *mockSource) ID() string              { return m.id }
func (m *mockSource) TileJSON() data.TileJSON { return m.tilejson }
func (m *mockSource) Format() data.DataFormat { return m.format }
func (m *mockSource) Clone() data.Source      { clone := *m; return &clone }

func (m *mockSource) IsValidZoom(zoom int) bool {
	if m.minZoom != nil && zoom < *m.minZoom {
		return false
	}
	if m.maxZoom != nil && zoom > *m.maxZoom {
		return false
	}
	return true
}

func (m *mockSource) GetTile(ctx context.Context, xyz data.Xyz, query map[string]string) ([]byte, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.tile, nil
}

func mvtSource(id string, tile []byte) *mockSource {
	return &mockSource{id: id, format: data.FormatMvt, tilejson: data.TileJSON{TileJSON: "2.2.0", Name: id, Tiles: []string{}}, tile: tile}
}

func setupTestService(sources data.Sources) {
	serviceInstance = &Service{
		state: NewAppState(sources),
		cache: cache.NewDisabledCache(),
	}
}

func doRequest(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router := initRouter("")
	normalizePathHandler(router).ServeHTTP(rr, req)
	return rr
}

func TestHandleHealth(t *testing.T) {
	setupTestService(data.Sources{})

	req := httptest.NewRequest("GET", "/health", nil)
	rr := doRequest(t, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "OK" {
		t.Errorf("expected body OK, got %q", body)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected Cache-Control no-cache, got %q", cc)
	}
}

func TestHandleIndex(t *testing.T) {
	setupTestService(data.Sources{})

	rr := doRequest(t, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "postgis-tileserver") {
		t.Errorf("expected banner, got %q", rr.Body.String())
	}
}

func TestHandleCatalogSorted(t *testing.T) {
	setupTestService(data.Sources{
		"b": mvtSource("b", nil),
		"a": mvtSource("a", nil),
	})

	rr := doRequest(t, httptest.NewRequest("GET", "/catalog", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var entries []IndexEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].ID != "a" || entries[1].ID != "b" {
		t.Errorf("catalog must be sorted by id, got %+v", entries)
	}
}

func TestSortIndexEntriesNameAbsentFirst(t *testing.T) {
	entries := []IndexEntry{
		{ID: "a", Name: "B"},
		{ID: "a"},
	}
	sortIndexEntries(entries)
	if entries[0].Name != "" || entries[1].Name != "B" {
		t.Errorf("absent name sorts before present name, got %+v", entries)
	}
}

func TestCatalogOmitsAbsentFields(t *testing.T) {
	src := mvtSource("a", nil)
	src.tilejson.Name = ""
	setupTestService(data.Sources{"a": src})

	rr := doRequest(t, httptest.NewRequest("GET", "/catalog", nil))
	var raw []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw[0]["name"]; ok {
		t.Errorf("absent name must be omitted, got %v", raw[0])
	}
	if raw[0]["id"] != "a" {
		t.Errorf("expected id a, got %v", raw[0])
	}
}

func TestHandleTileMultiSourceOrdering(t *testing.T) {
	foo := mvtSource("foo", []byte("FOO"))
	foo.delay = 30 * time.Millisecond // slowest source first in the ID list
	bar := mvtSource("bar", []byte("BAR"))
	setupTestService(data.Sources{"foo": foo, "bar": bar})

	rr := doRequest(t, httptest.NewRequest("GET", "/foo,bar/3/2/1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := rr.Body.String(); body != "FOOBAR" {
		t.Errorf("body must preserve source_ids order, got %q", body)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-protobuf" {
		t.Errorf("expected application/x-protobuf, got %q", ct)
	}
}

func TestHandleTileMissingSource(t *testing.T) {
	setupTestService(data.Sources{})

	rr := doRequest(t, httptest.NewRequest("GET", "/missing/0/0/0", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Source missing does not exist") {
		t.Errorf("unexpected message %q", rr.Body.String())
	}
}

func TestHandleTileAllFilteredByZoom(t *testing.T) {
	minZoom := 6
	src := mvtSource("a", []byte("A"))
	src.minZoom = &minZoom
	setupTestService(data.Sources{"a": src})

	rr := doRequest(t, httptest.NewRequest("GET", "/a/5/0/0", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "No valid sources found") {
		t.Errorf("unexpected message %q", rr.Body.String())
	}
}

func TestHandleTileZoomFilterSkipsSilently(t *testing.T) {
	maxZoom := 4
	low := mvtSource("low", []byte("LOW"))
	low.maxZoom = &maxZoom
	all := mvtSource("all", []byte("ALL"))
	setupTestService(data.Sources{"low": low, "all": all})

	rr := doRequest(t, httptest.NewRequest("GET", "/low,all/9/0/0", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "ALL" {
		t.Errorf("filtered source must not contribute, got %q", body)
	}
}

func TestHandleTileFormatMismatch(t *testing.T) {
	mvt := mvtSource("vector", []byte("V"))
	png := &mockSource{id: "raster", format: data.FormatPng, tile: []byte("P")}
	setupTestService(data.Sources{"vector": mvt, "raster": png})

	rr := doRequest(t, httptest.NewRequest("GET", "/vector,raster/3/1/1", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Cannot merge sources with mvt with png") {
		t.Errorf("unexpected message %q", rr.Body.String())
	}
}

func TestHandleTileEmptyBody(t *testing.T) {
	setupTestService(data.Sources{"a": mvtSource("a", nil), "b": mvtSource("b", []byte{})})

	rr := doRequest(t, httptest.NewRequest("GET", "/a,b/0/0/0", nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-protobuf" {
		t.Errorf("204 must still carry the format content type, got %q", ct)
	}
}

func TestHandleTileBackendError(t *testing.T) {
	bad := mvtSource("bad", nil)
	bad.err = errors.New("relation dropped")
	setupTestService(data.Sources{"bad": bad})

	rr := doRequest(t, httptest.NewRequest("GET", "/bad/1/0/0", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "relation dropped") {
		t.Errorf("client sees the error string, got %q", rr.Body.String())
	}
}

func TestHandleTileInvalidCoordinates(t *testing.T) {
	setupTestService(data.Sources{"a": mvtSource("a", []byte("A"))})

	tests := []struct {
		name string
		url  string
	}{
		{"Non-integer zoom", "/a/zoom/0/0"},
		{"Non-integer x", "/a/3/x/0"},
		{"Non-integer y", "/a/3/0/y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, httptest.NewRequest("GET", tt.url, nil))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestHandleTileNegativeCoordinatesReachSource(t *testing.T) {
	// zoom validation is a source concern, not a router concern
	setupTestService(data.Sources{"a": mvtSource("a", []byte("A"))})

	rr := doRequest(t, httptest.NewRequest("GET", "/a/-1/-2/-3", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestHandleTileDuplicateIDs(t *testing.T) {
	setupTestService(data.Sources{"a": mvtSource("a", []byte("A"))})

	rr := doRequest(t, httptest.NewRequest("GET", "/a,a/3/0/0", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "AA" {
		t.Errorf("duplicate IDs are served twice, got %q", body)
	}
}

func TestHandleTileJSONRewriteURL(t *testing.T) {
	setupTestService(data.Sources{"a": mvtSource("a", nil)})

	req := httptest.NewRequest("GET", "/a?k=v&q=1", nil)
	req.Host = "example.com"
	req.Header.Set("x-rewrite-url", "/prefix/a?k=v&q=1")
	req.Header.Set("X-Forwarded-Proto", "https")

	rr := doRequest(t, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var tj data.TileJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &tj); err != nil {
		t.Fatal(err)
	}
	want := "https://example.com/prefix/a/{z}/{x}/{y}?k=v&q=1"
	if len(tj.Tiles) != 1 || tj.Tiles[0] != want {
		t.Errorf("expected tiles [%s], got %v", want, tj.Tiles)
	}
}

func TestHandleTileJSONMergesZoomAndBounds(t *testing.T) {
	a := mvtSource("a", nil)
	a.tilejson.MinZoom = intPtr(4)
	a.tilejson.MaxZoom = intPtr(10)
	a.tilejson.Bounds = &data.Bounds{Minx: -10, Miny: -10, Maxx: 0, Maxy: 0}
	b := mvtSource("b", nil)
	b.tilejson.MinZoom = intPtr(2)
	b.tilejson.MaxZoom = intPtr(14)
	b.tilejson.Bounds = &data.Bounds{Minx: -5, Miny: -5, Maxx: 5, Maxy: 5}
	setupTestService(data.Sources{"a": a, "b": b})

	req := httptest.NewRequest("GET", "/a,b", nil)
	req.Host = "localhost:3000"
	rr := doRequest(t, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var tj data.TileJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &tj); err != nil {
		t.Fatal(err)
	}
	if tj.MinZoom == nil || *tj.MinZoom != 2 {
		t.Errorf("expected minzoom 2, got %v", tj.MinZoom)
	}
	if tj.MaxZoom == nil || *tj.MaxZoom != 14 {
		t.Errorf("expected maxzoom 14, got %v", tj.MaxZoom)
	}
	if tj.Bounds == nil || *tj.Bounds != (data.Bounds{Minx: -10, Miny: -10, Maxx: 5, Maxy: 5}) {
		t.Errorf("expected widened bounds, got %+v", tj.Bounds)
	}
	want := "http://localhost:3000/a,b/{z}/{x}/{y}"
	if len(tj.Tiles) != 1 || tj.Tiles[0] != want {
		t.Errorf("expected tiles [%s], got %v", want, tj.Tiles)
	}
}

func TestHandleTileJSONUnknownSource(t *testing.T) {
	setupTestService(data.Sources{})

	rr := doRequest(t, httptest.NewRequest("GET", "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestTrailingSlashNormalized(t *testing.T) {
	setupTestService(data.Sources{"a": mvtSource("a", []byte("A"))})

	rr := doRequest(t, httptest.NewRequest("GET", "/a/3/0/0/", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("trailing slash must be merged, got %d", rr.Code)
	}

	rr = doRequest(t, httptest.NewRequest("GET", "/health/", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("trailing slash on fixed routes must be merged, got %d", rr.Code)
	}
}

func TestRefreshSwapsSnapshotAtomically(t *testing.T) {
	old := data.Sources{"a": mvtSource("a", []byte("OLD"))}
	setupTestService(old)

	// a request that started before the swap keeps the old snapshot
	before := serviceInstance.state.Sources()

	serviceInstance.state.Install(data.Sources{"a": mvtSource("a", []byte("NEW"))})

	if tile, _ := before["a"].GetTile(context.Background(), data.Xyz{}, nil); string(tile) != "OLD" {
		t.Errorf("in-flight snapshot must stay intact, got %q", tile)
	}

	rr := doRequest(t, httptest.NewRequest("GET", "/a/0/0/0", nil))
	if body := rr.Body.String(); body != "NEW" {
		t.Errorf("new requests see the new registry, got %q", body)
	}
}

func intPtr(v int) *int { return &v }
