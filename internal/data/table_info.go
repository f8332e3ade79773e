package data

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
	"fmt"
)

const (
	DefaultExtent   = 4096
	DefaultBuffer   = 64
	DefaultClipGeom = true
)

// Bounds is a lon/lat bounding box, serialized as [west, south, east, north].
type Bounds struct {
	Minx float64
	Miny float64
	Maxx float64
	Maxy float64
}

// MarshalJSON writes the TileJSON array form.
func (b Bounds) MarshalJSON() ([]byte, error) {
	return json.Marshal([]float64{b.Minx, b.Miny, b.Maxx, b.Maxy})
}

// UnmarshalJSON reads the TileJSON array form.
func (b *Bounds) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 4 {
		return fmt.Errorf("bounds must have 4 elements, got %d", len(arr))
	}
	b.Minx, b.Miny, b.Maxx, b.Maxy = arr[0], arr[1], arr[2], arr[3]
	return nil
}

// Extend widens the box to also cover other.
func (b Bounds) Extend(other Bounds) Bounds {
	out := b
	if other.Minx < out.Minx {
		out.Minx = other.Minx
	}
	if other.Miny < out.Miny {
		out.Miny = other.Miny
	}
	if other.Maxx > out.Maxx {
		out.Maxx = other.Maxx
	}
	if other.Maxy > out.Maxy {
		out.Maxy = other.Maxy
	}
	return out
}

// TableInfo describes one PostGIS table geometry column served as a tile
// layer. Instances are built by the config/introspection merge and are not
// mutated after the source registry is installed.
type TableInfo struct {
	Schema         string
	Table          string
	GeometryColumn string
	Srid           int
	GeometryType   string
	IDColumn       string
	Extent         *int
	Buffer         *int
	ClipGeom       *bool
	MinZoom        *int
	MaxZoom        *int
	Bounds         *Bounds
	// Properties maps external property names to their PostgreSQL type names
	Properties map[string]string
	// PropMapping maps external property names to the actual column names
	PropMapping map[string]string
	// Unrecognized preserves config keys this version does not understand
	Unrecognized map[string]any
}

// FormatID returns the canonical "schema.table.column" identifier of the
// table geometry. It names the layer inside generated MVT payloads.
func (t *TableInfo) FormatID() string {
	return fmt.Sprintf("%s.%s.%s", t.Schema, t.Table, t.GeometryColumn)
}

// Clone returns a deep copy.
func (t *TableInfo) Clone() TableInfo {
	out := *t
	out.Extent = cloneIntPtr(t.Extent)
	out.Buffer = cloneIntPtr(t.Buffer)
	out.ClipGeom = cloneBoolPtr(t.ClipGeom)
	out.MinZoom = cloneIntPtr(t.MinZoom)
	out.MaxZoom = cloneIntPtr(t.MaxZoom)
	if t.Bounds != nil {
		b := *t.Bounds
		out.Bounds = &b
	}
	out.Properties = cloneStringMap(t.Properties)
	out.PropMapping = cloneStringMap(t.PropMapping)
	if t.Unrecognized != nil {
		out.Unrecognized = make(map[string]any, len(t.Unrecognized))
		for k, v := range t.Unrecognized {
			out.Unrecognized[k] = v
		}
	}
	return out
}

// SqlTableInfoMapMapMap indexes introspected tables by
// schema, table and geometry column.
type SqlTableInfoMapMapMap map[string]map[string]map[string]TableInfo

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneBoolPtr(v *bool) *bool {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
