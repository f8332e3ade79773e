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

import "strings"

// TileJSON is the metadata document describing a tile source, per the
// TileJSON specification. Pointer fields distinguish absent values so that
// multi-source merging can treat them as identity.
type TileJSON struct {
	TileJSON     string        `json:"tilejson"`
	Name         string        `json:"name,omitempty"`
	Description  string        `json:"description,omitempty"`
	Attribution  string        `json:"attribution,omitempty"`
	Version      string        `json:"version,omitempty"`
	Scheme       string        `json:"scheme,omitempty"`
	Tiles        []string      `json:"tiles"`
	MinZoom      *int          `json:"minzoom,omitempty"`
	MaxZoom      *int          `json:"maxzoom,omitempty"`
	Bounds       *Bounds       `json:"bounds,omitempty"`
	Center       []float64     `json:"center,omitempty"`
	VectorLayers []VectorLayer `json:"vector_layers,omitempty"`
}

// VectorLayer describes one layer inside a vector tile source.
type VectorLayer struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	MinZoom     *int              `json:"minzoom,omitempty"`
	MaxZoom     *int              `json:"maxzoom,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Clone returns a deep copy.
func (tj TileJSON) Clone() TileJSON {
	out := tj
	out.MinZoom = cloneIntPtr(tj.MinZoom)
	out.MaxZoom = cloneIntPtr(tj.MaxZoom)
	if tj.Bounds != nil {
		b := *tj.Bounds
		out.Bounds = &b
	}
	if tj.Tiles != nil {
		out.Tiles = append([]string(nil), tj.Tiles...)
	}
	if tj.Center != nil {
		out.Center = append([]float64(nil), tj.Center...)
	}
	if tj.VectorLayers != nil {
		out.VectorLayers = make([]VectorLayer, len(tj.VectorLayers))
		for i, vl := range tj.VectorLayers {
			out.VectorLayers[i] = vl
			out.VectorLayers[i].MinZoom = cloneIntPtr(vl.MinZoom)
			out.VectorLayers[i].MaxZoom = cloneIntPtr(vl.MaxZoom)
			out.VectorLayers[i].Fields = cloneStringMap(vl.Fields)
		}
	}
	return out
}

// MergeTileJSON reduces the TileJSON documents of a multi-source request
// into one. The zoom range widens to cover every source, bounds take the
// element-wise union, and every other field comes from the first source.
// The input must be non-empty.
func MergeTileJSON(tilejsons []TileJSON) TileJSON {
	accum := tilejsons[0].Clone()
	for _, tj := range tilejsons[1:] {
		if tj.MinZoom != nil && (accum.MinZoom == nil || *accum.MinZoom > *tj.MinZoom) {
			accum.MinZoom = cloneIntPtr(tj.MinZoom)
		}
		if tj.MaxZoom != nil && (accum.MaxZoom == nil || *accum.MaxZoom < *tj.MaxZoom) {
			accum.MaxZoom = cloneIntPtr(tj.MaxZoom)
		}
		if tj.Bounds != nil {
			if accum.Bounds == nil {
				b := *tj.Bounds
				accum.Bounds = &b
			} else {
				b := accum.Bounds.Extend(*tj.Bounds)
				accum.Bounds = &b
			}
		}
	}
	return accum
}

// pgTypeToJSONType maps a PostgreSQL type name to the field type vocabulary
// used in TileJSON vector_layers.
func pgTypeToJSONType(pgType string) string {
	switch strings.ToLower(pgType) {
	case "int2", "int4", "int8", "float4", "float8", "numeric", "decimal":
		return "Number"
	case "bool":
		return "Boolean"
	default:
		return "String"
	}
}
