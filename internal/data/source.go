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
	"context"
	"fmt"
	"regexp"
)

// DataFormat identifies the encoding a source produces. All sources merged
// into one response must share a format.
type DataFormat string

const (
	FormatMvt  DataFormat = "mvt"
	FormatJSON DataFormat = "json"
	FormatPng  DataFormat = "png"
)

// ContentType returns the HTTP content type for the format.
func (f DataFormat) ContentType() string {
	switch f {
	case FormatMvt:
		return "application/x-protobuf"
	case FormatJSON:
		return "application/json"
	case FormatPng:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// Xyz is a tile address.
type Xyz struct {
	Z int
	X int
	Y int
}

// Source is the capability shared by every tile backend. Implementations
// are immutable once installed; Clone hands an independent copy to each
// worker.
type Source interface {
	ID() string
	TileJSON() TileJSON
	Format() DataFormat
	IsValidZoom(zoom int) bool
	GetTile(ctx context.Context, xyz Xyz, query map[string]string) ([]byte, error)
	Clone() Source
}

// Sources maps source IDs to sources. A registry instance is never mutated
// after installation; refreshes swap in a whole new map.
type Sources map[string]Source

// Clone deep-copies the registry.
func (s Sources) Clone() Sources {
	out := make(Sources, len(s))
	for id, src := range s {
		out[id] = src.Clone()
	}
	return out
}

// ReservedKeywords are path segments that can never be source IDs. Some are
// reserved for future use. Reserved keywords never end in a "dot number"
// (e.g. ".1").
var ReservedKeywords = []string{
	"catalog", "config", "health", "help", "index", "manifest", "refresh", "reload", "status",
}

var dotNumberSuffix = regexp.MustCompile(`\.\d+$`)

// ValidateSourceID rejects IDs that collide with reserved path segments or
// end in a dot-number suffix (reserved for tile coordinate disambiguation).
func ValidateSourceID(id string) error {
	if id == "" {
		return fmt.Errorf("source ID must not be empty")
	}
	for _, keyword := range ReservedKeywords {
		if id == keyword {
			return fmt.Errorf("source ID %s is a reserved keyword", id)
		}
	}
	if dotNumberSuffix.MatchString(id) {
		return fmt.Errorf("source ID %s ends in a reserved numeric suffix", id)
	}
	return nil
}
