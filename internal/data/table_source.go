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

	"github.com/rotisserie/eris"
	log "github.com/sirupsen/logrus"

	"github.com/tilegarden/postgis-tileserver/internal/conf"
)

// PgTableSource serves MVT tiles from one PostGIS table geometry column.
// The pool handle is shared; everything else is owned by the instance.
type PgTableSource struct {
	id       string
	info     TableInfo
	sql      PgSqlInfo
	tilejson TileJSON
	pool     *Pool
}

// NewPgTableSource compiles the tile query for a merged TableInfo and wraps
// it as a servable source.
func NewPgTableSource(id string, info TableInfo, pool *Pool) *PgTableSource {
	sql := TableToQuery(&info, pool.SupportsTileMargin())
	return &PgTableSource{
		id:       id,
		info:     info,
		sql:      sql,
		tilejson: tableTileJSON(id, &info),
		pool:     pool,
	}
}

func tableTileJSON(id string, info *TableInfo) TileJSON {
	fields := make(map[string]string, len(info.Properties))
	for name, pgType := range info.Properties {
		fields[name] = pgTypeToJSONType(pgType)
	}
	layer := VectorLayer{
		ID:      id,
		MinZoom: cloneIntPtr(info.MinZoom),
		MaxZoom: cloneIntPtr(info.MaxZoom),
		Fields:  fields,
	}
	return TileJSON{
		TileJSON:     "2.2.0",
		Name:         id,
		Attribution:  conf.Configuration.Metadata.Attribution,
		Scheme:       "xyz",
		Tiles:        []string{},
		MinZoom:      cloneIntPtr(info.MinZoom),
		MaxZoom:      cloneIntPtr(info.MaxZoom),
		Bounds:       info.Bounds,
		VectorLayers: []VectorLayer{layer},
	}
}

func (s *PgTableSource) ID() string {
	return s.id
}

func (s *PgTableSource) TileJSON() TileJSON {
	return s.tilejson.Clone()
}

func (s *PgTableSource) Format() DataFormat {
	return FormatMvt
}

// Info exposes the merged table metadata.
func (s *PgTableSource) Info() TableInfo {
	return s.info.Clone()
}

// Query exposes the compiled SQL.
func (s *PgTableSource) Query() PgSqlInfo {
	return s.sql
}

func (s *PgTableSource) IsValidZoom(zoom int) bool {
	if s.info.MinZoom != nil && zoom < *s.info.MinZoom {
		return false
	}
	if s.info.MaxZoom != nil && zoom > *s.info.MaxZoom {
		return false
	}
	return true
}

// GetTile runs the compiled query for one tile address. Table sources
// ignore the URL query.
func (s *PgTableSource) GetTile(ctx context.Context, xyz Xyz, query map[string]string) ([]byte, error) {
	var tile []byte
	err := s.pool.db.QueryRow(ctx, s.sql.Query, xyz.Z, xyz.X, xyz.Y).Scan(&tile)
	if err != nil {
		return nil, eris.Wrapf(err, "Can't get %s tile at %d/%d/%d", s.id, xyz.Z, xyz.X, xyz.Y)
	}
	log.Debugf("Tile %s %d/%d/%d: %d bytes", s.id, xyz.Z, xyz.X, xyz.Y, len(tile))
	return tile, nil
}

func (s *PgTableSource) Clone() Source {
	return &PgTableSource{
		id:       s.id,
		info:     s.info.Clone(),
		sql:      s.sql,
		tilejson: s.tilejson.Clone(),
		pool:     s.pool,
	}
}
