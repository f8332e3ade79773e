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
	"encoding/json"

	"github.com/rotisserie/eris"
	log "github.com/sirupsen/logrus"
)

// GetTableSources queries the database for every registered geometry column
// and indexes the results by schema, table and geometry column. Failure here
// is fatal for startup.
func GetTableSources(ctx context.Context, pool *Pool) (SqlTableInfoMapMapMap, error) {
	rows, err := pool.db.Query(ctx, sqlTableSources)
	if err != nil {
		return nil, eris.Wrap(err, "Can't get table sources")
	}
	defer rows.Close()

	res := make(SqlTableInfoMapMapMap)
	for rows.Next() {
		var (
			schema, table, geom string
			srid                int
			geomType            *string
			propsJSON           string
		)
		if err := rows.Scan(&schema, &table, &geom, &srid, &geomType, &propsJSON); err != nil {
			return nil, eris.Wrap(err, "Can't read table source row")
		}

		properties, err := jsonToPropertyMap(propsJSON)
		if err != nil {
			log.Warnf("Table %s.%s has malformed properties metadata, skipping: %v", schema, table, err)
			continue
		}

		extent := DefaultExtent
		buffer := DefaultBuffer
		clipGeom := DefaultClipGeom
		info := TableInfo{
			Schema:         schema,
			Table:          table,
			GeometryColumn: geom,
			Srid:           srid,
			Extent:         &extent,
			Buffer:         &buffer,
			ClipGeom:       &clipGeom,
			Properties:     properties,
			Unrecognized:   map[string]any{},
		}
		if geomType != nil {
			info.GeometryType = *geomType
		}

		byTable, ok := res[schema]
		if !ok {
			byTable = make(map[string]map[string]TableInfo)
			res[schema] = byTable
		}
		byGeom, ok := byTable[table]
		if !ok {
			byGeom = make(map[string]TableInfo)
			byTable[table] = byGeom
		}
		if prev, dup := byGeom[geom]; dup {
			log.Warnf("Unexpected duplicate table %s", prev.FormatID())
		}
		byGeom[geom] = info
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "Can't get table sources")
	}

	return res, nil
}

// GetBounds computes the lon/lat extent of a table. Errors are reported to
// the caller but are never fatal; a source without bounds still serves.
func GetBounds(ctx context.Context, pool *Pool, info *TableInfo) (*Bounds, error) {
	var xmin, ymin, xmax, ymax *float64
	query := sqlBounds(info)
	log.Debugf("Bounds query: %s", query)
	err := pool.db.QueryRow(ctx, query).Scan(&xmin, &ymin, &xmax, &ymax)
	if err != nil {
		return nil, eris.Wrapf(err, "Can't get bounds for %s", info.FormatID())
	}
	// an empty table yields NULLs
	if xmin == nil || ymin == nil || xmax == nil || ymax == nil {
		return nil, nil
	}
	return &Bounds{Minx: *xmin, Miny: *ymin, Maxx: *xmax, Maxy: *ymax}, nil
}

// jsonToPropertyMap parses the aggregated {column: type} object produced by
// the introspection query. Anything that is not a flat object of strings is
// rejected.
func jsonToPropertyMap(raw string) (map[string]string, error) {
	var props map[string]string
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, eris.Wrap(err, "properties is not a JSON object of type names")
	}
	if props == nil {
		return nil, eris.New("properties is not a JSON object of type names")
	}
	return props, nil
}
