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
)

// PgFunctionSource serves tiles from a database function taking
// (z integer, x integer, y integer, query_params json) and returning the
// tile payload. Unlike table sources it forwards the request query string.
type PgFunctionSource struct {
	id       string
	schema   string
	function string
	minZoom  *int
	maxZoom  *int
	sql      PgSqlInfo
	pool     *Pool
}

// NewPgFunctionSource wraps a declared tile-producing function.
func NewPgFunctionSource(id, schema, function string, minZoom, maxZoom *int, pool *Pool) *PgFunctionSource {
	return &PgFunctionSource{
		id:       id,
		schema:   schema,
		function: function,
		minZoom:  cloneIntPtr(minZoom),
		maxZoom:  cloneIntPtr(maxZoom),
		sql:      FunctionToQuery(schema, function),
		pool:     pool,
	}
}

func (s *PgFunctionSource) ID() string {
	return s.id
}

func (s *PgFunctionSource) TileJSON() TileJSON {
	return TileJSON{
		TileJSON: "2.2.0",
		Name:     s.id,
		Scheme:   "xyz",
		Tiles:    []string{},
		MinZoom:  cloneIntPtr(s.minZoom),
		MaxZoom:  cloneIntPtr(s.maxZoom),
	}
}

func (s *PgFunctionSource) Format() DataFormat {
	return FormatMvt
}

func (s *PgFunctionSource) IsValidZoom(zoom int) bool {
	if s.minZoom != nil && zoom < *s.minZoom {
		return false
	}
	if s.maxZoom != nil && zoom > *s.maxZoom {
		return false
	}
	return true
}

// GetTile invokes the function with the tile address and the request query
// string encoded as JSON.
func (s *PgFunctionSource) GetTile(ctx context.Context, xyz Xyz, query map[string]string) ([]byte, error) {
	if query == nil {
		query = map[string]string{}
	}
	params, err := json.Marshal(query)
	if err != nil {
		return nil, eris.Wrapf(err, "Can't encode query params for %s", s.id)
	}

	var tile []byte
	err = s.pool.db.QueryRow(ctx, s.sql.Query, xyz.Z, xyz.X, xyz.Y, string(params)).Scan(&tile)
	if err != nil {
		return nil, eris.Wrapf(err, "Can't get %s tile at %d/%d/%d", s.id, xyz.Z, xyz.X, xyz.Y)
	}
	return tile, nil
}

func (s *PgFunctionSource) Clone() Source {
	return &PgFunctionSource{
		id:       s.id,
		schema:   s.schema,
		function: s.function,
		minZoom:  cloneIntPtr(s.minZoom),
		maxZoom:  cloneIntPtr(s.maxZoom),
		sql:      s.sql,
		pool:     s.pool,
	}
}
