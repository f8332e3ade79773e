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
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// sqlTableSources lists every geometry column registered in the database,
// with every other column of its table aggregated as a JSON object of
// {column: type}.
const sqlTableSources = `
WITH columns AS (
    SELECT ns.nspname AS table_schema,
           class.relname AS table_name,
           attr.attname AS column_name,
           trim(leading '_' from tp.typname) AS type_name
    FROM pg_attribute attr
             JOIN pg_catalog.pg_class class ON class.oid = attr.attrelid
             JOIN pg_catalog.pg_namespace ns ON ns.oid = class.relnamespace
             JOIN pg_catalog.pg_type tp ON tp.oid = attr.atttypid
    WHERE NOT attr.attisdropped AND attr.attnum > 0
)
SELECT f_table_schema AS schema,
       f_table_name AS name,
       f_geometry_column AS geom,
       srid,
       type,
       COALESCE(jsonb_object_agg(columns.column_name, columns.type_name)
                FILTER (WHERE columns.column_name IS NOT NULL), '{}'::jsonb)::text AS properties
FROM geometry_columns
         LEFT JOIN columns ON geometry_columns.f_table_schema = columns.table_schema
    AND geometry_columns.f_table_name = columns.table_name
    AND geometry_columns.f_geometry_column != columns.column_name
GROUP BY f_table_schema, f_table_name, f_geometry_column, srid, type
`

const sqlFmtBounds = `SELECT ST_XMin(ext.geom) AS xmin, ST_YMin(ext.geom) AS ymin, ST_XMax(ext.geom) AS xmax, ST_YMax(ext.geom) AS ymax
FROM (SELECT ST_Transform(ST_SetSRID(ST_Extent(%s)::geometry, %d), 4326) AS geom FROM %s.%s) AS ext`

func sqlBounds(info *TableInfo) string {
	return fmt.Sprintf(sqlFmtBounds,
		escapeIdentifier(info.GeometryColumn),
		info.Srid,
		escapeIdentifier(info.Schema),
		escapeIdentifier(info.Table))
}

const sqlFmtTileQuery = `
SELECT
  ST_AsMVT(tile, %s, %d, 'geom'%s)
FROM (
  SELECT
    ST_AsMVTGeom(
        ST_Transform(ST_CurveToLine(%s), 3857),
        ST_TileEnvelope($1::integer, $2::integer, $3::integer),
        %d, %d, %t
    ) AS geom
    %s%s
  FROM
    %s.%s
  WHERE
    %s && ST_Transform(%s, %d)
) AS tile
`

// PgSqlInfo is the compiled query of a source, ready to bind z, x, y.
type PgSqlInfo struct {
	Query string
	// UseURLQuery is set for sources whose SQL consumes the request
	// query string; table sources never do
	UseURLQuery bool
	ID          string
}

// TableToQuery compiles the MVT query for one table source. The z, x, y tile
// coordinates bind as $1, $2, $3; every name from the config flows through
// identifier or literal escaping.
func TableToQuery(info *TableInfo, supportsTileMargin bool) PgSqlInfo {
	extent := DefaultExtent
	if info.Extent != nil {
		extent = *info.Extent
	}
	buffer := DefaultBuffer
	if info.Buffer != nil {
		buffer = *info.Buffer
	}
	clipGeom := DefaultClipGeom
	if info.ClipGeom != nil {
		clipGeom = *info.ClipGeom
	}

	var props strings.Builder
	for _, column := range sortedKeys(info.Properties) {
		props.WriteString(escapeWithAlias(info.PropMapping, column))
	}

	idName := ""
	idField := ""
	if info.IDColumn != "" {
		idName = ", " + escapeLiteral(info.IDColumn)
		idField = escapeWithAlias(info.PropMapping, info.IDColumn)
	}

	bboxSearch := "ST_TileEnvelope($1::integer, $2::integer, $3::integer)"
	if buffer > 0 && supportsTileMargin {
		margin := float64(buffer) / float64(extent)
		bboxSearch = fmt.Sprintf("ST_TileEnvelope($1::integer, $2::integer, $3::integer, margin => %s)",
			strconv.FormatFloat(margin, 'g', -1, 64))
	}

	query := fmt.Sprintf(sqlFmtTileQuery,
		escapeLiteral(info.FormatID()),
		extent,
		idName,
		escapeIdentifier(info.GeometryColumn),
		extent,
		buffer,
		clipGeom,
		idField,
		props.String(),
		escapeIdentifier(info.Schema),
		escapeIdentifier(info.Table),
		escapeIdentifier(info.GeometryColumn),
		bboxSearch,
		info.Srid,
	)

	return PgSqlInfo{
		Query: strings.TrimSpace(query),
		ID:    info.FormatID(),
	}
}

const sqlFmtFunctionQuery = `SELECT %s.%s($1::integer, $2::integer, $3::integer, %s)`

// FunctionToQuery compiles the query for a tile-producing function source.
// The function receives z, x, y and the request query string as JSON.
func FunctionToQuery(schema, function string) PgSqlInfo {
	query := fmt.Sprintf(sqlFmtFunctionQuery,
		escapeIdentifier(schema),
		escapeIdentifier(function),
		"$4::json")
	return PgSqlInfo{
		Query:       query,
		UseURLQuery: true,
		ID:          fmt.Sprintf("%s.%s", schema, function),
	}
}

// escapeWithAlias emits the selected column for an external property name,
// aliased when the mapped column differs from the external name.
func escapeWithAlias(mapping map[string]string, field string) string {
	column := field
	if mapped, ok := mapping[field]; ok {
		column = mapped
	}
	if field != column {
		return fmt.Sprintf(", %s AS %s", escapeIdentifier(column), escapeIdentifier(field))
	}
	return ", " + escapeIdentifier(column)
}

// escapeIdentifier quotes a SQL identifier, doubling embedded quotes.
// PostgreSQL has no parameter form for identifiers, so escaping is the only
// defense for user-configured names.
func escapeIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// escapeLiteral quotes a SQL string literal. Literals containing backslashes
// use the E'' form with backslashes doubled, matching libpq's
// PQescapeLiteral behavior.
func escapeLiteral(value string) string {
	escaped := strings.ReplaceAll(value, `'`, `''`)
	if strings.Contains(value, `\`) {
		return ` E'` + strings.ReplaceAll(escaped, `\`, `\\`) + `'`
	}
	return `'` + escaped + `'`
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
