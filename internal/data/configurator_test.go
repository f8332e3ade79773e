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
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilegarden/postgis-tileserver/internal/conf"
)

func resetConfig(t *testing.T) {
	t.Helper()
	prev := conf.Configuration
	t.Cleanup(func() { conf.Configuration = prev })
	conf.Configuration = conf.Config{}
	conf.Configuration.Database.TableIncludes = []string{}
	conf.Configuration.Database.TableExcludes = []string{}
}

func expectIntrospection(mock pgxmock.PgxPoolIface, rows *pgxmock.Rows) {
	mock.ExpectQuery("FROM geometry_columns").WillReturnRows(rows)
}

func expectBounds(mock pgxmock.PgxPoolIface) {
	rows := pgxmock.NewRows([]string{"xmin", "ymin", "xmax", "ymax"}).
		AddRow(f64Ptr(-10.0), f64Ptr(-10.0), f64Ptr(10.0), f64Ptr(10.0))
	mock.ExpectQuery("ST_Extent").WillReturnRows(rows)
}

func TestLoadSourcesDeclaredTable(t *testing.T) {
	resetConfig(t)
	mock, pool := mockPool(t)
	mock.MatchExpectationsInOrder(false)

	conf.Configuration.Sources.Tables = map[string]conf.TableSource{
		"roads": {
			Schema:         "public",
			Table:          "roads",
			GeometryColumn: "geom",
			Properties:     map[string]string{"name": "text"},
		},
	}

	expectIntrospection(mock, pgxmock.NewRows(tableSourceColumns()).
		AddRow("public", "roads", "geom", 4326, strPtr("LINESTRING"), `{"name":"text","gid":"int4"}`))
	expectBounds(mock)

	sources, err := LoadSources(context.Background(), pool)
	require.NoError(t, err)
	require.Contains(t, sources, "roads")

	src, ok := sources["roads"].(*PgTableSource)
	require.True(t, ok)
	info := src.Info()
	assert.Equal(t, 4326, info.Srid)
	require.NotNil(t, info.Bounds)
	assert.Equal(t, Bounds{Minx: -10, Miny: -10, Maxx: 10, Maxy: 10}, *info.Bounds)
}

func TestLoadSourcesConfigBoundsSkipBoundsQuery(t *testing.T) {
	resetConfig(t)
	mock, pool := mockPool(t)

	conf.Configuration.Sources.Tables = map[string]conf.TableSource{
		"roads": {
			Schema:         "public",
			Table:          "roads",
			GeometryColumn: "geom",
			Bounds:         []float64{-1, -2, 3, 4},
		},
	}

	// no bounds expectation: config-supplied bounds must not trigger a query
	expectIntrospection(mock, pgxmock.NewRows(tableSourceColumns()).
		AddRow("public", "roads", "geom", 4326, strPtr("LINESTRING"), `{}`))

	sources, err := LoadSources(context.Background(), pool)
	require.NoError(t, err)
	require.Contains(t, sources, "roads")

	info := sources["roads"].(*PgTableSource).Info()
	require.NotNil(t, info.Bounds)
	assert.Equal(t, Bounds{Minx: -1, Miny: -2, Maxx: 3, Maxy: 4}, *info.Bounds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSourcesBoundsFailureIsNonFatal(t *testing.T) {
	resetConfig(t)
	mock, pool := mockPool(t)
	mock.MatchExpectationsInOrder(false)

	conf.Configuration.Sources.Tables = map[string]conf.TableSource{
		"roads": {Schema: "public", Table: "roads", GeometryColumn: "geom"},
	}

	expectIntrospection(mock, pgxmock.NewRows(tableSourceColumns()).
		AddRow("public", "roads", "geom", 4326, strPtr("LINESTRING"), `{}`))
	mock.ExpectQuery("ST_Extent").WillReturnError(assert.AnError)

	sources, err := LoadSources(context.Background(), pool)
	require.NoError(t, err)
	require.Contains(t, sources, "roads")
	assert.Nil(t, sources["roads"].(*PgTableSource).Info().Bounds)
}

func TestLoadSourcesRejectsReservedID(t *testing.T) {
	resetConfig(t)
	mock, pool := mockPool(t)

	conf.Configuration.Sources.Tables = map[string]conf.TableSource{
		"health": {Schema: "public", Table: "roads", GeometryColumn: "geom"},
	}

	expectIntrospection(mock, pgxmock.NewRows(tableSourceColumns()).
		AddRow("public", "roads", "geom", 4326, strPtr("LINESTRING"), `{}`))

	sources, err := LoadSources(context.Background(), pool)
	require.NoError(t, err)
	assert.NotContains(t, sources, "health")
	assert.Empty(t, sources)
}

func TestLoadSourcesDropsUnresolvableSrid(t *testing.T) {
	resetConfig(t)
	mock, pool := mockPool(t)

	conf.Configuration.Sources.Tables = map[string]conf.TableSource{
		"blocks": {Schema: "tiger", Table: "blocks", GeometryColumn: "geom"},
	}

	expectIntrospection(mock, pgxmock.NewRows(tableSourceColumns()).
		AddRow("tiger", "blocks", "geom", 0, strPtr("POLYGON"), `{}`))

	sources, err := LoadSources(context.Background(), pool)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestLoadSourcesDefaultSridRescuesZeroSrid(t *testing.T) {
	resetConfig(t)
	mock, pool := mockPool(t)
	mock.MatchExpectationsInOrder(false)

	conf.Configuration.Database.DefaultSrid = 4326
	conf.Configuration.Sources.Tables = map[string]conf.TableSource{
		"blocks": {Schema: "tiger", Table: "blocks", GeometryColumn: "geom"},
	}

	expectIntrospection(mock, pgxmock.NewRows(tableSourceColumns()).
		AddRow("tiger", "blocks", "geom", 0, strPtr("POLYGON"), `{}`))
	expectBounds(mock)

	sources, err := LoadSources(context.Background(), pool)
	require.NoError(t, err)
	require.Contains(t, sources, "blocks")
	assert.Equal(t, 4326, sources["blocks"].(*PgTableSource).Info().Srid)
}

func TestLoadSourcesAutoPublish(t *testing.T) {
	resetConfig(t)
	mock, pool := mockPool(t)
	mock.MatchExpectationsInOrder(false)

	conf.Configuration.Database.TableExcludes = []string{"private"}

	expectIntrospection(mock, pgxmock.NewRows(tableSourceColumns()).
		AddRow("public", "roads", "geom", 4326, strPtr("LINESTRING"), `{}`).
		AddRow("private", "secrets", "geom", 4326, strPtr("POINT"), `{}`))
	expectBounds(mock)

	sources, err := LoadSources(context.Background(), pool)
	require.NoError(t, err)
	assert.Contains(t, sources, "public.roads")
	assert.NotContains(t, sources, "private.secrets")
}

func TestLoadSourcesDeclaredFunction(t *testing.T) {
	resetConfig(t)
	mock, pool := mockPool(t)

	minZoom := 2
	conf.Configuration.Sources.Functions = map[string]conf.FunctionSource{
		"hex": {Schema: "tiles", Function: "hexgrid", MinZoom: &minZoom},
	}

	expectIntrospection(mock, pgxmock.NewRows(tableSourceColumns()))

	sources, err := LoadSources(context.Background(), pool)
	require.NoError(t, err)
	require.Contains(t, sources, "hex")
	assert.False(t, sources["hex"].IsValidZoom(1))
	assert.True(t, sources["hex"].IsValidZoom(2))
}

func TestFindTableInfoAmbiguousRejects(t *testing.T) {
	tables := SqlTableInfoMapMapMap{
		"public": {
			"roads": {
				"geom":      TableInfo{Schema: "public", Table: "roads", GeometryColumn: "geom", Srid: 4326},
				"geom_3857": TableInfo{Schema: "public", Table: "roads", GeometryColumn: "geom_3857", Srid: 3857},
			},
		},
	}

	cfg := TableInfo{Schema: "public", Table: "roads"}
	if got := findTableInfo(tables, "roads", &cfg); got != nil {
		t.Error("two geometry columns with no qualifier must be ambiguous")
	}

	cfg.GeometryColumn = "geom"
	got := findTableInfo(tables, "roads", &cfg)
	if got == nil || got.Srid != 4326 {
		t.Errorf("qualified lookup must resolve, got %+v", got)
	}
}
