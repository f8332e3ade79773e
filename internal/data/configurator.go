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
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/tilegarden/postgis-tileserver/internal/conf"
)

// LoadSources builds the source registry: introspect the database, merge
// the declared sources against it (or auto-publish every discovered table
// when none are declared), compute missing bounds, and compile tile
// queries. Sources that fail validation are dropped with a warning.
func LoadSources(ctx context.Context, pool *Pool) (Sources, error) {
	tables, err := GetTableSources(ctx, pool)
	if err != nil {
		return nil, err
	}

	cfg := &conf.Configuration
	sources := make(Sources)

	if len(cfg.Sources.Tables) > 0 {
		for id, tblCfg := range cfg.Sources.Tables {
			src := buildTableSource(ctx, pool, tables, id, tblCfg)
			if src != nil {
				sources[id] = src
			}
		}
	} else {
		for id, info := range autoPublished(tables) {
			src := instantiateTableSource(ctx, pool, id, info)
			if src != nil {
				sources[id] = src
			}
		}
	}

	for id, fnCfg := range cfg.Sources.Functions {
		if err := ValidateSourceID(id); err != nil {
			log.Warnf("Skipping function source: %v", err)
			continue
		}
		if fnCfg.Schema == "" || fnCfg.Function == "" {
			log.Warnf("Function source %s needs both schema and function, skipping", id)
			continue
		}
		sources[id] = NewPgFunctionSource(id, fnCfg.Schema, fnCfg.Function, fnCfg.MinZoom, fnCfg.MaxZoom, pool)
	}

	if len(sources) == 0 {
		log.Warn("No tile sources published")
	}
	log.Infof("Publishing %d sources", len(sources))
	return sources, nil
}

// buildTableSource resolves one declared table source against the
// introspection index and merges config over it.
func buildTableSource(ctx context.Context, pool *Pool, tables SqlTableInfoMapMapMap, id string, tblCfg conf.TableSource) Source {
	if err := ValidateSourceID(id); err != nil {
		log.Warnf("Skipping table source: %v", err)
		return nil
	}

	cfgInf := tableInfoFromConfig(tblCfg)
	srcInf := findTableInfo(tables, id, &cfgInf)
	if srcInf == nil {
		return nil
	}

	merged := MergeTableInfo(conf.Configuration.Database.DefaultSrid, id, &cfgInf, srcInf)
	if merged == nil {
		log.Warnf("Skipping table source %s", id)
		return nil
	}

	return instantiateTableSource(ctx, pool, id, *merged)
}

// instantiateTableSource fills bounds lazily when config did not supply
// them (failures are non-fatal) and compiles the source.
func instantiateTableSource(ctx context.Context, pool *Pool, id string, info TableInfo) Source {
	if info.Bounds == nil {
		bounds, err := GetBounds(ctx, pool, &info)
		if err != nil {
			log.Debugf("Can't get bounds for source %s: %v", id, err)
		} else {
			info.Bounds = bounds
		}
	}
	return NewPgTableSource(id, info, pool)
}

// autoPublished exposes every introspected table under a schema.table ID,
// (schema.table.geom when a table has several geometry columns), honoring
// the include/exclude lists. Tables whose published ID fails
// ValidateSourceID, such as one ending in a dot-number, are skipped.
func autoPublished(tables SqlTableInfoMapMapMap) map[string]TableInfo {
	includes := listToSet(conf.Configuration.Database.TableIncludes)
	excludes := listToSet(conf.Configuration.Database.TableExcludes)

	out := make(map[string]TableInfo)
	for schema, byTable := range tables {
		for table, byGeom := range byTable {
			if !isTableIncluded(schema, table, includes, excludes) {
				continue
			}
			for _, info := range byGeom {
				id := schema + "." + table
				if len(byGeom) > 1 {
					id = info.FormatID()
				}
				if err := ValidateSourceID(id); err != nil {
					log.Warnf("Skipping discovered table: %v", err)
					continue
				}
				if _, dup := out[id]; dup {
					log.Warnf("Duplicate published ID %s, keeping the last", id)
				}
				out[id] = info
			}
		}
	}
	return out
}

func isTableIncluded(schema, table string, includes, excludes map[string]bool) bool {
	schemaLow := strings.ToLower(schema)
	idLow := strings.ToLower(schema + "." + table)
	if len(includes) > 0 && !includes[schemaLow] && !includes[idLow] {
		return false
	}
	if excludes[schemaLow] || excludes[idLow] {
		return false
	}
	return true
}

func listToSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, name := range list {
		set[strings.ToLower(name)] = true
	}
	return set
}

// findTableInfo locates the introspected table a config entry refers to.
// A fully qualified entry is a direct lookup; entries with omitted parts
// match against the whole index and reject on ambiguity.
func findTableInfo(tables SqlTableInfoMapMapMap, id string, cfgInf *TableInfo) *TableInfo {
	var matches []TableInfo
	for schema, byTable := range tables {
		if cfgInf.Schema != "" && cfgInf.Schema != schema {
			continue
		}
		for table, byGeom := range byTable {
			if cfgInf.Table != "" && cfgInf.Table != table {
				continue
			}
			for geom, info := range byGeom {
				if cfgInf.GeometryColumn != "" && cfgInf.GeometryColumn != geom {
					continue
				}
				matches = append(matches, info)
			}
		}
	}

	switch len(matches) {
	case 1:
		return &matches[0]
	case 0:
		log.Warnf("Source %s refers to table %s.%s which does not exist or has no geometry column",
			id, cfgInf.Schema, cfgInf.Table)
		return nil
	default:
		log.Warnf("Source %s is ambiguous: %d tables match, qualify schema/table/geometry_column", id, len(matches))
		return nil
	}
}

func tableInfoFromConfig(tblCfg conf.TableSource) TableInfo {
	info := TableInfo{
		Schema:         tblCfg.Schema,
		Table:          tblCfg.Table,
		GeometryColumn: tblCfg.GeometryColumn,
		Srid:           tblCfg.Srid,
		GeometryType:   tblCfg.GeometryType,
		IDColumn:       tblCfg.IDColumn,
		Extent:         cloneIntPtr(tblCfg.Extent),
		Buffer:         cloneIntPtr(tblCfg.Buffer),
		ClipGeom:       cloneBoolPtr(tblCfg.ClipGeom),
		MinZoom:        cloneIntPtr(tblCfg.MinZoom),
		MaxZoom:        cloneIntPtr(tblCfg.MaxZoom),
		Properties:     cloneStringMap(tblCfg.Properties),
		Unrecognized:   tblCfg.Unrecognized,
	}
	if info.Properties == nil {
		info.Properties = map[string]string{}
	}
	if info.Extent != nil && *info.Extent < 1 {
		log.Warnf("Ignoring extent %d, must be at least 1", *info.Extent)
		info.Extent = nil
	}
	if info.Buffer != nil && *info.Buffer < 0 {
		log.Warnf("Ignoring negative buffer %d", *info.Buffer)
		info.Buffer = nil
	}
	if len(tblCfg.Bounds) == 4 {
		info.Bounds = &Bounds{
			Minx: tblCfg.Bounds[0],
			Miny: tblCfg.Bounds[1],
			Maxx: tblCfg.Bounds[2],
			Maxy: tblCfg.Bounds[3],
		}
	} else if len(tblCfg.Bounds) > 0 {
		log.Warnf("Ignoring bounds with %d elements, expected [west, south, east, north]", len(tblCfg.Bounds))
	}
	return info
}
