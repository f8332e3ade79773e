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
	"sort"
	"strings"
	"unicode"

	log "github.com/sirupsen/logrus"
)

// MergeTableInfo reconciles a declared source config with the introspected
// table it points at. The database is the source of truth for the table
// path; config supplies rendering options and the property selection.
// Returns nil when the source must be dropped.
func MergeTableInfo(defaultSrid int, newID string, cfgInf, srcInf *TableInfo) *TableInfo {
	tableID := srcInf.FormatID()

	srid, ok := CalcSrid(tableID, newID, srcInf.Srid, cfgInf.Srid, defaultSrid)
	if !ok {
		return nil
	}

	inf := cfgInf.Clone()
	inf.Schema = srcInf.Schema
	inf.Table = srcInf.Table
	inf.GeometryColumn = srcInf.GeometryColumn
	inf.Srid = srid
	inf.PropMapping = make(map[string]string)

	if srcInf.GeometryType != "" && cfgInf.GeometryType != "" && srcInf.GeometryType != cfgInf.GeometryType {
		log.Warnf("Table %s has geometry type=%s, but source %s has %s",
			tableID, srcInf.GeometryType, newID, cfgInf.GeometryType)
	}

	if cfgInf.IDColumn != "" {
		prop, ok := normalizeKey(srcInf.Properties, cfgInf.IDColumn, "id_column", newID)
		if !ok {
			return nil
		}
		inf.PropMapping[cfgInf.IDColumn] = prop
	}

	for key := range cfgInf.Properties {
		prop, ok := normalizeKey(srcInf.Properties, key, "property", newID)
		if !ok {
			return nil
		}
		inf.PropMapping[key] = prop
	}

	return &inf
}

// CalcSrid resolves the SRID of a table source from the introspected value,
// the configured value, and the optional default. The second return is
// false when the source must be rejected.
func CalcSrid(tableID, newID string, srcSrid, cfgSrid, defaultSrid int) (int, bool) {
	switch {
	case srcSrid == 0 && cfgSrid == 0 && defaultSrid > 0:
		log.Infof("Table %s has SRID=0, using provided default SRID=%d", tableID, defaultSrid)
		return defaultSrid, true
	case srcSrid == 0 && cfgSrid == 0:
		log.Warnf("Table %s has SRID=0, skipping. To use this table source, specify the table SRID in the config file or set a default SRID with --default-srid", tableID)
		return 0, false
	case srcSrid == 0:
		return cfgSrid, true
	case cfgSrid == 0:
		return srcSrid, true
	case srcSrid != cfgSrid:
		log.Warnf("Table %s has SRID=%d, but source %s has SRID=%d", tableID, srcSrid, newID, cfgSrid)
		return 0, false
	default:
		return cfgSrid, true
	}
}

// normalizeKey finds the actual column for an externally configured name,
// tolerating case and punctuation differences. Zero or multiple candidate
// columns reject the source.
func normalizeKey(properties map[string]string, key, keyType, sourceID string) (string, bool) {
	if _, ok := properties[key]; ok {
		return key, true
	}

	normalized := normalizeColumnName(key)
	var matches []string
	for column := range properties {
		if normalizeColumnName(column) == normalized {
			matches = append(matches, column)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], true
	case 0:
		log.Warnf("Unable to find %s %s for source %s", keyType, key, sourceID)
		return "", false
	default:
		sort.Strings(matches)
		log.Warnf("Ambiguous %s %s for source %s: matches %s", keyType, key, sourceID, strings.Join(matches, ", "))
		return "", false
	}
}

// normalizeColumnName lowercases and strips everything that is not a letter
// or digit.
func normalizeColumnName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
