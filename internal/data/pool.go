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
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	log "github.com/sirupsen/logrus"

	"github.com/tilegarden/postgis-tileserver/internal/conf"
)

// PgPool is the subset of pgxpool.Pool used by the data layer. pgxmock
// satisfies it in tests.
type PgPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Pool wraps the shared database connection pool together with the
// server capabilities detected at connect time.
type Pool struct {
	db                 PgPool
	close              func()
	supportsTileMargin bool
}

// Connect opens the connection pool, verifies connectivity, and probes the
// installed PostGIS version for ST_TileEnvelope margin support.
func Connect(ctx context.Context) (*Pool, error) {
	dsn := conf.Configuration.Database.Connection
	if dsn == "" {
		return nil, eris.New("blank database connection is disallowed")
	}

	pgcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "Can't parse database connection")
	}
	pgcfg.MaxConns = int32(conf.Configuration.Database.PoolSize)

	db, err := pgxpool.NewWithConfig(ctx, pgcfg)
	if err != nil {
		return nil, eris.Wrap(err, "Can't create connection pool")
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "Can't connect to database")
	}

	pool := &Pool{db: db, close: db.Close}

	var version string
	if err := db.QueryRow(ctx, "SELECT postgis_lib_version()").Scan(&version); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "Can't get PostGIS version")
	}
	pool.supportsTileMargin = supportsTileMargin(version)

	log.Infof("Connected to PostGIS %s (pool size %d)", version, pgcfg.MaxConns)
	if !pool.supportsTileMargin {
		log.Warnf("PostGIS %s does not support ST_TileEnvelope margin, tile buffers are clipped to the envelope", version)
	}
	return pool, nil
}

// SupportsTileMargin reports whether ST_TileEnvelope accepts a margin
// argument (PostGIS 3.1 and later).
func (p *Pool) SupportsTileMargin() bool {
	return p.supportsTileMargin
}

// Close releases the underlying connection pool.
func (p *Pool) Close() {
	if p.close != nil {
		p.close()
	}
}

func supportsTileMargin(version string) bool {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	minor, err := strconv.Atoi(strings.TrimFunc(parts[1], func(r rune) bool { return r < '0' || r > '9' }))
	if err != nil {
		return false
	}
	return major > 3 || (major == 3 && minor >= 1)
}
