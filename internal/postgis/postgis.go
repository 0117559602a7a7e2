// Package postgis loads layers into PostGIS tables over the COPY protocol.
package postgis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/db"
	"github.com/sells-group/geo-cli/internal/layer"
)

// ErrTableExists is returned by create-mode loads into an existing table.
var ErrTableExists = eris.New("postgis: table already exists")

// LoadsTable records every load in the target schema.
const LoadsTable = "geo_cli_loads"

// Mode controls what happens to an existing table.
type Mode string

// Load modes.
const (
	Create  Mode = "create"
	Replace Mode = "replace"
	Append  Mode = "append"
)

// ParseMode accepts create, replace and append.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Create, nil
	case Create, Replace, Append:
		return m, nil
	}
	return "", eris.Errorf("postgis: unknown mode %q (want create, replace or append)", s)
}

// LoadOptions configures Load.
type LoadOptions struct {
	Schema    string
	Table     string
	Mode      Mode
	BatchSize int
	// GeometryColumn defaults to "geom".
	GeometryColumn string
}

// LoadResult summarises one load.
type LoadResult struct {
	ID       uuid.UUID
	Schema   string
	Table    string
	Rows     int64
	SRID     int
	Duration time.Duration
}

// Load creates the target table when needed and copies every feature into it
// with its geometry as EWKB. Replace truncates the table first. The load is
// recorded in <schema>.geo_cli_loads. Everything runs in one transaction, so
// a failed load leaves the table as it was.
func Load(ctx context.Context, pool db.Pool, l *layer.Layer, opts LoadOptions) (*LoadResult, error) {
	opts = withDefaults(l, opts)
	start := time.Now()
	srid := SRID(l)
	log := zap.L().With(
		zap.String("component", "postgis"),
		zap.String("table", opts.Schema+"."+opts.Table),
		zap.String("mode", string(opts.Mode)),
	)

	rows, err := Rows(l, srid)
	if err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgis: begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{opts.Schema}.Sanitize())); err != nil {
		return nil, eris.Wrapf(err, "postgis: create schema %s", opts.Schema)
	}

	if opts.Mode == Create {
		exists, err := TableExists(ctx, tx, opts.Schema, opts.Table)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, eris.Wrapf(ErrTableExists, "postgis: %s.%s", opts.Schema, opts.Table)
		}
	}

	if _, err := tx.Exec(ctx, tableDDL(opts.Schema, opts.Table, opts.GeometryColumn, l)); err != nil {
		return nil, eris.Wrapf(err, "postgis: create table %s.%s", opts.Schema, opts.Table)
	}
	idx := pgx.Identifier{fmt.Sprintf("idx_%s_%s", opts.Table, opts.GeometryColumn)}.Sanitize()
	gistSQL := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)",
		idx, pgx.Identifier{opts.Schema, opts.Table}.Sanitize(), pgx.Identifier{opts.GeometryColumn}.Sanitize())
	if _, err := tx.Exec(ctx, gistSQL); err != nil {
		return nil, eris.Wrapf(err, "postgis: create GIST index on %s.%s", opts.Schema, opts.Table)
	}

	if opts.Mode == Replace {
		sql := fmt.Sprintf("TRUNCATE %s", pgx.Identifier{opts.Schema, opts.Table}.Sanitize())
		if _, err := tx.Exec(ctx, sql); err != nil {
			return nil, eris.Wrapf(err, "postgis: truncate %s.%s", opts.Schema, opts.Table)
		}
	}

	columns := append(l.Columns(), opts.GeometryColumn)
	n, err := db.CopyBatches(ctx, tx, opts.Schema, opts.Table, columns, rows, opts.BatchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "postgis: load %s.%s (%d rows copied, rolled back)", opts.Schema, opts.Table, n)
	}

	res := &LoadResult{
		ID:       uuid.New(),
		Schema:   opts.Schema,
		Table:    opts.Table,
		Rows:     n,
		SRID:     srid,
		Duration: time.Since(start),
	}
	if err := recordLoad(ctx, tx, l.Name, opts, res); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "postgis: commit load into %s.%s", opts.Schema, opts.Table)
	}

	log.Info("layer loaded",
		zap.String("load_id", res.ID.String()),
		zap.Int64("rows", n),
		zap.Int("srid", srid),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func withDefaults(l *layer.Layer, opts LoadOptions) LoadOptions {
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	if opts.Table == "" {
		opts.Table = TableName(l.Name)
	}
	if opts.Mode == "" {
		opts.Mode = Create
	}
	if opts.GeometryColumn == "" {
		opts.GeometryColumn = "geom"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = db.DefaultBatchSize
	}
	return opts
}

// TableName turns a layer name into a lower-case identifier.
func TableName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "layer"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "t_" + s
	}
	return s
}

// SRID returns the EPSG code of the layer CRS, 0 when unknown.
func SRID(l *layer.Layer) int {
	if l.CRS == nil {
		return 0
	}
	return l.CRS.EPSG
}

// TableDDL returns the CREATE TABLE statement for a layer, with a "geom"
// geometry column typed by the layer SRID.
func TableDDL(schema, table string, l *layer.Layer) string {
	return tableDDL(schema, table, "geom", l)
}

func tableDDL(schema, table, geomCol string, l *layer.Layer) string {
	cols := make([]string, 0, len(l.Fields)+2)
	cols = append(cols, "gid bigserial PRIMARY KEY")
	for _, f := range l.Fields {
		cols = append(cols, pgx.Identifier{f.Name}.Sanitize()+" "+sqlType(f.Type))
	}
	cols = append(cols, fmt.Sprintf("%s geometry(Geometry, %d)", pgx.Identifier{geomCol}.Sanitize(), SRID(l)))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		pgx.Identifier{schema, table}.Sanitize(), strings.Join(cols, ",\n\t"))
}

func sqlType(t layer.FieldType) string {
	switch t {
	case layer.Integer:
		return "bigint"
	case layer.Float:
		return "double precision"
	case layer.Bool:
		return "boolean"
	case layer.Date:
		return "date"
	}
	return "text"
}

// TableExists reports whether schema.table exists.
func TableExists(ctx context.Context, q db.Querier, schema, table string) (bool, error) {
	rows, err := q.Query(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, schema, table)
	if err != nil {
		return false, eris.Wrapf(err, "postgis: check table %s.%s", schema, table)
	}
	defer rows.Close()

	var exists bool
	if rows.Next() {
		if err := rows.Scan(&exists); err != nil {
			return false, eris.Wrap(err, "postgis: scan table check")
		}
	}
	return exists, rows.Err()
}

// Rows converts features to COPY rows: attribute values in schema order
// followed by the EWKB geometry (nil when absent).
func Rows(l *layer.Layer, srid int) ([][]any, error) {
	rows := make([][]any, 0, l.Len())
	for i, f := range l.Features {
		row := make([]any, 0, len(l.Fields)+1)
		for _, fd := range l.Fields {
			row = append(row, f.Get(fd.Name))
		}
		wkb, err := EncodeEWKB(f.Geometry, srid)
		if err != nil {
			return nil, eris.Wrapf(err, "postgis: feature %d", i)
		}
		if wkb == nil {
			row = append(row, nil)
		} else {
			row = append(row, wkb)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// EncodeEWKB encodes a geometry as little-endian EWKB carrying srid. The
// input geometry is not modified. Returns nil, nil for a nil geometry.
func EncodeEWKB(g geom.T, srid int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	c, err := withSRID(g, srid)
	if err != nil {
		return nil, err
	}
	data, err := ewkb.Marshal(c, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgis: encode EWKB")
	}
	return data, nil
}

func withSRID(g geom.T, srid int) (geom.T, error) {
	switch g := g.(type) {
	case *geom.Point:
		return g.Clone().SetSRID(srid), nil
	case *geom.LineString:
		return g.Clone().SetSRID(srid), nil
	case *geom.Polygon:
		return g.Clone().SetSRID(srid), nil
	case *geom.MultiPoint:
		return g.Clone().SetSRID(srid), nil
	case *geom.MultiLineString:
		return g.Clone().SetSRID(srid), nil
	case *geom.MultiPolygon:
		return g.Clone().SetSRID(srid), nil
	case *geom.GeometryCollection:
		gc := geom.NewGeometryCollection()
		for _, child := range g.Geoms() {
			c, err := withSRID(child, srid)
			if err != nil {
				return nil, err
			}
			if err := gc.Push(c); err != nil {
				return nil, eris.Wrap(err, "postgis: rebuild collection")
			}
		}
		return gc.SetSRID(srid), nil
	}
	return nil, eris.Errorf("postgis: unsupported geometry type %T", g)
}

func recordLoad(ctx context.Context, q db.Querier, source string, opts LoadOptions, res *LoadResult) error {
	loads := pgx.Identifier{opts.Schema, LoadsTable}.Sanitize()
	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id          uuid PRIMARY KEY,
		source      text NOT NULL,
		table_name  text NOT NULL,
		mode        text NOT NULL,
		row_count   bigint NOT NULL,
		srid        integer NOT NULL,
		duration_ms bigint NOT NULL,
		loaded_at   timestamptz NOT NULL DEFAULT now()
	)`, loads)
	if _, err := q.Exec(ctx, createSQL); err != nil {
		return eris.Wrapf(err, "postgis: create %s", LoadsTable)
	}

	_, err := q.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, source, table_name, mode, row_count, srid, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, loads),
		res.ID, source, opts.Table, string(opts.Mode), res.Rows, res.SRID, res.Duration.Milliseconds(),
	)
	if err != nil {
		return eris.Wrap(err, "postgis: record load")
	}
	return nil
}

// LoadRecord is one row of the loads table.
type LoadRecord struct {
	ID         uuid.UUID
	Source     string
	Table      string
	Mode       string
	Rows       int64
	SRID       int
	DurationMs int64
	LoadedAt   time.Time
}

// Loads lists recorded loads in a schema, newest first.
func Loads(ctx context.Context, pool db.Querier, schema string) ([]LoadRecord, error) {
	if schema == "" {
		schema = "public"
	}
	rows, err := pool.Query(ctx, fmt.Sprintf(`
		SELECT id, source, table_name, mode, row_count, srid, duration_ms, loaded_at
		FROM %s
		ORDER BY loaded_at DESC`, pgx.Identifier{schema, LoadsTable}.Sanitize()))
	if err != nil {
		return nil, eris.Wrap(err, "postgis: query loads")
	}
	defer rows.Close()

	var out []LoadRecord
	for rows.Next() {
		var r LoadRecord
		if err := rows.Scan(&r.ID, &r.Source, &r.Table, &r.Mode, &r.Rows, &r.SRID, &r.DurationMs, &r.LoadedAt); err != nil {
			return nil, eris.Wrap(err, "postgis: scan load row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
