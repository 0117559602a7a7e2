package vectorio

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/layer"
)

const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10300
	gpkgGeomColumn    = "geom"
	gpkgFIDColumn     = "fid"
	gpkgFirstCustomID = 100000
)

const gpkgSchema = `
CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (
	srs_name                 TEXT NOT NULL,
	srs_id                   INTEGER PRIMARY KEY,
	organization             TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition               TEXT NOT NULL,
	description              TEXT
);

CREATE TABLE IF NOT EXISTS gpkg_contents (
	table_name  TEXT NOT NULL PRIMARY KEY,
	data_type   TEXT NOT NULL,
	identifier  TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x       DOUBLE,
	min_y       DOUBLE,
	max_x       DOUBLE,
	max_y       DOUBLE,
	srs_id      INTEGER,
	CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);

CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
	table_name         TEXT NOT NULL,
	column_name        TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id             INTEGER NOT NULL,
	z                  TINYINT NOT NULL,
	m                  TINYINT NOT NULL,
	CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
	CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
	CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);

INSERT OR IGNORE INTO gpkg_spatial_ref_sys VALUES
	('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system'),
	('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic coordinate reference system');
`

func openGeoPackage(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorio: open geopackage %s", path)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "vectorio: configure geopackage %s", path)
	}
	return db, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func listGeoPackageLayers(ctx context.Context, path string) ([]string, error) {
	db, err := openGeoPackage(path)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck
	return featureTables(ctx, db)
}

func featureTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT table_name FROM gpkg_contents WHERE data_type = 'features' ORDER BY rowid`)
	if err != nil {
		return nil, eris.Wrap(err, "vectorio: list geopackage layers")
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "vectorio: scan layer name")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "vectorio: list geopackage layers")
}

// readGeoPackage loads one feature table. The first table listed in
// gpkg_contents is used when no layer is named.
func readGeoPackage(ctx context.Context, path string, opts ReadOptions) (*layer.Layer, error) {
	db, err := openGeoPackage(path)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	tables, err := featureTables(ctx, db)
	if err != nil {
		return nil, err
	}
	table := opts.Layer
	if table == "" {
		if len(tables) == 0 {
			return nil, eris.Wrapf(ErrLayerNotFound, "vectorio: %s has no feature tables", path)
		}
		table = tables[0]
	} else if !containsString(tables, table) {
		return nil, eris.Wrapf(ErrLayerNotFound, "vectorio: layer %q in %s (have %s)",
			table, path, strings.Join(tables, ", "))
	}

	var geomCol string
	var srsID int
	err = db.QueryRowContext(ctx,
		`SELECT column_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?`, table,
	).Scan(&geomCol, &srsID)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorio: geometry column of %s", table)
	}

	c, err := srsCRS(ctx, db, srsID)
	if err != nil {
		return nil, err
	}
	srid := 0
	if c != nil {
		srid = c.EPSG
	}

	l := layer.New(table, c, nil)
	cols, pk, err := tableColumns(ctx, db, table, geomCol)
	if err != nil {
		return nil, err
	}
	l.Fields = cols

	selectCols := []string{quoteIdent(geomCol)}
	if pk != "" {
		selectCols = append(selectCols, quoteIdent(pk))
	}
	for _, f := range cols {
		selectCols = append(selectCols, quoteIdent(f.Name))
	}
	order := "rowid"
	if pk != "" {
		order = quoteIdent(pk)
	}
	rows, err := db.QueryContext(ctx, "SELECT "+strings.Join(selectCols, ", ")+
		" FROM "+quoteIdent(table)+" ORDER BY "+order)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorio: query %s", table)
	}
	defer rows.Close() //nolint:errcheck

	n := 0
	for rows.Next() {
		n++
		dest := make([]any, len(selectCols))
		ptrs := make([]any, len(selectCols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrapf(err, "vectorio: scan %s row %d", table, n)
		}

		feat := &layer.Feature{ID: strconv.Itoa(n), Properties: make(map[string]any, len(cols))}
		if blob, ok := dest[0].([]byte); ok && len(blob) > 0 {
			g, err := decodeGPKGGeometry(blob)
			if err != nil {
				return nil, eris.Wrapf(err, "vectorio: %s row %d", table, n)
			}
			if g != nil {
				feat.Geometry = crs.SetSRID(g, srid)
			}
		}
		off := 1
		if pk != "" {
			feat.ID = layer.FormatValue(dest[1])
			off = 2
		}
		for i, f := range cols {
			feat.Properties[f.Name] = sqliteValue(dest[off+i], f.Type)
		}
		l.Features = append(l.Features, feat)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "vectorio: read %s", table)
	}
	return l, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func srsCRS(ctx context.Context, db *sql.DB, srsID int) (*crs.CRS, error) {
	if srsID <= 0 {
		return nil, nil
	}
	var org, def string
	var code int
	err := db.QueryRowContext(ctx,
		`SELECT organization, organization_coordsys_id, definition FROM gpkg_spatial_ref_sys WHERE srs_id = ?`,
		srsID).Scan(&org, &code, &def)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorio: spatial reference %d", srsID)
	}
	if strings.EqualFold(org, "EPSG") {
		if c, err := crs.FromEPSG(code); err == nil {
			return c, nil
		}
	}
	c, err := crs.Parse(def)
	if err != nil {
		zap.L().Warn("vectorio: unsupported geopackage spatial reference, layer has no CRS",
			zap.Int("srs_id", srsID), zap.String("organization", org), zap.Error(err))
		return nil, nil
	}
	return c, nil
}

// tableColumns returns the attribute columns and the integer primary key.
func tableColumns(ctx context.Context, db *sql.DB, table, geomCol string) ([]layer.Field, string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, "", eris.Wrapf(err, "vectorio: columns of %s", table)
	}
	defer rows.Close() //nolint:errcheck

	var fields []layer.Field
	var pk string
	for rows.Next() {
		var (
			cid, notNull, pkFlag int
			name, declType       string
			dflt                 sql.NullString
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pkFlag); err != nil {
			return nil, "", eris.Wrapf(err, "vectorio: scan column of %s", table)
		}
		if name == geomCol {
			continue
		}
		t := sqliteFieldType(declType)
		if pkFlag == 1 && t == layer.Integer && pk == "" {
			pk = name
			continue
		}
		fields = append(fields, layer.Field{Name: name, Type: t})
	}
	return fields, pk, eris.Wrapf(rows.Err(), "vectorio: columns of %s", table)
}

func sqliteFieldType(decl string) layer.FieldType {
	d := strings.ToUpper(decl)
	switch {
	case d == "BOOLEAN":
		return layer.Bool
	case strings.Contains(d, "INT"):
		return layer.Integer
	case strings.Contains(d, "REAL"), strings.Contains(d, "DOUB"), strings.Contains(d, "FLOA"):
		return layer.Float
	case d == "DATE", d == "DATETIME":
		return layer.Date
	}
	return layer.String
}

func sqliteValue(v any, t layer.FieldType) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		v = string(x)
	case time.Time:
		return x
	}
	switch t {
	case layer.Bool:
		if f, ok := layer.ToFloat(v); ok {
			return f != 0
		}
	case layer.Integer:
		switch x := v.(type) {
		case int64:
			return x
		case float64:
			return int64(x)
		}
	case layer.Float:
		if f, ok := layer.ToFloat(v); ok {
			return f
		}
	case layer.Date:
		if s, ok := v.(string); ok {
			if d, err := layer.ParseValue(s, layer.Date); err == nil {
				return d
			}
		}
	}
	if s, ok := v.(string); ok {
		return s
	}
	return v
}

// GeoPackage geometry blob: "GP", version, flags, srs_id, envelope, WKB.
var gpkgEnvelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

func decodeGPKGGeometry(blob []byte) (geom.T, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, eris.New("not a geopackage geometry blob")
	}
	flags := blob[3]
	if flags&0x10 != 0 {
		return nil, nil
	}
	envSize, ok := gpkgEnvelopeSizes[(flags>>1)&0x07]
	if !ok {
		return nil, eris.Errorf("invalid geopackage envelope flag %d", (flags>>1)&0x07)
	}
	start := 8 + envSize
	if len(blob) < start {
		return nil, eris.New("truncated geopackage geometry blob")
	}
	g, err := wkb.Unmarshal(blob[start:])
	if err != nil {
		return nil, eris.Wrap(err, "decode wkb")
	}
	return g, nil
}

func encodeGPKGGeometry(g geom.T, srsID int) ([]byte, error) {
	var buf bytes.Buffer
	flags := byte(0x01) // little endian
	bbox, hasBBox := layer.GeometryBBox(g)
	if hasBBox {
		flags |= 0x01 << 1 // envelope [minx, maxx, miny, maxy]
	}
	buf.Write([]byte{'G', 'P', 0, flags})
	_ = binary.Write(&buf, binary.LittleEndian, int32(srsID))
	if hasBBox {
		_ = binary.Write(&buf, binary.LittleEndian, []float64{bbox[0], bbox[2], bbox[1], bbox[3]})
	}
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "encode wkb")
	}
	buf.Write(data)
	return buf.Bytes(), nil
}

// writeGeoPackage adds a feature table to a GeoPackage, creating the file
// when needed. An existing table of the same name is replaced only with
// Overwrite.
func writeGeoPackage(ctx context.Context, path string, l *layer.Layer, opts WriteOptions) error {
	table := opts.LayerName
	if table == "" {
		table = l.Name
	}
	if table == "" {
		table = stem(path)
	}

	db, err := openGeoPackage(path)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	for _, stmt := range []string{
		"PRAGMA application_id = " + strconv.Itoa(gpkgApplicationID),
		"PRAGMA user_version = " + strconv.Itoa(gpkgUserVersion),
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "vectorio: exec %s", stmt)
		}
	}
	if _, err := db.ExecContext(ctx, gpkgSchema); err != nil {
		return eris.Wrap(err, "vectorio: create geopackage metadata tables")
	}

	tables, err := featureTables(ctx, db)
	if err != nil {
		return err
	}
	exists := containsString(tables, table)
	if exists && !opts.Overwrite {
		return eris.Wrapf(ErrExists, "vectorio: layer %q in %s (use overwrite)", table, path)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "vectorio: begin geopackage transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if exists {
		for _, stmt := range []string{
			"DROP TABLE IF EXISTS " + quoteIdent(table),
			"DELETE FROM gpkg_geometry_columns WHERE table_name = ?",
			"DELETE FROM gpkg_contents WHERE table_name = ?",
		} {
			args := []any{}
			if strings.Contains(stmt, "?") {
				args = append(args, table)
			}
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return eris.Wrapf(err, "vectorio: replace layer %s", table)
			}
		}
	}

	srsID, err := ensureSRS(ctx, tx, l.CRS)
	if err != nil {
		return err
	}

	geomType := gpkgGeometryType(l)
	colDefs := []string{
		quoteIdent(gpkgFIDColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL",
		quoteIdent(gpkgGeomColumn) + " " + geomType,
	}
	for _, f := range l.Fields {
		colDefs = append(colDefs, quoteIdent(f.Name)+" "+sqliteDeclType(f.Type))
	}
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+quoteIdent(table)+" ("+strings.Join(colDefs, ", ")+")"); err != nil {
		return eris.Wrapf(err, "vectorio: create table %s", table)
	}

	var minX, minY, maxX, maxY any
	if b := l.Bounds(); b != nil {
		minX, minY, maxX, maxY = b.Min(0), b.Min(1), b.Max(0), b.Max(1)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id)
		 VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		table, table, minX, minY, maxX, maxY, srsID); err != nil {
		return eris.Wrapf(err, "vectorio: register %s in gpkg_contents", table)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m)
		 VALUES (?, ?, ?, ?, 0, 0)`,
		table, gpkgGeomColumn, geomType, srsID); err != nil {
		return eris.Wrapf(err, "vectorio: register %s in gpkg_geometry_columns", table)
	}

	cols := []string{quoteIdent(gpkgGeomColumn)}
	marks := []string{"?"}
	for _, f := range l.Fields {
		cols = append(cols, quoteIdent(f.Name))
		marks = append(marks, "?")
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+quoteIdent(table)+
		" ("+strings.Join(cols, ", ")+") VALUES ("+strings.Join(marks, ", ")+")")
	if err != nil {
		return eris.Wrapf(err, "vectorio: prepare insert into %s", table)
	}
	defer stmt.Close() //nolint:errcheck

	for i, f := range l.Features {
		args := make([]any, 0, len(cols))
		if f.Geometry == nil {
			args = append(args, nil)
		} else {
			blob, err := encodeGPKGGeometry(f.Geometry, srsID)
			if err != nil {
				return eris.Wrapf(err, "vectorio: feature %d", i)
			}
			args = append(args, blob)
		}
		for _, fld := range l.Fields {
			args = append(args, sqliteArg(f.Get(fld.Name), fld.Type))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "vectorio: insert feature %d into %s", i, table)
		}
	}
	return eris.Wrapf(tx.Commit(), "vectorio: commit %s", table)
}

// ensureSRS registers the layer CRS and returns its srs_id. EPSG CRSs keep
// their code as srs_id; others get an id from 100000 up.
func ensureSRS(ctx context.Context, tx *sql.Tx, c *crs.CRS) (int, error) {
	if c == nil {
		return -1, nil
	}
	if c.EPSG > 0 {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition)
			 VALUES (?, ?, 'EPSG', ?, ?)`,
			c.Name, c.EPSG, c.EPSG, c.WKT())
		return c.EPSG, eris.Wrapf(err, "vectorio: register %s", c)
	}

	def := c.WKT()
	var id int
	err := tx.QueryRowContext(ctx, `SELECT srs_id FROM gpkg_spatial_ref_sys WHERE definition = ?`, def).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, eris.Wrap(err, "vectorio: look up spatial reference")
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(COALESCE(MAX(srs_id) + 1, 0), ?) FROM gpkg_spatial_ref_sys`, gpkgFirstCustomID,
	).Scan(&id); err != nil {
		return 0, eris.Wrap(err, "vectorio: allocate srs_id")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition)
		 VALUES (?, ?, 'NONE', ?, ?)`, c.Name, id, id, def)
	return id, eris.Wrapf(err, "vectorio: register %s", c.Name)
}

func gpkgGeometryType(l *layer.Layer) string {
	types := map[string]bool{}
	for _, f := range l.Features {
		if f.Geometry != nil {
			types[strings.ToUpper(layer.TypeName(f.Geometry))] = true
		}
	}
	if len(types) == 1 {
		for t := range types {
			return t
		}
	}
	names := make([]string, 0, len(types))
	for t := range types {
		names = append(names, t)
	}
	sort.Strings(names)
	switch strings.Join(names, ",") {
	case "MULTIPOLYGON,POLYGON":
		return "MULTIPOLYGON"
	case "LINESTRING,MULTILINESTRING":
		return "MULTILINESTRING"
	case "MULTIPOINT,POINT":
		return "MULTIPOINT"
	}
	return "GEOMETRY"
}

func sqliteDeclType(t layer.FieldType) string {
	switch t {
	case layer.Integer:
		return "INTEGER"
	case layer.Float:
		return "REAL"
	case layer.Bool:
		return "BOOLEAN"
	case layer.Date:
		return "DATE"
	}
	return "TEXT"
}

func sqliteArg(v any, t layer.FieldType) any {
	if v == nil {
		return nil
	}
	switch t {
	case layer.Integer:
		if f, ok := layer.ToFloat(v); ok {
			return int64(f)
		}
		return nil
	case layer.Float:
		if f, ok := layer.ToFloat(v); ok && !math.IsNaN(f) {
			return f
		}
		return nil
	case layer.Bool:
		if b, ok := v.(bool); ok {
			if b {
				return 1
			}
			return 0
		}
		return nil
	case layer.Date:
		if d, ok := v.(time.Time); ok {
			return d.Format(layer.DateLayout)
		}
	}
	return layer.FormatValue(v)
}
