package postgis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/layer"
)

func stops() *layer.Layer {
	l := layer.New("Stops 2024", crs.MustEPSG(3067), []layer.Field{
		{Name: "name", Type: layer.String},
		{Name: "lines", Type: layer.Integer},
		{Name: "sheltered", Type: layer.Bool},
	})
	l.Features = []*layer.Feature{
		{ID: "1", Geometry: geom.NewPointFlat(geom.XY, []float64{385000, 6672000}),
			Properties: map[string]any{"name": "Rautatientori", "lines": int64(12), "sheltered": true}},
		{ID: "2", Properties: map[string]any{"name": "Tuntematon", "lines": nil, "sheltered": false}},
	}
	return l
}

func expectSchema(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "gis"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
}

func expectTable(mock pgxmock.PgxPoolIface, table string) {
	mock.ExpectExec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "gis"."%s"`, table)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_geom"`, table)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
}

func expectRecord(mock pgxmock.PgxPoolIface, table, mode string, rows int64) {
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "gis"."geo_cli_loads"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO "gis"."geo_cli_loads"`).
		WithArgs(pgxmock.AnyArg(), "Stops 2024", table, mode, rows, 3067, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestLoad_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSchema(mock)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("gis", "stops_2024").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	expectTable(mock, "stops_2024")
	mock.ExpectCopyFrom(pgx.Identifier{"gis", "stops_2024"}, []string{"name", "lines", "sheltered", "geom"}).
		WillReturnResult(2)
	expectRecord(mock, "stops_2024", "create", 2)
	mock.ExpectCommit()

	res, err := Load(context.Background(), mock, stops(), LoadOptions{Schema: "gis"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)
	assert.Equal(t, 3067, res.SRID)
	assert.Equal(t, "stops_2024", res.Table)
	assert.NotEqual(t, uuid.Nil, res.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_CreateExisting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSchema(mock)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("gis", "stops").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err = Load(context.Background(), mock, stops(), LoadOptions{Schema: "gis", Table: "stops"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTableExists))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_ReplaceInBatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSchema(mock)
	expectTable(mock, "stops")
	mock.ExpectExec(`TRUNCATE "gis"."stops"`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	cols := []string{"name", "lines", "sheltered", "geom"}
	mock.ExpectCopyFrom(pgx.Identifier{"gis", "stops"}, cols).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"gis", "stops"}, cols).WillReturnResult(1)
	expectRecord(mock, "stops", "replace", 2)
	mock.ExpectCommit()

	res, err := Load(context.Background(), mock, stops(), LoadOptions{Schema: "gis", Table: "stops", Mode: Replace, BatchSize: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_CopyFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSchema(mock)
	expectTable(mock, "stops")
	mock.ExpectCopyFrom(pgx.Identifier{"gis", "stops"}, []string{"name", "lines", "sheltered", "geom"}).
		WillReturnError(fmt.Errorf("invalid geometry"))
	mock.ExpectRollback()

	_, err = Load(context.Background(), mock, stops(), LoadOptions{Schema: "gis", Table: "stops", Mode: Append})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgis: load gis.stops")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_ReplaceRollsBackWhenCopyFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSchema(mock)
	expectTable(mock, "stops")
	mock.ExpectExec(`TRUNCATE "gis"."stops"`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	cols := []string{"name", "lines", "sheltered", "geom"}
	mock.ExpectCopyFrom(pgx.Identifier{"gis", "stops"}, cols).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"gis", "stops"}, cols).WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	_, err = Load(context.Background(), mock, stops(), LoadOptions{Schema: "gis", Table: "stops", Mode: Replace, BatchSize: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 rows copied, rolled back")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_BeginFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("too many connections"))

	_, err = Load(context.Background(), mock, stops(), LoadOptions{Schema: "gis", Table: "stops", Mode: Replace})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_CommitFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSchema(mock)
	expectTable(mock, "stops")
	mock.ExpectCopyFrom(pgx.Identifier{"gis", "stops"}, []string{"name", "lines", "sheltered", "geom"}).
		WillReturnResult(2)
	expectRecord(mock, "stops", "append", 2)
	mock.ExpectCommit().WillReturnError(fmt.Errorf("serialization failure"))

	_, err = Load(context.Background(), mock, stops(), LoadOptions{Schema: "gis", Table: "stops", Mode: Append})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit load into gis.stops")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableDDL(t *testing.T) {
	ddl := TableDDL("gis", "stops", stops())
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "gis"."stops" (
	gid bigserial PRIMARY KEY,
	"name" text,
	"lines" bigint,
	"sheltered" boolean,
	"geom" geometry(Geometry, 3067)
)`, ddl)

	l := layer.New("x", nil, []layer.Field{{Name: "d", Type: layer.Date}, {Name: "v", Type: layer.Float}})
	ddl = TableDDL("public", "x", l)
	assert.Contains(t, ddl, `"d" date`)
	assert.Contains(t, ddl, `"v" double precision`)
	assert.Contains(t, ddl, "geometry(Geometry, 0)")
}

func TestEncodeEWKB(t *testing.T) {
	p := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, 1, 1, 0, 0}, []int{8})
	data, err := EncodeEWKB(p, 3067)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 3067, g.SRID())
	assert.Equal(t, p.FlatCoords(), g.FlatCoords())
	assert.Equal(t, 0, p.SRID(), "input untouched")

	data, err = EncodeEWKB(nil, 3067)
	require.NoError(t, err)
	assert.Nil(t, data)

	gc := geom.NewGeometryCollection()
	require.NoError(t, gc.Push(geom.NewPointFlat(geom.XY, []float64{1, 2})))
	data, err = EncodeEWKB(gc, 4326)
	require.NoError(t, err)
	g, err = ewkb.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 4326, g.SRID())
}

func TestRows(t *testing.T) {
	rows, err := Rows(stops(), 3067)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Rautatientori", rows[0][0])
	assert.Equal(t, int64(12), rows[0][1])
	assert.IsType(t, []byte{}, rows[0][3])
	assert.Nil(t, rows[1][1])
	assert.Nil(t, rows[1][3])
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "stops_2024", TableName("Stops 2024"))
	assert.Equal(t, "t_2024_roads", TableName("2024-roads"))
	assert.Equal(t, "layer", TableName("åäö"))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Create, m)
	m, err = ParseMode("Replace")
	require.NoError(t, err)
	assert.Equal(t, Replace, m)
	_, err = ParseMode("upsert")
	assert.Error(t, err)
}

func TestLoads(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery(`SELECT id, source, table_name`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "table_name", "mode", "row_count", "srid", "duration_ms", "loaded_at"}).
			AddRow(id, "stops", "stops", "create", int64(2), 3067, int64(15), now))

	recs, err := Loads(context.Background(), mock, "gis")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].ID)
	assert.Equal(t, int64(2), recs[0].Rows)
	assert.Equal(t, 3067, recs[0].SRID)
	require.NoError(t, mock.ExpectationsWereMet())
}
