package engine

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(context.Background(), "test-"+uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestWKBToGeoJSON(t *testing.T) {
	b, err := wkb.Marshal(orb.Point{74.1, 15.3})
	require.NoError(t, err)
	v, err := WKBToGeoJSON(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Point","coordinates":[74.1,15.3]}`, v.(string))

	v, err = WKBToGeoJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = WKBToGeoJSON([]byte{0x01, 0x02})
	assert.Error(t, err)
	_, err = WKBToGeoJSON("POINT(1 2)")
	assert.Error(t, err)
}

func TestEngineShapeFunctionInSQL(t *testing.T) {
	ctx := context.Background()
	e := openTest(t)
	require.NoError(t, e.CheckShapes(ctx))

	poly := orb.Polygon{{{74, 15}, {74.01, 15}, {74.01, 15.01}, {74, 15}}}
	blob, err := wkb.Marshal(poly)
	require.NoError(t, err)
	require.NoError(t, e.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE parcels (survey TEXT, geometry BLOB)`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO parcels VALUES (?, ?), (?, ?)`, "12", blob, "13", []byte{0xff})
		return err
	}))

	var gj string
	err = e.With(ctx, func(c *sql.Conn) error {
		return c.QueryRowContext(ctx, `SELECT st_asgeojson(geometry) FROM parcels WHERE survey = ?`, "12").Scan(&gj)
	})
	require.NoError(t, err)
	assert.Contains(t, gj, `"Polygon"`)

	err = e.With(ctx, func(c *sql.Conn) error {
		return c.QueryRowContext(ctx, `SELECT st_asgeojson(geometry) FROM parcels WHERE survey = ?`, "13").Scan(&gj)
	})
	assert.Error(t, err)
}

func TestEngineTxRollbackLeavesNoTable(t *testing.T) {
	ctx := context.Background()
	e := openTest(t)
	err := e.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE partial (a TEXT)`); err != nil {
			return err
		}
		return sql.ErrNoRows
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	ok, err := e.TableExists(ctx, "partial")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineStringsSkipsNull(t *testing.T) {
	ctx := context.Background()
	e := openTest(t)
	require.NoError(t, e.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE t (v TEXT)`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO t VALUES ('b'), (NULL), ('a')`)
		return err
	}))
	out, err := e.Strings(ctx, "test", `SELECT v FROM t ORDER BY v`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestEnginesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := openTest(t)
	b := openTest(t)
	require.NoError(t, a.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `CREATE TABLE only_a (v TEXT)`)
		return err
	}))
	ok, err := b.TableExists(ctx, "only_a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuoteIdent(t *testing.T) {
	q, err := QuoteIdent("village_Panaji")
	require.NoError(t, err)
	assert.Equal(t, `"village_Panaji"`, q)
	_, err = QuoteIdent(`bad"name`)
	assert.Error(t, err)
	_, err = QuoteIdent("")
	assert.Error(t, err)
}
