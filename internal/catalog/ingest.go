package catalog

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"cadastral-api/internal/engine"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
)

// ErrUnsupportedFormat：文件扩展名不是 .csv / .geojson / .json
var ErrUnsupportedFormat = errors.New("unsupported dataset format")

// ingest：把文件正文写入引擎中的新表，返回写入行数
// 约束：建表与插入在同一事务内完成；任一行失败则整体回滚，表不会残留
func ingest(ctx context.Context, eng *engine.Engine, ds Dataset, file string, r io.Reader) (int, error) {
	var rows [][]any
	var err error
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		rows, err = readCSVRows(r, ds.Columns)
	case ".geojson", ".json":
		rows, err = readGeoJSONRows(r, ds.Columns)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, file)
	}
	if err != nil {
		return 0, err
	}
	table, err := engine.QuoteIdent(ds.Table)
	if err != nil {
		return 0, err
	}
	defs := make([]string, len(ds.Columns))
	marks := make([]string, len(ds.Columns))
	for i, c := range ds.Columns {
		defs[i] = c.Name + " " + c.Type
		marks[i] = "?"
	}
	err = eng.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "CREATE TABLE "+table+" ("+strings.Join(defs, ", ")+")"); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+table+" VALUES ("+strings.Join(marks, ", ")+")")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, row := range rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// readCSVRows：按表头（不区分大小写）映射到目标列；缺少任一目标列即拒绝
func readCSVRows(r io.Reader, cols []Column) ([][]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv")
		}
		return nil, err
	}
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = -1
		for j, h := range header {
			if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), c.Name) {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, fmt.Errorf("csv missing column %q", c.Name)
		}
	}
	var rows [][]any
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, err
		}
		row := make([]any, len(cols))
		for i, c := range cols {
			var s string
			if idx[i] < len(rec) {
				s = strings.TrimSpace(rec[idx[i]])
			}
			v, err := convertCell(c, s)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, c.Name, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// convertCell：空串一律写 NULL；INTEGER 解析整数；BLOB 按十六进制 WKB 解码（不校验几何）
func convertCell(c Column, s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	switch c.Type {
	case "INTEGER":
		return strconv.ParseInt(s, 10, 64)
	case "BLOB":
		return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "\\x"), "0x"))
	}
	return s, nil
}

// readGeoJSONRows：FeatureCollection 的每个要素一行；属性按列名取值，几何转为 WKB
func readGeoJSONRows(r io.Reader, cols []Column) ([][]any, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, 0, len(fc.Features))
	for fi, f := range fc.Features {
		row := make([]any, len(cols))
		for i, c := range cols {
			if c.Type == "BLOB" {
				if f.Geometry == nil {
					continue
				}
				blob, err := wkb.Marshal(f.Geometry)
				if err != nil {
					return nil, fmt.Errorf("feature %d: %w", fi, err)
				}
				row[i] = blob
				continue
			}
			v, ok := f.Properties[c.Name]
			if !ok || v == nil {
				continue
			}
			s := propString(v)
			if s == "" {
				continue
			}
			cv, err := convertCell(c, s)
			if err != nil {
				return nil, fmt.Errorf("feature %d property %s: %w", fi, c.Name, err)
			}
			row[i] = cv
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// propString：GeoJSON 属性统一转文本；数字按最短形式输出（123 而不是 123.000000）
func propString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
