package session

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"cadastral-api/internal/criteria"
	"cadastral-api/internal/engine"
	"cadastral-api/internal/metrics"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// MaxGroups：单次检索返回的分组上限
const MaxGroups = 100

const (
	PlaceholderFailed      = "WKB Binary Geometry Data (Spatial functions failed)"
	PlaceholderUnavailable = "WKB Binary Geometry Data (Spatial extension not available)"
)

// Record：一个 (taluka, village, survey, subdiv) 分组
// Geometry 为 GeoJSON 文本或占位说明；Shape 仅在文本可解析为带类型的几何时非空
type Record struct {
	Taluka   string       `json:"taluka"`
	Village  string       `json:"village"`
	Survey   string       `json:"survey"`
	Subdiv   string       `json:"subdiv"`
	Count    int64        `json:"record_count"`
	Geometry string       `json:"geometry"`
	Shape    orb.Geometry `json:"-"`
}

// HasShape：是否带有可绘制的几何
func (r Record) HasShape() bool { return r.Shape != nil }

// Feature：转为地图要素
func (r Record) Feature() *geojson.Feature {
	f := geojson.NewFeature(r.Shape)
	f.Properties["taluka"] = r.Taluka
	f.Properties["village"] = r.Village
	f.Properties["survey"] = r.Survey
	f.Properties["subdiv"] = r.Subdiv
	f.Properties["records"] = r.Count
	return f
}

// ResultSet：一次检索（单条或批量）的结果
type ResultSet struct {
	Records     []Record `json:"records"`
	HasGeometry bool     `json:"has_geometry"`
	Filter      string   `json:"filter,omitempty"`
	Bulk        bool     `json:"bulk"`
	Searches    int      `json:"searches"`
	Failed      int      `json:"failed,omitempty"`
	// Seq：结果集序号，每次替换结果集时递增；按行引用时用于识别过期链接
	Seq uint64 `json:"seq"`
}

func newResultSet(recs []Record) ResultSet {
	rs := ResultSet{Records: recs}
	if rs.Records == nil {
		rs.Records = []Record{}
	}
	for _, r := range recs {
		if r.HasShape() {
			rs.HasGeometry = true
			break
		}
	}
	return rs
}

// Features：带几何的记录转为地图要素
func (rs ResultSet) Features() []*geojson.Feature {
	var out []*geojson.Feature
	for _, r := range rs.Records {
		if r.HasShape() {
			out = append(out, r.Feature())
		}
	}
	return out
}

// Row：按结果集中的下标取记录
func (rs ResultSet) Row(i int) (Record, bool) {
	if i < 0 || i >= len(rs.Records) {
		return Record{}, false
	}
	return rs.Records[i], true
}

// Find：按 village / survey / subdiv 查找结果中的第一条记录
// 同一键可能对应多个几何不同的分组，逐行定位应使用 Row
func (rs ResultSet) Find(village, survey, subdiv string) (Record, bool) {
	for _, r := range rs.Records {
		if r.Village == village && r.Survey == survey && r.Subdiv == subdiv {
			return r, true
		}
	}
	return Record{}, false
}

// search：对某村数据集执行分组检索
// 约束：形状能力可用时先用形状函数查询；失败即单向关闭能力并以占位文本重查。
// 请求取消或超时不属于能力失败，原样返回错误
func (c *Controller) search(ctx context.Context, label, table string, cr criteria.Criterion) ([]Record, error) {
	qt, err := engine.QuoteIdent(table)
	if err != nil {
		return nil, err
	}
	where, args := whereClause(cr)
	if c.SpatialEnabled() {
		q := `SELECT taluka, village, survey, subdiv, ` + engine.ShapeFunc + `(geometry) AS geometry_geojson, COUNT(*) AS record_count
FROM ` + qt + where + `
GROUP BY taluka, village, survey, subdiv, geometry
ORDER BY survey, subdiv
LIMIT ?`
		recs, err := c.query(ctx, label, q, append(args, MaxGroups)...)
		if err == nil {
			return recs, nil
		}
		if isCancel(ctx, err) {
			return nil, err
		}
		c.disableShapes(err)
		return c.placeholderQuery(ctx, label, qt, where, args, PlaceholderFailed)
	}
	return c.placeholderQuery(ctx, label, qt, where, args, PlaceholderUnavailable)
}

func (c *Controller) placeholderQuery(ctx context.Context, label, qt, where string, args []any, text string) ([]Record, error) {
	q := `SELECT taluka, village, survey, subdiv, ? AS geometry_geojson, COUNT(*) AS record_count
FROM ` + qt + where + `
GROUP BY taluka, village, survey, subdiv
ORDER BY survey, subdiv
LIMIT ?`
	all := append([]any{text}, args...)
	return c.query(ctx, label, q, append(all, MaxGroups)...)
}

func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func whereClause(cr criteria.Criterion) (string, []any) {
	var conds []string
	var args []any
	if cr.Survey != "" {
		conds = append(conds, "survey = ?")
		args = append(args, cr.Survey)
	}
	if cr.Subdiv != "" {
		conds = append(conds, "subdiv = ?")
		args = append(args, cr.Subdiv)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "\nWHERE " + strings.Join(conds, " AND "), args
}

func (c *Controller) query(ctx context.Context, label, q string, args ...any) ([]Record, error) {
	t0 := time.Now()
	defer func() { metrics.QueryDurationMs.WithLabelValues(label).Observe(float64(time.Since(t0).Milliseconds())) }()
	var out []Record
	err := c.eng.With(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var taluka, village, survey, subdiv, geom sql.NullString
			var n int64
			if err := rows.Scan(&taluka, &village, &survey, &subdiv, &geom, &n); err != nil {
				return err
			}
			r := Record{Taluka: taluka.String, Village: village.String, Survey: survey.String,
				Subdiv: subdiv.String, Count: n, Geometry: geom.String}
			r.Shape = parseShape(r.Geometry)
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// parseShape：占位文本与无法解析的文本均返回 nil
func parseShape(text string) orb.Geometry {
	if text == "" || strings.Contains(text, "WKB Binary") {
		return nil
	}
	g, err := geojson.UnmarshalGeometry([]byte(text))
	if err != nil || g == nil || g.Type == "" {
		return nil
	}
	return g.Geometry()
}
