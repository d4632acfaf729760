// 包 render：结果集的 HTML 表格片段
package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strconv"

	"cadastral-api/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var tmpl = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const shortLimit = 100

type row struct {
	Taluka, Village, Survey, Subdiv string
	Count                           int64
	Geometry, Short, Formatted      string
	FileName, Download, Zoom        string
}

type page struct {
	Title string
	Empty string
	Rows  []row
}

// Options：链接前缀；为空时不生成下载与缩放链接
type Options struct {
	APIBase string
}

// Results：单次或批量检索结果的表格
func Results(w io.Writer, rs session.ResultSet, o Options) error {
	p := page{Empty: "No data found for the selected criteria"}
	if rs.Bulk {
		p.Empty = "No data found for any of the search criteria"
		p.Title = fmt.Sprintf("Bulk Search Results (%d records from %d searches)", len(rs.Records), rs.Searches)
	} else {
		p.Title = fmt.Sprintf("Cadastral Data for %s (%d records)", rs.Filter, len(rs.Records))
	}
	for i, r := range rs.Records {
		x := row{
			Taluka: r.Taluka, Village: r.Village, Survey: r.Survey, Subdiv: r.Subdiv,
			Count: r.Count, Geometry: r.Geometry,
			Short:     ShortGeometry(r.Geometry),
			Formatted: FormatGeoJSON(r.Geometry),
			FileName:  GeoJSONFileName(r.Village, r.Survey, r.Subdiv),
		}
		if o.APIBase != "" && r.HasShape() {
			q := RowQuery(rs.Seq, i)
			x.Download = o.APIBase + "/geojson?" + q
			x.Zoom = o.APIBase + "/map/zoom?" + q
		}
		p.Rows = append(p.Rows, x)
	}
	return tmpl.ExecuteTemplate(w, "results", p)
}

// ResultsHTML：Results 的字符串形式
func ResultsHTML(rs session.ResultSet, o Options) (string, error) {
	var buf bytes.Buffer
	if err := Results(&buf, rs, o); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RowQuery：按结果集序号与行号引用单条记录的查询串
// 同一 village/survey/subdiv 可能对应多个几何，链接只能按行定位
func RowQuery(seq uint64, row int) string {
	v := url.Values{}
	v.Set("seq", strconv.FormatUint(seq, 10))
	v.Set("row", strconv.Itoa(row))
	return v.Encode()
}

// GeoJSONFileName：单个几何的下载文件名 <village>_<survey>_<subdiv>.geojson
func GeoJSONFileName(village, survey, subdiv string) string {
	return village + "_" + survey + "_" + subdiv + ".geojson"
}

// ShortGeometry：前 100 个字符，超出部分以 "..." 省略
func ShortGeometry(s string) string {
	r := []rune(s)
	if len(r) <= shortLimit {
		return s
	}
	return string(r[:shortLimit]) + "..."
}

// FormatGeoJSON：可解析的 JSON 缩进两格输出，否则原样返回
func FormatGeoJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(s), "", "  "); err != nil {
		return s
	}
	return buf.String()
}
