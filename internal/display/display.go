// 包 display：会话的地图图层状态（要素集合、标签开关、视口）
// 背景：渲染由前端地图库完成，服务端只维护其输入；每次更新整体替换要素集合，不做增量
package display

import (
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	FitPadding     = 50
	ZoomPadding    = 100
	ZoomMaxZoom    = 18
	pointHalfWidth = 0.001
	initialZoom    = 10
)

// InitialCenter：初始视口中心（果阿）
var InitialCenter = orb.Point{74.124, 15.2993}

// Viewport：地图视口；Bounds 非空时前端按 fitBounds 处理
type Viewport struct {
	Center  orb.Point     `json:"center"`
	Zoom    float64       `json:"zoom"`
	Bounds  *[2]orb.Point `json:"bounds,omitempty"`
	Padding int           `json:"padding,omitempty"`
	MaxZoom float64       `json:"max_zoom,omitempty"`
}

// View：某一时刻的显示快照
type View struct {
	Features      *geojson.FeatureCollection `json:"features"`
	Visible       bool                       `json:"visible"`
	LabelsVisible bool                       `json:"labels_visible"`
	Info          string                     `json:"info"`
	Viewport      Viewport                   `json:"viewport"`
	Revision      uint64                     `json:"revision"`
}

// Display：单会话地图状态；并发请求按到达顺序覆盖（后完成者生效）
type Display struct {
	mu   sync.Mutex
	view View
}

func New() *Display {
	return &Display{view: View{
		Features:      geojson.NewFeatureCollection(),
		LabelsVisible: true,
		Viewport:      Viewport{Center: InitialCenter, Zoom: initialZoom},
	}}
}

// Snapshot：当前视图的拷贝
func (d *Display) Snapshot() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.view
	fc := geojson.NewFeatureCollection()
	fc.Features = append(fc.Features, d.view.Features.Features...)
	v.Features = fc
	if d.view.Viewport.Bounds != nil {
		b := *d.view.Viewport.Bounds
		v.Viewport.Bounds = &b
	}
	return v
}

// Apply：整体替换要素集合；有几何时显示图层并适配视口，否则隐藏图层
func (d *Display) Apply(features []*geojson.Feature, hasGeometry bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fc := geojson.NewFeatureCollection()
	fc.Features = append(fc.Features, features...)
	d.view.Features = fc
	d.view.Revision++
	if hasGeometry && len(features) > 0 {
		d.view.Visible = true
		d.view.Info = infoText(len(features))
		d.fitLocked()
		return
	}
	d.view.Visible = false
}

// Fit：视口适配到全部已显示要素；集合为空时不做任何改变
func (d *Display) Fit() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fitLocked()
}

func (d *Display) fitLocked() bool {
	if len(d.view.Features.Features) == 0 {
		return false
	}
	b, ok := Bounds(d.view.Features.Features)
	if !ok {
		return false
	}
	d.setBounds(b, FitPadding, 0)
	return true
}

func (d *Display) setBounds(b orb.Bound, padding int, maxZoom float64) {
	d.view.Viewport.Bounds = &[2]orb.Point{b.Min, b.Max}
	d.view.Viewport.Center = b.Center()
	d.view.Viewport.Padding = padding
	d.view.Viewport.MaxZoom = maxZoom
}

// Clear：清空要素并隐藏图层
func (d *Display) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view.Features = geojson.NewFeatureCollection()
	d.view.Info = "Map cleared"
	d.view.Visible = false
	d.view.Revision++
}

// ToggleLabels：切换标签图层，返回切换后的状态
func (d *Display) ToggleLabels() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view.LabelsVisible = !d.view.LabelsVisible
	return d.view.LabelsVisible
}

// ZoomTo：视口缩放到单个几何；点几何按约 100 米外扩
func (d *Display) ZoomTo(g orb.Geometry) bool {
	if g == nil {
		return false
	}
	b, ok := extend(orb.Bound{}, false, g)
	if !ok {
		return false
	}
	if p, isPoint := g.(orb.Point); isPoint {
		b = b.Extend(orb.Point{p[0] - pointHalfWidth, p[1] - pointHalfWidth}).
			Extend(orb.Point{p[0] + pointHalfWidth, p[1] + pointHalfWidth})
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setBounds(b, ZoomPadding, ZoomMaxZoom)
	d.view.Visible = true
	return true
}

// Bounds：要素的外包框；只计 Polygon 外环、MultiPolygon 各外环与 Point
func Bounds(features []*geojson.Feature) (orb.Bound, bool) {
	var b orb.Bound
	ok := false
	for _, f := range features {
		if f == nil {
			continue
		}
		b, ok = extend(b, ok, f.Geometry)
	}
	return b, ok
}

func extend(b orb.Bound, ok bool, g orb.Geometry) (orb.Bound, bool) {
	add := func(p orb.Point) {
		if !ok {
			b = p.Bound()
			ok = true
			return
		}
		b = b.Extend(p)
	}
	switch x := g.(type) {
	case orb.Polygon:
		if len(x) > 0 {
			for _, p := range x[0] {
				add(p)
			}
		}
	case orb.MultiPolygon:
		for _, poly := range x {
			if len(poly) > 0 {
				for _, p := range poly[0] {
					add(p)
				}
			}
		}
	case orb.Point:
		add(x)
	}
	return b, ok
}

func infoText(n int) string {
	return "Showing " + strconv.Itoa(n) + " cadastral parcels"
}
