package display

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Parcel：点选命中的地块信息（弹窗内容）
type Parcel struct {
	Taluka  string `json:"taluka"`
	Village string `json:"village"`
	Survey  string `json:"survey"`
	Subdiv  string `json:"subdiv"`
}

// Pick：返回包含该点的已显示地块；多个命中时取最后绘制（最上层）者
// 约束：仅 Polygon/MultiPolygon 参与判定；外包框先行过滤，洞内不算命中
func (d *Display) Pick(pt orb.Point) (Parcel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.view.Visible {
		return Parcel{}, false
	}
	fs := d.view.Features.Features
	for i := len(fs) - 1; i >= 0; i-- {
		if fs[i] != nil && contains(fs[i].Geometry, pt) {
			return parcelOf(fs[i]), true
		}
	}
	return Parcel{}, false
}

func contains(g orb.Geometry, pt orb.Point) bool {
	switch x := g.(type) {
	case orb.Polygon:
		return x.Bound().Contains(pt) && planar.PolygonContains(x, pt)
	case orb.MultiPolygon:
		return x.Bound().Contains(pt) && planar.MultiPolygonContains(x, pt)
	}
	return false
}

func parcelOf(f *geojson.Feature) Parcel {
	return Parcel{
		Taluka:  f.Properties.MustString("taluka", ""),
		Village: f.Properties.MustString("village", ""),
		Survey:  f.Properties.MustString("survey", ""),
		Subdiv:  f.Properties.MustString("subdiv", ""),
	}
}
