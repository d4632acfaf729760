package display

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x, y, d float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + d, y}, {x + d, y + d}, {x, y + d}, {x, y}}}
}

func TestInitialView(t *testing.T) {
	v := New().Snapshot()
	assert.Equal(t, InitialCenter, v.Viewport.Center)
	assert.EqualValues(t, 10, v.Viewport.Zoom)
	assert.Nil(t, v.Viewport.Bounds)
	assert.True(t, v.LabelsVisible)
	assert.False(t, v.Visible)
	assert.Empty(t, v.Features.Features)
}

func TestFitEmptyIsNoop(t *testing.T) {
	d := New()
	before := d.Snapshot()
	assert.False(t, d.Fit())
	assert.Equal(t, before, d.Snapshot())

	d.Apply(nil, true)
	d.Clear()
	vp := d.Snapshot().Viewport
	assert.False(t, d.Fit())
	assert.Equal(t, vp, d.Snapshot().Viewport)
}

func TestApplyReplacesWholesaleAndFits(t *testing.T) {
	d := New()
	d.Apply([]*geojson.Feature{geojson.NewFeature(square(74, 15, 0.01)), geojson.NewFeature(square(74.5, 15.5, 0.01))}, true)
	v := d.Snapshot()
	assert.Len(t, v.Features.Features, 2)
	assert.True(t, v.Visible)
	assert.Equal(t, "Showing 2 cadastral parcels", v.Info)
	require.NotNil(t, v.Viewport.Bounds)
	assert.Equal(t, orb.Point{74, 15}, v.Viewport.Bounds[0])
	assert.InDelta(t, 74.51, v.Viewport.Bounds[1][0], 1e-9)
	assert.Equal(t, FitPadding, v.Viewport.Padding)

	d.Apply([]*geojson.Feature{geojson.NewFeature(orb.Point{73.9, 15.4})}, true)
	v = d.Snapshot()
	assert.Len(t, v.Features.Features, 1)
	assert.Equal(t, orb.Point{73.9, 15.4}, v.Viewport.Bounds[0])
	assert.Equal(t, uint64(2), v.Revision)
}

func TestApplyWithoutGeometryHidesLayer(t *testing.T) {
	d := New()
	d.Apply([]*geojson.Feature{geojson.NewFeature(square(74, 15, 0.01))}, true)
	d.Apply(nil, false)
	v := d.Snapshot()
	assert.False(t, v.Visible)
	assert.Empty(t, v.Features.Features)
}

func TestBoundsUsesOuterRingsOnly(t *testing.T) {
	holey := orb.Polygon{square(0, 0, 10)[0], square(100, 100, 1)[0]}
	mp := orb.MultiPolygon{square(20, 20, 1), square(-5, -5, 1)}
	b, ok := Bounds([]*geojson.Feature{
		geojson.NewFeature(holey),
		geojson.NewFeature(mp),
		geojson.NewFeature(orb.LineString{{500, 500}, {600, 600}}),
	})
	require.True(t, ok)
	assert.Equal(t, orb.Point{-5, -5}, b.Min)
	assert.Equal(t, orb.Point{21, 21}, b.Max)

	_, ok = Bounds([]*geojson.Feature{geojson.NewFeature(orb.LineString{{1, 1}, {2, 2}})})
	assert.False(t, ok)
}

func TestClearAndLabels(t *testing.T) {
	d := New()
	d.Apply([]*geojson.Feature{geojson.NewFeature(square(74, 15, 0.01))}, true)
	d.Clear()
	v := d.Snapshot()
	assert.Equal(t, "Map cleared", v.Info)
	assert.False(t, v.Visible)
	assert.Empty(t, v.Features.Features)

	assert.False(t, d.ToggleLabels())
	assert.True(t, d.ToggleLabels())
}

func TestZoomToPointPads(t *testing.T) {
	d := New()
	require.True(t, d.ZoomTo(orb.Point{74, 15}))
	v := d.Snapshot()
	require.NotNil(t, v.Viewport.Bounds)
	assert.InDelta(t, 73.999, v.Viewport.Bounds[0][0], 1e-9)
	assert.InDelta(t, 15.001, v.Viewport.Bounds[1][1], 1e-9)
	assert.Equal(t, ZoomPadding, v.Viewport.Padding)
	assert.EqualValues(t, ZoomMaxZoom, v.Viewport.MaxZoom)
	assert.False(t, d.ZoomTo(nil))
}

func TestViewJSON(t *testing.T) {
	d := New()
	f := geojson.NewFeature(square(74, 15, 0.01))
	f.Properties["survey"] = "12"
	d.Apply([]*geojson.Feature{f}, true)
	b, err := json.Marshal(d.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"FeatureCollection"`)
	assert.Contains(t, string(b), `"bounds":[[74,15],`)
}

func parcelFeature(g orb.Geometry, survey string) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.Properties["taluka"] = "Tiswadi"
	f.Properties["village"] = "Panaji"
	f.Properties["survey"] = survey
	f.Properties["subdiv"] = "A"
	return f
}

func TestPick(t *testing.T) {
	d := New()
	_, ok := d.Pick(orb.Point{74.005, 15.005})
	assert.False(t, ok)

	holed := orb.Polygon{
		{{74, 15}, {74.1, 15}, {74.1, 15.1}, {74, 15.1}, {74, 15}},
		{{74.04, 15.04}, {74.06, 15.04}, {74.06, 15.06}, {74.04, 15.06}, {74.04, 15.04}},
	}
	d.Apply([]*geojson.Feature{
		parcelFeature(holed, "1"),
		parcelFeature(square(74.01, 15.01, 0.01), "2"),
		parcelFeature(orb.Point{74.2, 15.2}, "3"),
	}, true)

	p, ok := d.Pick(orb.Point{74.015, 15.015})
	require.True(t, ok)
	assert.Equal(t, Parcel{Taluka: "Tiswadi", Village: "Panaji", Survey: "2", Subdiv: "A"}, p)

	p, ok = d.Pick(orb.Point{74.08, 15.08})
	require.True(t, ok)
	assert.Equal(t, "1", p.Survey)

	_, ok = d.Pick(orb.Point{74.05, 15.05})
	assert.False(t, ok, "point inside a hole")
	_, ok = d.Pick(orb.Point{74.2, 15.2})
	assert.False(t, ok, "points are not pickable")

	d.Clear()
	_, ok = d.Pick(orb.Point{74.015, 15.015})
	assert.False(t, ok)
}
