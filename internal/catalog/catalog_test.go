package catalog

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"cadastral-api/internal/engine"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Open(context.Background(), "catalog-"+uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func polyHex(t *testing.T) string {
	t.Helper()
	b, err := wkb.Marshal(orb.Polygon{{{74, 15}, {74.01, 15}, {74.01, 15.01}, {74, 15}}})
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

// fileServer：按文件名返回正文，统计 GET 次数
func fileServer(t *testing.T, files map[string]string) (*httptest.Server, *int32) {
	t.Helper()
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/data/")
		body, ok := files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			atomic.AddInt32(&gets, 1)
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "village_Sao_Jose_de_Areal", VillageTable("Sao Jose de Areal"))
	assert.Equal(t, "Old-Goa_1", SanitizeKey("Old-Goa_1"))
	assert.Equal(t, "a_b_c", SanitizeKey("a.b/c"))
	assert.Equal(t, "_DROP_TABLE_x", SanitizeKey(`"DROP TABLE x`))
}

func TestCandidateLocations(t *testing.T) {
	got := CandidateLocations("https://maps.example.org/goa/app/index.html", "data")
	assert.Equal(t, []string{
		"https://maps.example.org/goa/app/data",
		"data",
		"https://maps.example.org/goa/data",
	}, got)

	got = CandidateLocations("https://maps.example.org/index.html", "data")
	assert.Equal(t, []string{"https://maps.example.org/data", "data", "https://maps.example.org/index.html/data"}, got)

	assert.Equal(t, []string{"data"}, CandidateLocations("", "data"))
	assert.Empty(t, CandidateLocations("", ""))
}

func TestBuildSourcesOrderAndDedup(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	srcs := BuildSources(SourceOptions{
		PageURL:   "http://h/app/index.html",
		LocalDir:  "data",
		ExtraURLs: []string{"http://h/app/data/", "http://cdn/data"},
		Redis:     rc,
	})
	var locs []string
	for _, s := range srcs {
		locs = append(locs, s.Location())
	}
	assert.Equal(t, []string{"http://h/app/data", "data", "http://cdn/data"}, locs)
	_, cached := srcs[0].(*CachedSource)
	assert.True(t, cached)
	_, dir := srcs[1].(*DirSource)
	assert.True(t, dir)
}

func TestReadCSVRows(t *testing.T) {
	ds := TalukasDataset()
	rows, err := readCSVRows(strings.NewReader("\ufeffTaluka,Village_Count\nTiswadi,12\nSalcete,\n"), ds.Columns)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Tiswadi", rows[0][0])
	assert.Equal(t, int64(12), rows[0][1])
	assert.Nil(t, rows[1][1])

	_, err = readCSVRows(strings.NewReader("name,count\nx,1\n"), ds.Columns)
	assert.ErrorContains(t, err, `missing column "taluka"`)

	_, err = readCSVRows(strings.NewReader("taluka,village_count\nx,many\n"), ds.Columns)
	assert.Error(t, err)
}

func TestReadGeoJSONRows(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"taluka":"Tiswadi","village":"Panaji","survey":123,"subdiv":"A"},
	   "geometry":{"type":"Polygon","coordinates":[[[74,15],[74.01,15],[74.01,15.01],[74,15]]]}},
	  {"type":"Feature","properties":{"taluka":"Tiswadi","village":"Panaji","survey":"124"},"geometry":null}
	]}`
	rows, err := readGeoJSONRows(strings.NewReader(body), VillageDataset("Panaji").Columns)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "123", rows[0][2])
	assert.NotNil(t, rows[0][4])
	assert.Nil(t, rows[1][3])
	assert.Nil(t, rows[1][4])
}

func TestLoaderDirSourceAndIdempotence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "talukas.csv"), []byte("taluka,village_count\nTiswadi,2\nSalcete,3\n"), 0o644))
	eng := openEngine(t)
	l := NewLoader(eng, []Source{&DirSource{Dir: filepath.Join(dir, "missing")}, &DirSource{Dir: dir}})

	require.NoError(t, l.EnsureLoaded(ctx, TalukasDataset()))
	assert.True(t, l.IsLoaded(TalukasTable))
	require.NoError(t, l.EnsureLoaded(ctx, TalukasDataset()))
	assert.Equal(t, []string{TalukasTable}, l.Loaded())

	out, err := eng.Strings(ctx, "test", `SELECT taluka FROM talukas ORDER BY taluka`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Salcete", "Tiswadi"}, out)
}

func TestLoaderFetchesOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	srv, gets := fileServer(t, map[string]string{
		"Panaji.csv": "taluka,village,survey,subdiv,geometry\nTiswadi,Panaji,1,A," + polyHex(t) + "\n",
	})
	eng := openEngine(t)
	l := NewLoader(eng, []Source{NewHTTPSource(srv.URL+"/data", srv.Client())})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.EnsureLoaded(ctx, VillageDataset("Panaji"))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, l.EnsureLoaded(ctx, VillageDataset("Panaji")))
	assert.EqualValues(t, 1, atomic.LoadInt32(gets))
	assert.True(t, l.IsLoaded("village_Panaji"))
}

func TestLoaderAllCandidatesFail(t *testing.T) {
	ctx := context.Background()
	srv, _ := fileServer(t, map[string]string{})
	eng := openEngine(t)
	l := NewLoader(eng, []Source{&DirSource{Dir: t.TempDir()}, NewHTTPSource(srv.URL+"/data", srv.Client())})

	err := l.EnsureLoaded(ctx, TalukasDataset())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 2, fe.Attempts)
	assert.Contains(t, fe.Error(), "Failed to load talukas.csv")
	assert.Contains(t, fe.Error(), "HTTP 404")
	assert.False(t, l.IsLoaded(TalukasTable))
}

func TestLoaderNoSources(t *testing.T) {
	l := NewLoader(openEngine(t), nil)
	err := l.EnsureLoaded(context.Background(), TalukasDataset())
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestLoaderPartialFailureLeavesNoTable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Panaji.csv"),
		[]byte("taluka,village,survey,subdiv,geometry\nTiswadi,Panaji,1,A,"+polyHex(t)+"\nTiswadi,Panaji,2,B,zz\n"), 0o644))
	eng := openEngine(t)
	l := NewLoader(eng, []Source{&DirSource{Dir: dir}})

	err := l.EnsureLoaded(ctx, VillageDataset("Panaji"))
	require.Error(t, err)
	assert.False(t, l.IsLoaded("village_Panaji"))
	ok, err := eng.TableExists(ctx, "village_Panaji")
	require.NoError(t, err)
	assert.False(t, ok)

	// 修复文件后重试从头开始并成功
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Panaji.csv"),
		[]byte("taluka,village,survey,subdiv,geometry\nTiswadi,Panaji,1,A,"+polyHex(t)+"\n"), 0o644))
	require.NoError(t, l.EnsureLoaded(ctx, VillageDataset("Panaji")))
	assert.True(t, l.IsLoaded("village_Panaji"))
}

func TestCachedSourceServesFromRedis(t *testing.T) {
	ctx := context.Background()
	srv, gets := fileServer(t, map[string]string{"talukas.csv": "taluka,village_count\nPonda,4\n"})
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	src := &CachedSource{Inner: NewHTTPSource(srv.URL+"/data", srv.Client()), RC: rc}

	for i := 0; i < 2; i++ {
		l := NewLoader(openEngine(t), []Source{src})
		require.NoError(t, l.EnsureLoaded(ctx, TalukasDataset()))
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(gets))
	assert.True(t, mr.Exists("cadastre:file:"+srv.URL+"/data:talukas.csv"))
}

func TestCachedSourceSkipsRejectedBody(t *testing.T) {
	ctx := context.Background()
	files := map[string]string{
		"Panaji.csv": "taluka,village,survey,subdiv,geometry\nTiswadi,Panaji,1,A,zz\n",
	}
	srv, gets := fileServer(t, files)
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	src := &CachedSource{Inner: NewHTTPSource(srv.URL+"/data", srv.Client()), RC: rc}
	key := "cadastre:file:" + srv.URL + "/data:Panaji.csv"

	l := NewLoader(openEngine(t), []Source{src})
	require.Error(t, l.EnsureLoaded(ctx, VillageDataset("Panaji")))
	assert.False(t, mr.Exists(key))

	// 上游修复后重新下载，而不是重放被拒绝的缓存正文
	files["Panaji.csv"] = "taluka,village,survey,subdiv,geometry\nTiswadi,Panaji,1,A," + polyHex(t) + "\n"
	require.NoError(t, l.EnsureLoaded(ctx, VillageDataset("Panaji")))
	assert.EqualValues(t, 2, atomic.LoadInt32(gets))
	assert.True(t, mr.Exists(key))
}

func TestCachedSourceFallsThroughWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "talukas.csv"), []byte("taluka,village_count\nPonda,4\n"), 0o644))
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()
	l := NewLoader(openEngine(t), []Source{&CachedSource{Inner: &DirSource{Dir: dir}, RC: rc}})
	require.NoError(t, l.EnsureLoaded(ctx, TalukasDataset()))
}

func TestCheckFileNameRejectsTraversal(t *testing.T) {
	d := &DirSource{Dir: t.TempDir()}
	assert.Error(t, d.Check(context.Background(), "../etc/passwd"))
	assert.Error(t, d.Check(context.Background(), "a/b.csv"))
}
