// 包 session：单会话的联动筛选控制器与会话管理
// 背景：一个会话对应一个完整的浏览实例：独立的内存引擎、已加载数据集登记、形状能力标记、当前结果集与地图状态
// 约束：会话之间不共享可变状态；控制器内的互斥锁只保护字段，不串行化查询，
// 后完成的请求无条件覆盖地图与结果集
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cadastral-api/internal/catalog"
	"cadastral-api/internal/criteria"
	"cadastral-api/internal/display"
	"cadastral-api/internal/engine"
	"cadastral-api/internal/filter"
	"cadastral-api/internal/logger"
	"cadastral-api/internal/metrics"
)

// ErrVillageRequired：加载数据前必须选定 village
var ErrVillageRequired = errors.New("Please select a village first")

// Options：控制器构建参数
type Options struct {
	Sources        []catalog.Source
	SpatialEnabled bool
}

// TalukaOption：taluka 下拉项
type TalukaOption struct {
	Taluka       string `json:"taluka"`
	VillageCount int64  `json:"village_count"`
}

// Controller：会话控制器，显式生命周期 New / Close
type Controller struct {
	id      string
	eng     *engine.Engine
	loader  *catalog.Loader
	display *display.Display
	created time.Time

	mu      sync.Mutex
	spatial bool
	state   filter.State
	talukas []TalukaOption
	results ResultSet
	seq     uint64
	status  string
	closed  bool
}

// New：创建会话控制器；引擎打开失败返回错误，参考数据集加载失败只记录状态文本
func New(ctx context.Context, id string, opts Options) (*Controller, error) {
	eng, err := engine.Open(ctx, "cadastre-"+id)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	c := &Controller{
		id:      id,
		eng:     eng,
		loader:  catalog.NewLoader(eng, opts.Sources),
		display: display.New(),
		created: time.Now(),
		state:   filter.Initial(nil),
	}
	if opts.SpatialEnabled {
		if err := eng.CheckShapes(ctx); err != nil {
			logger.L().Warn("shape_capability_unavailable", "session", id, "err", err)
		} else {
			c.spatial = true
		}
	}
	logger.L().Info("session_open", "session", id, "spatial", c.spatial)
	if err := c.loadReference(ctx); err != nil {
		c.setStatus("Error loading data: " + err.Error())
		logger.L().Error("reference_load_error", "session", id, "err", err)
	}
	return c, nil
}

// loadReference：taluka 列表与 taluka→village 映射，会话开始时各加载一次
func (c *Controller) loadReference(ctx context.Context) error {
	if err := c.loader.EnsureLoaded(ctx, catalog.TalukasDataset()); err != nil {
		return err
	}
	if err := c.loader.EnsureLoaded(ctx, catalog.MappingDataset()); err != nil {
		return err
	}
	opts, err := c.queryTalukas(ctx)
	if err != nil {
		return err
	}
	names := make([]string, len(opts))
	for i, o := range opts {
		names[i] = o.Taluka
	}
	c.mu.Lock()
	c.talukas = opts
	c.state = filter.Initial(names)
	c.mu.Unlock()
	return nil
}

// Close：释放引擎；重复调用无副作用
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	logger.L().Info("session_close", "session", c.id, "age_s", int(time.Since(c.created).Seconds()), "datasets", len(c.loader.Loaded()))
	return c.eng.Close()
}

func (c *Controller) ID() string                { return c.id }
func (c *Controller) Display() *display.Display { return c.display }
func (c *Controller) Loader() *catalog.Loader   { return c.loader }

// SpatialEnabled：形状能力当前是否可用
func (c *Controller) SpatialEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spatial
}

// disableShapes：单向关闭形状能力，之后不再自动探测
func (c *Controller) disableShapes(cause error) {
	c.mu.Lock()
	was := c.spatial
	c.spatial = false
	c.mu.Unlock()
	if was {
		metrics.ShapeDisabledTotal.Inc()
		logger.L().Warn("shape_capability_disabled", "session", c.id, "err", cause)
	}
}

func (c *Controller) State() filter.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s filter.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Status：最近一次面向用户的状态文本
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) setStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Results：当前结果集
func (c *Controller) Results() ResultSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results
}

// setResults：保存结果集并分配序号，返回带序号的结果集
func (c *Controller) setResults(rs ResultSet) ResultSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	rs.Seq = c.seq
	c.results = rs
	return rs
}

// Talukas：taluka 选项（按名称排序）
func (c *Controller) Talukas(ctx context.Context) ([]TalukaOption, error) {
	c.mu.Lock()
	cached := c.talukas
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	if err := c.loadReference(ctx); err != nil {
		c.setStatus("Error loading data: " + err.Error())
		return nil, err
	}
	c.setStatus("")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.talukas, nil
}

// SelectTaluka：选中 taluka 并填充其 village 选项；survey / subdiv 一律重置并禁用
func (c *Controller) SelectTaluka(ctx context.Context, st filter.State, taluka string) (filter.State, error) {
	if _, err := st.WithTaluka(taluka, nil); err != nil {
		return st, err
	}
	var villages []string
	if taluka != "" {
		if err := c.loader.EnsureLoaded(ctx, catalog.MappingDataset()); err != nil {
			return st, err
		}
		var err error
		villages, err = c.eng.Strings(ctx, "villages",
			`SELECT village FROM mapping WHERE taluka = ? AND village IS NOT NULL ORDER BY village`, taluka)
		if err != nil {
			return st, err
		}
		if len(villages) == 0 {
			logger.L().Debug("no_villages_found", "session", c.id, "taluka", taluka)
		}
	}
	return st.WithTaluka(taluka, villages)
}

// SelectVillage：按需加载该村数据集，填充 survey 选项
func (c *Controller) SelectVillage(ctx context.Context, st filter.State, village string) (filter.State, error) {
	if _, err := st.WithVillage(village, nil); err != nil {
		return st, err
	}
	var surveys []string
	if village != "" {
		ds := catalog.VillageDataset(village)
		if err := c.loader.EnsureLoaded(ctx, ds); err != nil {
			return st, err
		}
		table, err := engine.QuoteIdent(ds.Table)
		if err != nil {
			return st, err
		}
		surveys, err = c.eng.Strings(ctx, "surveys",
			`SELECT DISTINCT survey FROM `+table+` WHERE survey IS NOT NULL ORDER BY survey`)
		if err != nil {
			return st, err
		}
	}
	return st.WithVillage(village, surveys)
}

// SelectSurvey：填充 subdiv 选项；survey 为空时取整村的 subdiv
func (c *Controller) SelectSurvey(ctx context.Context, st filter.State, survey string) (filter.State, error) {
	if _, err := st.WithSurvey(survey, nil); err != nil {
		return st, err
	}
	village, _, _ := st.Criterion()
	ds := catalog.VillageDataset(village)
	if err := c.loader.EnsureLoaded(ctx, ds); err != nil {
		return st, err
	}
	table, err := engine.QuoteIdent(ds.Table)
	if err != nil {
		return st, err
	}
	var subdivs []string
	if survey != "" {
		subdivs, err = c.eng.Strings(ctx, "subdivs",
			`SELECT DISTINCT subdiv FROM `+table+` WHERE survey = ? AND subdiv IS NOT NULL ORDER BY subdiv`, survey)
	} else {
		subdivs, err = c.eng.Strings(ctx, "subdivs",
			`SELECT DISTINCT subdiv FROM `+table+` WHERE subdiv IS NOT NULL ORDER BY subdiv`)
	}
	if err != nil {
		return st, err
	}
	return st.WithSurvey(survey, subdivs)
}

// SelectSubdiv：subdiv 无需查询
func (c *Controller) SelectSubdiv(st filter.State, subdiv string) (filter.State, error) {
	return st.WithSubdiv(subdiv)
}

// Select：按层级执行选择命令并保存新状态；失败时状态保持不变
func (c *Controller) Select(ctx context.Context, level filter.Level, value string) (filter.State, error) {
	st := c.State()
	var (
		n   filter.State
		err error
	)
	switch level {
	case filter.Taluka:
		n, err = c.SelectTaluka(ctx, st, value)
	case filter.Village:
		n, err = c.SelectVillage(ctx, st, value)
	case filter.Survey:
		n, err = c.SelectSurvey(ctx, st, value)
	default:
		n, err = c.SelectSubdiv(st, value)
	}
	if err != nil {
		logger.L().Warn("select_error", "session", c.id, "level", level.String(), "value", value, "err", err)
		c.setStatus(err.Error())
		return st, err
	}
	c.setState(n)
	c.setStatus("")
	return n, nil
}

// LoadData：按当前筛选加载结果（最多 100 组，按 survey、subdiv 排序），并整体刷新地图
func (c *Controller) LoadData(ctx context.Context, st filter.State) (ResultSet, error) {
	village, survey, subdiv := st.Criterion()
	if village == "" {
		return ResultSet{}, ErrVillageRequired
	}
	crit := criteria.Criterion{Village: village, Survey: survey, Subdiv: subdiv}
	ds := catalog.VillageDataset(village)
	if err := c.loader.EnsureLoaded(ctx, ds); err != nil {
		c.setStatus(err.Error())
		return ResultSet{}, err
	}
	recs, err := c.search(ctx, "load", ds.Table, crit)
	if err != nil {
		c.setStatus("Error loading data: " + err.Error())
		return ResultSet{}, err
	}
	rs := newResultSet(recs)
	rs.Filter = describe(crit)
	rs.Searches = 1
	rs = c.setResults(rs)
	c.display.Apply(rs.Features(), rs.HasGeometry)
	c.setStatus("")
	logger.L().Info("load_data", "session", c.id, "village", village, "survey", survey, "subdiv", subdiv,
		"records", len(rs.Records), "has_geometry", rs.HasGeometry)
	return rs, nil
}

// BulkSearch：逐条执行检索条件；单条失败记录日志后跳过，结果为全部成功条件的并集
func (c *Controller) BulkSearch(ctx context.Context, crits []criteria.Criterion) (ResultSet, error) {
	var all []Record
	failed := 0
	for _, cr := range crits {
		recs, err := c.searchCriterion(ctx, cr)
		if err != nil {
			failed++
			metrics.BulkCriteriaTotal.WithLabelValues("failed").Inc()
			logger.L().Warn("bulk_criterion_error", "session", c.id, "criterion", cr.String(), "err", err)
			continue
		}
		metrics.BulkCriteriaTotal.WithLabelValues("ok").Inc()
		all = append(all, recs...)
	}
	rs := newResultSet(all)
	rs.Bulk = true
	rs.Searches = len(crits)
	rs.Failed = failed
	logger.L().Info("bulk_search", "session", c.id, "criteria", len(crits), "failed", failed,
		"records", len(rs.Records), "has_geometry", rs.HasGeometry)
	if len(rs.Records) == 0 {
		c.setStatus("No matching records found")
		return rs, nil
	}
	rs = c.setResults(rs)
	c.display.Apply(rs.Features(), rs.HasGeometry)
	c.setStatus(fmt.Sprintf("Found %d records", len(rs.Records)))
	return rs, nil
}

func (c *Controller) searchCriterion(ctx context.Context, cr criteria.Criterion) ([]Record, error) {
	if err := cr.Validate(); err != nil {
		return nil, err
	}
	ds := catalog.VillageDataset(cr.Village)
	if err := c.loader.EnsureLoaded(ctx, ds); err != nil {
		return nil, err
	}
	return c.search(ctx, "bulk", ds.Table, cr)
}

func describe(cr criteria.Criterion) string {
	s := cr.Village
	if cr.Survey != "" {
		s += " (Survey: " + cr.Survey + ")"
	}
	if cr.Subdiv != "" {
		s += " (Subdiv: " + cr.Subdiv + ")"
	}
	return s
}
