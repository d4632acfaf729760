package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cadastral-api/internal/engine"
	"cadastral-api/internal/logger"
	"cadastral-api/internal/metrics"

	"golang.org/x/sync/singleflight"
)

// ErrNoCandidates：没有任何可尝试的来源
var ErrNoCandidates = errors.New("all loading strategies failed")

// FetchError：全部候选失败后的汇总错误，只保留最后一次失败的文件与原因
type FetchError struct {
	Dataset  string
	File     string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Failed to load %s: %v", e.File, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Loader：会话内的数据集加载器与已加载登记表
// 约束：登记只在写入成功后发生；失败不记录任何状态，下次调用从候选列表开头重试
type Loader struct {
	eng     *engine.Engine
	sources []Source

	mu     sync.Mutex
	loaded map[string]time.Time
	sf     singleflight.Group
}

func NewLoader(eng *engine.Engine, sources []Source) *Loader {
	return &Loader{eng: eng, sources: sources, loaded: make(map[string]time.Time)}
}

// IsLoaded：数据集是否已在本会话加载
func (l *Loader) IsLoaded(table string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[table]
	return ok
}

// Loaded：已加载的表名（排序）
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.loaded))
	for k := range l.loaded {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EnsureLoaded：确保数据集已加载；已加载时直接返回
// 约束：同一数据集的并发请求合并为一次拉取
func (l *Loader) EnsureLoaded(ctx context.Context, ds Dataset) error {
	if l.IsLoaded(ds.Table) {
		logger.L().Debug("dataset_already_loaded", "table", ds.Table)
		metrics.DatasetLoadsTotal.WithLabelValues("cached").Inc()
		return nil
	}
	_, err, _ := l.sf.Do(ds.Table, func() (any, error) {
		if l.IsLoaded(ds.Table) {
			return nil, nil
		}
		return nil, l.load(ctx, ds)
	})
	return err
}

func (l *Loader) load(ctx context.Context, ds Dataset) error {
	file := ""
	if len(ds.Files) > 0 {
		file = ds.Files[0]
	}
	logger.L().Info("dataset_load_begin", "table", ds.Table, "file", file)
	var lastErr error
	attempts := 0
	for _, src := range l.sources {
		for _, f := range ds.Files {
			attempts++
			n, err := l.try(ctx, src, ds, f)
			if err != nil {
				metrics.FetchAttemptsTotal.WithLabelValues(src.Kind(), "fail").Inc()
				logger.L().Warn("dataset_candidate_failed", "table", ds.Table, "attempt", attempts,
					"kind", src.Kind(), "location", src.Location(), "file", f, "err", err)
				lastErr = err
				file = f
				if ctx.Err() != nil {
					return &FetchError{Dataset: ds.Table, File: file, Attempts: attempts, Err: ctx.Err()}
				}
				continue
			}
			metrics.FetchAttemptsTotal.WithLabelValues(src.Kind(), "ok").Inc()
			metrics.DatasetLoadsTotal.WithLabelValues("ok").Inc()
			l.mu.Lock()
			l.loaded[ds.Table] = time.Now()
			l.mu.Unlock()
			logger.L().Info("dataset_load_ok", "table", ds.Table, "attempt", attempts,
				"kind", src.Kind(), "location", src.Location(), "file", f, "rows", n)
			return nil
		}
	}
	if lastErr == nil {
		lastErr = ErrNoCandidates
	}
	metrics.DatasetLoadsTotal.WithLabelValues("failed").Inc()
	logger.L().Error("dataset_load_failed", "table", ds.Table, "attempts", attempts, "err", lastErr)
	return &FetchError{Dataset: ds.Table, File: file, Attempts: attempts, Err: lastErr}
}

// try：单个候选的预检 + 拉取 + 写入
func (l *Loader) try(ctx context.Context, src Source, ds Dataset, file string) (int, error) {
	if err := src.Check(ctx, file); err != nil {
		return 0, err
	}
	rc, err := src.Open(ctx, file)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := ingest(ctx, l.eng, ds, file, rc)
	if err != nil {
		return 0, err
	}
	if c, ok := rc.(committer); ok {
		c.Commit(ctx)
	}
	return n, nil
}

// committer：正文被接受后才落缓存的来源（见 CachedSource）
type committer interface {
	Commit(ctx context.Context)
}
