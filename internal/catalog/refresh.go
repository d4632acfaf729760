package catalog

import (
	"context"
	"io"
	"strings"
	"time"

	"cadastral-api/internal/logger"
)

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// cachedFiles：列出当前已缓存的文件名
func (c *CachedSource) cachedFiles(ctx context.Context) ([]string, error) {
	prefix := c.key("")
	var out []string
	iter := c.RC.Scan(ctx, 0, globEscaper.Replace(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), prefix))
	}
	return out, iter.Err()
}

// refresh：绕过缓存重新读取内层来源并覆盖缓存；失败时保留旧值
func (c *CachedSource) refresh(ctx context.Context, file string) error {
	rc, err := c.Inner.Open(ctx, file)
	if err != nil {
		return err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return c.RC.Set(ctx, c.key(file), b, ttl).Err()
}

// RefreshCache：对全部带缓存的来源，重新拉取已缓存的文件
// 约束：单个文件失败只记录日志；返回成功刷新的文件数
func RefreshCache(ctx context.Context, sources []Source) int {
	l := logger.L()
	n := 0
	for _, s := range sources {
		cs, ok := s.(*CachedSource)
		if !ok {
			continue
		}
		files, err := cs.cachedFiles(ctx)
		if err != nil {
			l.Error("cache_refresh_scan_error", "location", cs.Location(), "err", err)
			continue
		}
		for _, f := range files {
			if err := cs.refresh(ctx, f); err != nil {
				l.Warn("cache_refresh_file_error", "location", cs.Location(), "file", f, "err", err)
				continue
			}
			n++
		}
	}
	return n
}

// refreshZone：数据集按果阿当地时间更新
func refreshZone() *time.Location {
	if loc, err := time.LoadLocation("Asia/Kolkata"); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+1800)
}

// nextDailyAt：下一次指定整点的时间点（严格晚于 now）
func nextDailyAt(now time.Time, loc *time.Location, hour int) time.Time {
	now = now.In(loc)
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// StartDailyRefresh：每天在 IST 指定整点刷新缓存，直到 ctx 结束
// 约束：hour 为负或没有带缓存的来源时不启动
func StartDailyRefresh(ctx context.Context, sources []Source, hour int) bool {
	if hour < 0 {
		return false
	}
	cached := false
	for _, s := range sources {
		if _, ok := s.(*CachedSource); ok {
			cached = true
		}
	}
	if !cached {
		return false
	}
	l := logger.L()
	loc := refreshZone()
	go func() {
		for {
			next := nextDailyAt(time.Now(), loc, hour)
			l.Info("cache_refresh_scheduled", "next", next)
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			l.Info("cache_refresh_start")
			n := RefreshCache(ctx, sources)
			l.Info("cache_refresh_done", "files", n)
		}
	}()
	return true
}
