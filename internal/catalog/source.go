package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cadastral-api/internal/logger"
	"cadastral-api/internal/metrics"
	"cadastral-api/internal/store"

	"github.com/redis/go-redis/v9"
)

// Source：数据集文件的一个候选来源
// 约束：Check 为轻量预检（HEAD / stat / 元信息），通过后才调用 Open 取正文
type Source interface {
	Kind() string
	Location() string
	Check(ctx context.Context, file string) error
	Open(ctx context.Context, file string) (io.ReadCloser, error)
}

// checkFileName：文件名只能是单段名称
func checkFileName(file string) error {
	if file == "" || file == "." || file == ".." || strings.ContainsAny(file, `/\`) || strings.Contains(file, "..") {
		return fmt.Errorf("invalid file name %q", file)
	}
	return nil
}

// HTTPSource：以 URL 前缀托管的数据目录
type HTTPSource struct {
	Base   string
	Client *http.Client
}

func NewHTTPSource(base string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSource{Base: strings.TrimSuffix(base, "/"), Client: client}
}

func (h *HTTPSource) Kind() string     { return "http" }
func (h *HTTPSource) Location() string { return h.Base }

func (h *HTTPSource) fileURL(file string) string {
	return h.Base + "/" + url.PathEscape(file)
}

// Check：HEAD 预检；非 2xx 视为不可用，Content-Length 缺失或为 0 只告警
func (h *HTTPSource) Check(ctx context.Context, file string) error {
	if err := checkFileName(file); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.fileURL(file), nil)
	if err != nil {
		return err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	logger.L().Debug("fetch_check", "url", h.fileURL(file), "status", resp.StatusCode,
		"content_length", resp.Header.Get("content-length"), "content_type", resp.Header.Get("content-type"))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("file not accessible: HTTP %s", resp.Status)
	}
	if cl := resp.Header.Get("content-length"); cl == "" || cl == "0" {
		logger.L().Warn("fetch_check_empty_length", "url", h.fileURL(file))
	}
	return nil
}

func (h *HTTPSource) Open(ctx context.Context, file string) (io.ReadCloser, error) {
	if err := checkFileName(file); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.fileURL(file), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch failed: HTTP %s", resp.Status)
	}
	return resp.Body, nil
}

// DirSource：本地数据目录
type DirSource struct {
	Dir string
}

func (d *DirSource) Kind() string     { return "dir" }
func (d *DirSource) Location() string { return d.Dir }

func (d *DirSource) Check(ctx context.Context, file string) error {
	if err := checkFileName(file); err != nil {
		return err
	}
	fi, err := os.Stat(filepath.Join(d.Dir, file))
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", file)
	}
	if fi.Size() == 0 {
		logger.L().Warn("fetch_check_empty_length", "path", filepath.Join(d.Dir, file))
	}
	return nil
}

func (d *DirSource) Open(ctx context.Context, file string) (io.ReadCloser, error) {
	if err := checkFileName(file); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(d.Dir, file))
}

// PostgresSource：PostgreSQL 数据集文件表
type PostgresSource struct {
	Store *store.Store
}

func (p *PostgresSource) Kind() string     { return "pg" }
func (p *PostgresSource) Location() string { return "postgres:_cadastral_datasets" }

func (p *PostgresSource) Check(ctx context.Context, file string) error {
	_, err := p.Store.Stat(ctx, file)
	return err
}

func (p *PostgresSource) Open(ctx context.Context, file string) (io.ReadCloser, error) {
	b, err := p.Store.Get(ctx, file)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// CachedSource：以 Redis 缓存内层来源的文件正文，跨会话复用下载结果
// 约束：缓存读写失败一律视为未命中，不影响内层来源；只缓存已被成功写入数据表的正文
type CachedSource struct {
	Inner Source
	RC    *redis.Client
	TTL   time.Duration
}

func (c *CachedSource) Kind() string     { return c.Inner.Kind() }
func (c *CachedSource) Location() string { return c.Inner.Location() }

func (c *CachedSource) key(file string) string {
	return "cadastre:file:" + c.Inner.Location() + ":" + file
}

func (c *CachedSource) Check(ctx context.Context, file string) error {
	if n, err := c.RC.Exists(ctx, c.key(file)).Result(); err == nil && n > 0 {
		return nil
	}
	return c.Inner.Check(ctx, file)
}

func (c *CachedSource) Open(ctx context.Context, file string) (io.ReadCloser, error) {
	b, err := c.RC.Get(ctx, c.key(file)).Bytes()
	if err == nil {
		metrics.FetchCacheHitsTotal.Inc()
		logger.L().Debug("fetch_cache_hit", "file", file, "bytes", len(b))
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	if !errors.Is(err, redis.Nil) {
		logger.L().Debug("fetch_cache_error", "err", err)
	}
	rc, err := c.Inner.Open(ctx, file)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err = io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return &pendingBody{Reader: bytes.NewReader(b), src: c, file: file, body: b}, nil
}

// pendingBody：未命中缓存时的正文；写入成功后由加载器调用 Commit 才写入 Redis
type pendingBody struct {
	*bytes.Reader
	src  *CachedSource
	file string
	body []byte
}

func (p *pendingBody) Close() error { return nil }

func (p *pendingBody) Commit(ctx context.Context) {
	ttl := p.src.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := p.src.RC.Set(ctx, p.src.key(p.file), p.body, ttl).Err(); err != nil {
		logger.L().Debug("fetch_cache_set_error", "err", err)
	}
}

// SourceOptions：构建候选来源列表的参数
type SourceOptions struct {
	PageURL   string
	LocalDir  string
	ExtraURLs []string
	Client    *http.Client
	Redis     *redis.Client
	CacheTTL  time.Duration
	Store     *store.Store
}

// BuildSources：按候选位置顺序构建来源，显式 URL 与 PostgreSQL 依次追加在后
// 约束：仅远端来源套用 Redis 缓存
func BuildSources(o SourceOptions) []Source {
	locs := CandidateLocations(o.PageURL, o.LocalDir)
	for _, u := range o.ExtraURLs {
		dup := false
		for _, l := range locs {
			if l == strings.TrimSuffix(u, "/") {
				dup = true
				break
			}
		}
		if !dup {
			locs = append(locs, strings.TrimSuffix(u, "/"))
		}
	}
	var out []Source
	for _, loc := range locs {
		var s Source
		if isRemote(loc) {
			s = NewHTTPSource(loc, o.Client)
			if o.Redis != nil {
				s = &CachedSource{Inner: s, RC: o.Redis, TTL: o.CacheTTL}
			}
		} else {
			s = &DirSource{Dir: loc}
		}
		out = append(out, s)
	}
	if o.Store != nil {
		out = append(out, &PostgresSource{Store: o.Store})
	}
	for i, s := range out {
		logger.L().Debug("source_candidate", "idx", i, "kind", s.Kind(), "location", s.Location())
	}
	return out
}
