// 包 bootstrap：服务与命令行工具共用的依赖装配（Redis 缓存、PostgreSQL 数据集表、候选来源列表）
package bootstrap

import (
	"context"
	"errors"
	"net/http"

	"cadastral-api/internal/catalog"
	"cadastral-api/internal/config"
	"cadastral-api/internal/logger"
	"cadastral-api/internal/migrate"
	"cadastral-api/internal/store"
	"cadastral-api/internal/utils"

	"github.com/redis/go-redis/v9"
)

// Deps：已打开的外部依赖；Close 释放全部连接
type Deps struct {
	Redis   *redis.Client
	Store   *store.Store
	Sources []catalog.Source
}

func (d *Deps) Close() error {
	var errs []error
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.Store != nil {
		errs = append(errs, d.Store.Close())
	}
	return errors.Join(errs...)
}

// Open：按配置打开可选依赖并构建候选来源
// 约束：Redis 不可用时降级为无缓存；PostgreSQL 打开或建表失败返回错误
func Open(ctx context.Context, cfg config.Config) (*Deps, error) {
	l := logger.L()
	d := &Deps{}
	if cfg.RedisEnabled {
		rc := utils.OpenRedisFromEnv()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
			_ = rc.Close()
		} else {
			l.Info("redis_ping_ok")
			d.Redis = rc
		}
	} else {
		l.Info("redis_disabled")
	}
	if cfg.PGDatasets {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			_ = d.Close()
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
			_ = db.Close()
			_ = d.Close()
			return nil, err
		}
		l.Info("db_ping_ok")
		if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			_ = db.Close()
			_ = d.Close()
			return nil, err
		}
		d.Store = store.AttachDB(db)
	}
	d.Sources = catalog.BuildSources(catalog.SourceOptions{
		PageURL:   cfg.DataPageURL,
		LocalDir:  cfg.DataDir,
		ExtraURLs: cfg.DataURLs,
		Client:    &http.Client{Timeout: cfg.FetchTimeout},
		Redis:     d.Redis,
		CacheTTL:  cfg.FetchCacheTTL,
		Store:     d.Store,
	})
	l.Info("sources_ready", "count", len(d.Sources))
	return d, nil
}
