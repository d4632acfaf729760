// 包 engine：会话内嵌的分析型 SQL 引擎（纯 Go SQLite，内存库）
// 约束：每个会话一个独立内存库；查询单元按请求获取连接、用完即还；
// 形状能力通过注册 SQL 函数 st_asgeojson(wkb) 提供，注册失败时视为能力不可用
package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"cadastral-api/internal/logger"
	"cadastral-api/internal/metrics"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	sqlite "modernc.org/sqlite"
)

// ShapeFunc：WKB 转 GeoJSON 文本的 SQL 函数名
const ShapeFunc = "st_asgeojson"

var (
	registerOnce sync.Once
	registerErr  error
)

// registerShapeFunc：向驱动注册形状函数，进程内只执行一次
func registerShapeFunc() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction(ShapeFunc, 1, func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return WKBToGeoJSON(args[0])
		})
		if registerErr != nil {
			logger.L().Warn("shape_func_register_error", "err", registerErr)
		}
	})
	return registerErr
}

// WKBToGeoJSON：形状函数实现；NULL 透传，非二进制或无法解码时返回错误
func WKBToGeoJSON(v driver.Value) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%s: expected blob, got %T", ShapeFunc, v)
	}
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ShapeFunc, err)
	}
	out, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

// Engine：单会话引擎句柄
type Engine struct {
	name   string
	db     *sql.DB
	keeper *sql.Conn
}

// Open：打开名为 name 的内存库
// 约束：keeper 连接常驻以保证内存库在空闲期间不被释放；工作连接池上限为 1，查询天然串行
func Open(ctx context.Context, name string) (*Engine, error) {
	_ = registerShapeFunc()
	dsn := "file:" + url.PathEscape(name) + "?mode=memory&cache=shared&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	keeper, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := keeper.PingContext(ctx); err != nil {
		_ = keeper.Close()
		_ = db.Close()
		return nil, err
	}
	logger.L().Debug("engine_open", "name", name)
	return &Engine{name: name, db: db, keeper: keeper}, nil
}

// Name：引擎（内存库）名称
func (e *Engine) Name() string { return e.name }

// Close：释放全部连接，内存库随之销毁
func (e *Engine) Close() error {
	var errs []error
	if e.keeper != nil {
		errs = append(errs, e.keeper.Close())
	}
	errs = append(errs, e.db.Close())
	logger.L().Debug("engine_close", "name", e.name)
	return errors.Join(errs...)
}

// With：获取一个查询单元连接执行 fn，结束后归还
func (e *Engine) With(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

// Tx：在单个查询单元内执行事务；fn 返回错误时回滚
func (e *Engine) Tx(ctx context.Context, fn func(*sql.Tx) error) error {
	return e.With(ctx, func(c *sql.Conn) error {
		tx, err := c.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// CheckShapes：探测形状函数是否可用
func (e *Engine) CheckShapes(ctx context.Context) error {
	if registerErr != nil {
		return registerErr
	}
	return e.With(ctx, func(c *sql.Conn) error {
		var s sql.NullString
		return c.QueryRowContext(ctx, "SELECT "+ShapeFunc+"(NULL)").Scan(&s)
	})
}

// TableExists：查询目录表判断表是否存在
func (e *Engine) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := e.With(ctx, func(c *sql.Conn) error {
		return c.QueryRowContext(ctx, "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
	})
	return n > 0, err
}

// Strings：执行返回单列文本的查询，NULL 行跳过
func (e *Engine) Strings(ctx context.Context, label, query string, args ...any) ([]string, error) {
	t0 := time.Now()
	defer func() { metrics.QueryDurationMs.WithLabelValues(label).Observe(float64(time.Since(t0).Milliseconds())) }()
	var out []string
	err := e.With(ctx, func(c *sql.Conn) error {
		rows, err := c.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s sql.NullString
			if err := rows.Scan(&s); err != nil {
				return err
			}
			if s.Valid {
				out = append(out, s.String)
			}
		}
		return rows.Err()
	})
	return out, err
}

// QuoteIdent：为已清洗的标识符加双引号；标识符本身不允许出现双引号
func QuoteIdent(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "\"\x00") {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}
