// 批量检索工具：读取条件 CSV，在独立会话中执行批量检索，并把结果输出为 GeoJSON FeatureCollection
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cadastral-api/internal/bootstrap"
	"cadastral-api/internal/config"
	"cadastral-api/internal/criteria"
	"cadastral-api/internal/logger"
	"cadastral-api/internal/session"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb/geojson"
)

// 条件文件取第一个参数或 CRITERIA_CSV；结果写入 OUT_GEOJSON，未设置时写标准输出
func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	cfg := config.Load()

	in := os.Getenv("CRITERIA_CSV")
	if len(os.Args) > 1 {
		in = os.Args[1]
	}
	if in == "" {
		l.Error("criteria_missing", "hint", "pass a CSV path or set CRITERIA_CSV")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, in, os.Getenv("OUT_GEOJSON"))
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run：依赖与会话在返回前关闭，main 只在 run 返回后退出
func run(ctx context.Context, cfg config.Config, in, out string) error {
	l := logger.L()
	text, err := os.ReadFile(in)
	if err != nil {
		l.Error("criteria_read_error", "file", in, "err", err)
		return err
	}
	crits, err := criteria.Parse(string(text))
	if err != nil {
		l.Error("criteria_parse_error", "file", in, "err", err)
		return err
	}
	if len(crits) == 0 {
		l.Error("criteria_parse_error", "file", in, "err", criteria.ErrNoCriteria)
		return criteria.ErrNoCriteria
	}

	deps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		l.Error("deps_open_error", "err", err)
		return err
	}
	defer deps.Close()

	c, err := session.New(ctx, "cli-"+uuid.NewString(), session.Options{Sources: deps.Sources, SpatialEnabled: cfg.SpatialEnabled})
	if err != nil {
		l.Error("session_error", "err", err)
		return err
	}
	defer c.Close()

	rs, err := c.BulkSearch(ctx, crits)
	if err != nil {
		l.Error("bulk_search_error", "err", err)
		return err
	}
	l.Info("bulk_search_done", "criteria", rs.Searches, "failed", rs.Failed, "records", len(rs.Records), "status", c.Status())

	fc := geojson.NewFeatureCollection()
	fc.Features = rs.Features()
	b, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		l.Error("encode_error", "err", err)
		return err
	}
	if out == "" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		l.Error("write_error", "file", out, "err", err)
		return err
	}
	l.Info("written", "file", out, "features", len(fc.Features))
	return nil
}
