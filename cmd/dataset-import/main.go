// 数据导入工具：把本地数据目录中的数据集文件批量写入 PostgreSQL 数据集表，供服务作为候选来源读取
package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cadastral-api/internal/logger"
	"cadastral-api/internal/migrate"
	"cadastral-api/internal/store"
	"cadastral-api/internal/utils"

	"github.com/joho/godotenv"
)

// 读取 DATA_DIR（或第一个参数）下的 .csv/.geojson 并逐个 UPSERT；LIST_ONLY=true 时仅列出已有文件
func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	logger.Setup()

	dir := os.Getenv("DATA_DIR")
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	if dir == "" {
		dir = "data"
	}
	if err := run(dir, strings.EqualFold(os.Getenv("LIST_ONLY"), "true")); err != nil {
		os.Exit(1)
	}
}

func run(dir string, listOnly bool) error {
	l := logger.L()
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		return err
	}
	st := store.AttachDB(db)
	defer st.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		l.Error("db_ping_error", "err", err)
		return err
	}
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		return err
	}

	if listOnly {
		files, err := st.List(ctx)
		if err != nil {
			l.Error("list_error", "err", err)
			return err
		}
		for _, f := range files {
			l.Info("dataset_file", "name", f.Name, "bytes", f.Size, "updated_at", f.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	}
	return importDir(ctx, st, dir)
}

func importDir(ctx context.Context, st *store.Store, dir string) error {
	l := logger.L()
	entries, err := os.ReadDir(dir)
	if err != nil {
		l.Error("read_dir_error", "dir", dir, "err", err)
		return err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !isDatasetFile(e.Name()) {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			l.Error("read_file_error", "file", e.Name(), "err", err)
			return err
		}
		if err := st.Put(ctx, e.Name(), body); err != nil {
			l.Error("put_error", "file", e.Name(), "err", err)
			return err
		}
		n++
		l.Info("imported", "file", e.Name(), "bytes", len(body))
	}
	l.Info("import_done", "dir", dir, "files", n)
	return nil
}

func isDatasetFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".csv" || ext == ".geojson"
}
