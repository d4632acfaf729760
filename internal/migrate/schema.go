package migrate

import (
	"database/sql"

	"cadastral-api/internal/logger"
)

// EnsureSchema：创建数据集文件表
// 约束：使用 IF NOT EXISTS，重复执行无副作用
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _cadastral_datasets (
            name TEXT PRIMARY KEY,
            body BYTEA NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_cadastral_datasets_updated ON _cadastral_datasets(updated_at)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
