// 包 store：PostgreSQL 中的数据集文件表访问层，作为数据集的一个候选来源
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cadastral-api/internal/logger"

	_ "github.com/lib/pq"
)

// ErrNotFound：数据集文件不存在
var ErrNotFound = errors.New("dataset file not found")

// Store：持有连接池，提供数据集文件的读写
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Close：关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// FileInfo：数据集文件元信息
type FileInfo struct {
	Name      string
	Size      int64
	UpdatedAt time.Time
}

// Stat：读取文件元信息，不取正文；不存在时返回 ErrNotFound
func (s *Store) Stat(ctx context.Context, name string) (*FileInfo, error) {
	var fi FileInfo
	row := s.db.QueryRowContext(ctx, "SELECT name, octet_length(body), updated_at FROM _cadastral_datasets WHERE name=$1", name)
	if err := row.Scan(&fi.Name, &fi.Size, &fi.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &fi, nil
}

// Get：读取文件正文
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	var body []byte
	row := s.db.QueryRowContext(ctx, "SELECT body FROM _cadastral_datasets WHERE name=$1", name)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	logger.L().Debug("store_get", "name", name, "bytes", len(body))
	return body, nil
}

// Put：写入或覆盖文件正文
func (s *Store) Put(ctx context.Context, name string, body []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO _cadastral_datasets(name, body, updated_at)
        VALUES($1, $2, now())
        ON CONFLICT (name) DO UPDATE SET body=EXCLUDED.body, updated_at=now()`, name, body)
	if err == nil {
		logger.L().Debug("store_put", "name", name, "bytes", len(body))
	}
	return err
}

// List：按名称列出全部文件
func (s *Store) List(ctx context.Context) ([]FileInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, octet_length(body), updated_at FROM _cadastral_datasets ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FileInfo
	for rows.Next() {
		var fi FileInfo
		if err := rows.Scan(&fi.Name, &fi.Size, &fi.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}
