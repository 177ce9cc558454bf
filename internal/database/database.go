package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iabetor/feedfuse/internal/logger"
)

// 运行状态。
const (
	StatusOK      = "ok"
	StatusMissing = "missing"
	StatusFailed  = "failed"
)

// DB 是运行历史的 SQLite 数据库连接。
type DB struct {
	*sql.DB
	path string
}

// Run 一个订阅源的一次合并记录。
type Run struct {
	RunID      string
	Source     string
	Status     string
	NumEntries int
	Recovered  int
	Target     string
	Error      string
	UpdatedAt  time.Time
}

// Open 打开或创建数据库。
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		return nil, errors.New("数据库路径为空")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// WAL 模式下读写互不阻塞
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}

	logger.Debugf("[database] 数据库已打开: %s", dbPath)

	return &DB{DB: db, path: dbPath}, nil
}

// Path 返回数据库文件路径。
func (db *DB) Path() string {
	return db.path
}

// Migrate 创建表和索引。
func (db *DB) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS merge_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			num_entries INTEGER DEFAULT 0,
			recovered INTEGER DEFAULT 0,
			target TEXT DEFAULT '',
			error TEXT DEFAULT '',
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_merge_runs_source ON merge_runs(source, updated_at)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
	}
	return nil
}

// RecordRun 写入一次运行记录。
func (db *DB) RecordRun(r Run) error {
	_, err := db.Exec(
		`INSERT INTO merge_runs (run_id, source, status, num_entries, recovered, target, error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Source, r.Status, r.NumEntries, r.Recovered, r.Target, r.Error, r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("记录运行历史失败: %w", err)
	}
	return nil
}

// LastRun 返回订阅源最近一次成功的记录，没有时返回 nil。
func (db *DB) LastRun(source string) (*Run, error) {
	var r Run
	err := db.QueryRow(
		`SELECT run_id, source, status, num_entries, recovered, target, error, updated_at
		 FROM merge_runs WHERE source = ? AND status = ?
		 ORDER BY updated_at DESC, id DESC LIMIT 1`,
		source, StatusOK,
	).Scan(&r.RunID, &r.Source, &r.Status, &r.NumEntries, &r.Recovered, &r.Target, &r.Error, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询运行历史失败: %w", err)
	}
	return &r, nil
}

// Runs 返回某次运行的全部记录，按写入顺序。
func (db *DB) Runs(runID string) ([]Run, error) {
	rows, err := db.Query(
		`SELECT run_id, source, status, num_entries, recovered, target, error, updated_at
		 FROM merge_runs WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("查询运行历史失败: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Source, &r.Status, &r.NumEntries, &r.Recovered, &r.Target, &r.Error, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("读取运行历史失败: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close 关闭数据库连接。
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}
