package audit

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/charlesren/bgp_peer_manager/errdefs"
	"github.com/charlesren/bgp_peer_manager/mutation"
	"github.com/charlesren/ylog"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS mutation_audit(
	id TEXT PRIMARY KEY,
	host TEXT NOT NULL,
	peer_group TEXT NOT NULL,
	peer_address TEXT NOT NULL,
	directive TEXT NOT NULL,
	final_phase TEXT NOT NULL,
	success INTEGER NOT NULL,
	error_code TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	discarded INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mutation_audit_started ON mutation_audit(started_at);`

const DefaultListLimit = 20

// Entry 一条停用记录
type Entry struct {
	ID         string    `json:"id" yaml:"id"`
	Host       string    `json:"host" yaml:"host"`
	Group      string    `json:"group" yaml:"group"`
	Address    string    `json:"address" yaml:"address"`
	Directive  string    `json:"directive" yaml:"directive"`
	FinalPhase string    `json:"final_phase" yaml:"final_phase"`
	Success    bool      `json:"success" yaml:"success"`
	ErrorCode  string    `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	Discarded  bool      `json:"discarded" yaml:"discarded"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// Store SQLite审计库，实现mutation.Recorder
type Store struct {
	db   *sql.DB
	path string
}

var _ mutation.Recorder = (*Store)(nil)

// sqliteDSN 路径按URI转义，文件名中的?和#不会被当作参数或片段
func sqliteDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve audit path %s: %w", path, err)
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(abs),
		RawQuery: "_pragma=busy_timeout%3D5000",
	}
	return u.String(), nil
}

// Open 打开或创建审计库
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errdefs.MissingInput("audit.path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit db %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}

	ylog.Debugf("Audit", "audit db ready at %s", path)
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record 写入一次变更结果
func (s *Store) Record(ctx context.Context, o *mutation.Outcome) error {
	var code, msg string
	if o.Err != nil {
		code = string(errdefs.CodeOf(o.Err))
		msg = o.Err.Error()
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mutation_audit(id, host, peer_group, peer_address, directive, final_phase, success, error_code, error, discarded, started_at, finished_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.Host, o.Group, o.Address, o.Directive, string(o.Phase),
		o.Succeeded(), code, msg, o.Discarded,
		o.StartedAt.UnixMilli(), o.FinishedAt.UnixMilli(),
	)
	if err != nil {
		ylog.Errorf("Audit", "record %s: %v", o.ID, err)
		return fmt.Errorf("record audit %s: %w", o.ID, err)
	}
	return nil
}

// List 按开始时间倒序返回最近的记录，limit<=0时使用默认值
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host, peer_group, peer_address, directive, final_phase, success, error_code, error, discarded, started_at, finished_at
		FROM mutation_audit ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var started, finished int64
		if err := rows.Scan(&e.ID, &e.Host, &e.Group, &e.Address, &e.Directive, &e.FinalPhase,
			&e.Success, &e.ErrorCode, &e.Error, &e.Discarded, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.StartedAt = time.UnixMilli(started)
		e.FinishedAt = time.UnixMilli(finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
