package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var sqliteLog = logrus.WithField("component", "store_sqlite")

// SQLiteStore 基于 modernc.org/sqlite 的持久化后端。
// 进程重启后记录仍可查询，但不会自动恢复连接。
type SQLiteStore struct {
	db        *sql.DB
	retention int
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite 打开（必要时创建）数据库并执行迁移
func OpenSQLite(path string, retention int) (*SQLiteStore, error) {
	if retention <= 0 {
		retention = DefaultLogRetention
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, retention: retention}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	sqliteLog.Infof("sqlite 存储已打开: %s (日志保留 %d 条)", path, retention)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS bots (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL,
  action TEXT NOT NULL,
  target TEXT NOT NULL DEFAULT '',
  health REAL NOT NULL DEFAULT 20,
  max_health REAL NOT NULL DEFAULT 20,
  uptime INTEGER NOT NULL DEFAULT 0,
  is_registered INTEGER NOT NULL DEFAULT 0,
  has_position INTEGER NOT NULL DEFAULT 0,
  pos_x INTEGER NOT NULL DEFAULT 0,
  pos_y INTEGER NOT NULL DEFAULT 0,
  pos_z INTEGER NOT NULL DEFAULT 0,
  last_seen TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS logs (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL,
  bot_id TEXT NOT NULL,
  bot_name TEXT NOT NULL,
  message TEXT NOT NULL,
  level TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_logs_bot_seq ON logs(bot_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveBot(ctx context.Context, rec domain.BotRecord) error {
	var hasPos int
	var pos domain.Position
	if rec.Position != nil {
		hasPos, pos = 1, *rec.Position
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bots (id,username,status,action,target,health,max_health,uptime,is_registered,has_position,pos_x,pos_y,pos_z,last_seen)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  status=excluded.status, action=excluded.action, target=excluded.target,
  health=excluded.health, max_health=excluded.max_health, uptime=excluded.uptime,
  is_registered=excluded.is_registered, has_position=excluded.has_position,
  pos_x=excluded.pos_x, pos_y=excluded.pos_y, pos_z=excluded.pos_z, last_seen=excluded.last_seen
`, rec.ID, rec.Username, string(rec.Status), string(rec.Action), rec.Target, rec.Health, rec.MaxHealth,
		rec.Uptime, boolToInt(rec.IsRegistered), hasPos, pos.X, pos.Y, pos.Z, rec.LastSeen.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save bot: %w", err)
	}
	return nil
}

const botColumns = `id,username,status,action,target,health,max_health,uptime,is_registered,has_position,pos_x,pos_y,pos_z,last_seen`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (*domain.BotRecord, error) {
	var (
		rec            domain.BotRecord
		status, action string
		registered     int
		hasPos         int
		pos            domain.Position
		lastSeen       string
	)
	if err := row.Scan(&rec.ID, &rec.Username, &status, &action, &rec.Target, &rec.Health, &rec.MaxHealth,
		&rec.Uptime, &registered, &hasPos, &pos.X, &pos.Y, &pos.Z, &lastSeen); err != nil {
		return nil, err
	}
	rec.Status = domain.ConnectionState(status)
	rec.Action = domain.ActionKind(action)
	rec.IsRegistered = registered != 0
	if hasPos != 0 {
		rec.Position = &pos
	}
	rec.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
	return &rec, nil
}

func (s *SQLiteStore) getBotWhere(ctx context.Context, where string, arg any) (*domain.BotRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE `+where, arg)
	rec, err := scanBot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get bot: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) GetBot(ctx context.Context, id string) (*domain.BotRecord, error) {
	return s.getBotWhere(ctx, `id=?`, id)
}

func (s *SQLiteStore) GetBotByUsername(ctx context.Context, username string) (*domain.BotRecord, error) {
	return s.getBotWhere(ctx, `username=?`, username)
}

func (s *SQLiteStore) ListBots(ctx context.Context) ([]domain.BotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	out := []domain.BotRecord{}
	for rows.Next() {
		rec, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteBot(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendLog(ctx context.Context, e domain.LogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO logs (id,bot_id,bot_name,message,level,ts) VALUES (?,?,?,?,?,?)
`, e.ID, e.BotID, e.BotName, e.Message, string(e.Level), e.Timestamp.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	// 只保留最新的 retention 条
	if _, err := tx.ExecContext(ctx, `
DELETE FROM logs WHERE seq <= (SELECT seq FROM logs ORDER BY seq DESC LIMIT 1 OFFSET ?)
`, s.retention); err != nil {
		return fmt.Errorf("prune logs: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) queryLogs(ctx context.Context, query string, args ...any) ([]domain.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	out := []domain.LogEntry{}
	for rows.Next() {
		var (
			e     domain.LogEntry
			level string
			ts    string
		)
		if err := rows.Scan(&e.ID, &e.BotID, &e.BotName, &e.Message, &level, &ts); err != nil {
			return nil, err
		}
		e.Level = domain.LogLevel(level)
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Logs(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	return s.queryLogs(ctx, `
SELECT id,bot_id,bot_name,message,level,ts FROM logs ORDER BY seq DESC LIMIT ?
`, normalizeLimit(limit, DefaultLogLimit))
}

func (s *SQLiteStore) BotLogs(ctx context.Context, botID string, limit int) ([]domain.LogEntry, error) {
	return s.queryLogs(ctx, `
SELECT id,bot_id,bot_name,message,level,ts FROM logs WHERE bot_id=? ORDER BY seq DESC LIMIT ?
`, botID, normalizeLimit(limit, DefaultBotLogLimit))
}

func (s *SQLiteStore) ClearLogs(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM logs`); err != nil {
		return fmt.Errorf("clear logs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
