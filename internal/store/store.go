// Package store 保存机器人记录与活动日志。
// 只做 last-write-wins 的 CRUD，业务不变式由 fleet.Manager 维护。
package store

import (
	"context"

	"github.com/betbot/botfleet/internal/domain"
)

// DefaultLogRetention 日志默认保留条数（超出后淘汰最旧的）
const DefaultLogRetention = 1000

// 查询默认条数
const (
	DefaultLogLimit    = 50
	DefaultBotLogLimit = 20
)

// Store 存储接口。Get* 在记录不存在时返回 (nil, nil)。
type Store interface {
	SaveBot(ctx context.Context, rec domain.BotRecord) error
	GetBot(ctx context.Context, id string) (*domain.BotRecord, error)
	GetBotByUsername(ctx context.Context, username string) (*domain.BotRecord, error)
	// ListBots 按 username 排序
	ListBots(ctx context.Context) ([]domain.BotRecord, error)
	DeleteBot(ctx context.Context, id string) error

	AppendLog(ctx context.Context, entry domain.LogEntry) error
	// Logs 最新的在前；limit <= 0 使用 DefaultLogLimit
	Logs(ctx context.Context, limit int) ([]domain.LogEntry, error)
	// BotLogs 某个机器人的日志，最新的在前；limit <= 0 使用 DefaultBotLogLimit
	BotLogs(ctx context.Context, botID string, limit int) ([]domain.LogEntry, error)
	ClearLogs(ctx context.Context) error

	Close() error
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
