package store

import (
	"context"
	"sort"
	"sync"

	"github.com/betbot/botfleet/internal/domain"
)

// MemoryStore 进程内存储（默认后端）
type MemoryStore struct {
	mu        sync.RWMutex
	bots      map[string]domain.BotRecord
	logs      []domain.LogEntry // 按追加顺序，最旧在前
	retention int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore retention <= 0 时使用 DefaultLogRetention
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultLogRetention
	}
	return &MemoryStore{
		bots:      make(map[string]domain.BotRecord),
		retention: retention,
	}
}

func (m *MemoryStore) SaveBot(_ context.Context, rec domain.BotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[rec.ID] = rec.Clone()
	return nil
}

func (m *MemoryStore) GetBot(_ context.Context, id string) (*domain.BotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.bots[id]
	if !ok {
		return nil, nil
	}
	out := rec.Clone()
	return &out, nil
}

func (m *MemoryStore) GetBotByUsername(_ context.Context, username string) (*domain.BotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.bots {
		if rec.Username == username {
			out := rec.Clone()
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListBots(_ context.Context) ([]domain.BotRecord, error) {
	m.mu.RLock()
	out := make([]domain.BotRecord, 0, len(m.bots))
	for _, rec := range m.bots {
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *MemoryStore) DeleteBot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bots, id)
	return nil
}

func (m *MemoryStore) AppendLog(_ context.Context, entry domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logs = append(m.logs, entry)
	if over := len(m.logs) - m.retention; over > 0 {
		// 复制到新切片，释放被淘汰条目占用的底层数组
		kept := make([]domain.LogEntry, m.retention, m.retention+1)
		copy(kept, m.logs[over:])
		m.logs = kept
	}
	return nil
}

func (m *MemoryStore) Logs(_ context.Context, limit int) ([]domain.LogEntry, error) {
	limit = normalizeLimit(limit, DefaultLogLimit)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.logs, limit, func(domain.LogEntry) bool { return true }), nil
}

func (m *MemoryStore) BotLogs(_ context.Context, botID string, limit int) ([]domain.LogEntry, error) {
	limit = normalizeLimit(limit, DefaultBotLogLimit)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.logs, limit, func(e domain.LogEntry) bool { return e.BotID == botID }), nil
}

func (m *MemoryStore) ClearLogs(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = nil
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Len 当前保留的日志条数
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}

func newestFirst(logs []domain.LogEntry, limit int, keep func(domain.LogEntry) bool) []domain.LogEntry {
	out := make([]domain.LogEntry, 0, limit)
	for i := len(logs) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(logs[i]) {
			out = append(out, logs[i])
		}
	}
	return out
}
