package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 两个后端跑同一组用例
func backends(t *testing.T, retention int) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "fleet.db"), retention)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(retention),
		"sqlite": sq,
	}
}

func entry(i int, botID string) domain.LogEntry {
	return domain.LogEntry{
		ID:        fmt.Sprintf("log-%04d", i),
		BotID:     botID,
		BotName:   "CraftBot_1000",
		Message:   fmt.Sprintf("message %d", i),
		Level:     domain.LevelInfo,
		Timestamp: time.Unix(int64(1700000000+i), 0).UTC(),
	}
}

func TestStore_BotsCRUD(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, 0) {
		t.Run(name, func(t *testing.T) {
			beta := domain.NewBotRecord("id-b", "Beta")
			alpha := domain.NewBotRecord("id-a", "Alpha")
			alpha.Position = &domain.Position{X: 1, Y: 64, Z: -3}
			alpha.IsRegistered = true
			require.NoError(t, s.SaveBot(ctx, beta))
			require.NoError(t, s.SaveBot(ctx, alpha))

			list, err := s.ListBots(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "Alpha", list[0].Username, "按 username 排序")
			assert.Equal(t, "Beta", list[1].Username)

			got, err := s.GetBotByUsername(ctx, "Alpha")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "id-a", got.ID)
			assert.True(t, got.IsRegistered)
			require.NotNil(t, got.Position)
			assert.Equal(t, domain.Position{X: 1, Y: 64, Z: -3}, *got.Position)

			alpha.Status = domain.StateOnline
			alpha.Health = 12.5
			require.NoError(t, s.SaveBot(ctx, alpha))
			got, err = s.GetBot(ctx, "id-a")
			require.NoError(t, err)
			assert.Equal(t, domain.StateOnline, got.Status)
			assert.Equal(t, 12.5, got.Health)

			missing, err := s.GetBot(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			require.NoError(t, s.DeleteBot(ctx, "id-b"))
			list, err = s.ListBots(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestStore_LogRetentionEvictsOldest(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, DefaultLogRetention) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 1001; i++ {
				require.NoError(t, s.AppendLog(ctx, entry(i, "bot-1")))
			}

			all, err := s.Logs(ctx, 5000)
			require.NoError(t, err)
			require.Len(t, all, 1000)
			assert.Equal(t, "log-1000", all[0].ID, "最新的在前")
			assert.Equal(t, "log-0001", all[len(all)-1].ID, "最旧的 log-0000 被淘汰")
		})
	}
}

func TestStore_LogQueries(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, 0) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 60; i++ {
				bot := "bot-1"
				if i%2 == 1 {
					bot = "bot-2"
				}
				require.NoError(t, s.AppendLog(ctx, entry(i, bot)))
			}

			logs, err := s.Logs(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, logs, DefaultLogLimit)
			assert.Equal(t, "log-0059", logs[0].ID)

			botLogs, err := s.BotLogs(ctx, "bot-1", 0)
			require.NoError(t, err)
			require.Len(t, botLogs, DefaultBotLogLimit)
			assert.Equal(t, "log-0058", botLogs[0].ID)
			for _, e := range botLogs {
				assert.Equal(t, "bot-1", e.BotID)
			}
			assert.Equal(t, domain.LevelInfo, botLogs[0].Level)
			assert.True(t, botLogs[0].Timestamp.Equal(time.Unix(1700000058, 0)))

			require.NoError(t, s.ClearLogs(ctx))
			logs, err = s.Logs(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, logs)
		})
	}
}
