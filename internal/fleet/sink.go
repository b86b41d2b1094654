package fleet

import (
	"context"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/betbot/botfleet/internal/metrics"
	"github.com/betbot/botfleet/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sink 活动日志：写入存储（FIFO 保留），同步到 logrus，再发布 newLog
type Sink struct {
	store store.Store
	bus   *Bus
	now   func() time.Time
}

// NewSink 创建日志汇
func NewSink(st store.Store, bus *Bus) *Sink {
	return &Sink{store: st, bus: bus, now: time.Now}
}

// Log 追加一条日志
func (s *Sink) Log(botID, botName string, level domain.LogLevel, message string) domain.LogEntry {
	entry := domain.LogEntry{
		ID:        uuid.NewString(),
		BotID:     botID,
		BotName:   botName,
		Message:   message,
		Level:     level,
		Timestamp: s.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.store.AppendLog(ctx, entry); err != nil {
		log.Warnf("写入活动日志失败: bot=%s err=%v", botName, err)
	}
	metrics.LogEntries.Add(1)

	fields := log.WithFields(logrus.Fields{"botId": botID, "bot": botName})
	switch level {
	case domain.LevelWarning:
		fields.Warn(message)
	case domain.LevelError:
		fields.Error(message)
	default:
		fields.Info(message)
	}

	s.bus.Publish(Event{Kind: EventNewLog, Log: &entry})
	return entry
}
