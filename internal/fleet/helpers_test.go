package fleet

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/betbot/botfleet/internal/gameclient"
	"github.com/betbot/botfleet/internal/gameclient/gameclienttest"
	"github.com/betbot/botfleet/internal/store"
	"github.com/stretchr/testify/require"
)

const (
	waitFor  = 2 * time.Second
	pollEach = 5 * time.Millisecond
	operator = "rabbit0009"
)

type harness struct {
	t      *testing.T
	m      *Manager
	dialer *gameclienttest.FakeDialer
	store  *store.MemoryStore
	rec    *recorder
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = "pw"
	cfg.Operator = operator
	cfg.HandshakeDelay = 5 * time.Millisecond
	cfg.Runner.FollowInterval = 10 * time.Millisecond
	cfg.Runner.AttackInterval = 10 * time.Millisecond
	cfg.Runner.AntiIdleInterval = 10 * time.Millisecond
	cfg.Runner.AntiIdlePulse = time.Millisecond
	return cfg
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	d := gameclienttest.NewFakeDialer()
	// 每个新连接都能看到操作员
	d.OnDial(func(s *gameclienttest.FakeSession) { s.AddPlayer(operator, 7, 2) })
	st := store.NewMemoryStore(0)
	m := NewManager(cfg, d, st)
	h := &harness{t: t, m: m, dialer: d, store: st, rec: newRecorder(m)}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return h
}

func (h *harness) nextSession() *gameclienttest.FakeSession {
	h.t.Helper()
	select {
	case s := <-h.dialer.Dialed():
		return s
	case <-time.After(waitFor):
		h.t.Fatal("等待连接超时")
		return nil
	}
}

// online 创建机器人并模拟登录，等待握手完成
func (h *harness) online(username string) (domain.BotRecord, *gameclienttest.FakeSession) {
	h.t.Helper()
	rec, created, err := h.m.CreateBot(context.Background(), username)
	require.NoError(h.t, err)
	require.True(h.t, created)

	sess := h.nextSession()
	require.Equal(h.t, username, sess.Opts.Username)
	sess.Emit(gameclient.LoginEvent{})
	h.waitBot(rec.ID, func(r domain.BotRecord) bool { return r.Status == domain.StateOnline && r.IsRegistered })
	h.waitLog(rec.ID, "Registration and login completed")
	return h.bot(rec.ID), sess
}

func (h *harness) bot(id string) domain.BotRecord {
	h.t.Helper()
	rec, err := h.m.GetBot(id)
	require.NoError(h.t, err)
	return rec
}

func (h *harness) waitBot(id string, cond func(domain.BotRecord) bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		rec, err := h.m.GetBot(id)
		return err == nil && cond(rec)
	}, waitFor, pollEach)
}

func (h *harness) logs(id string) []domain.LogEntry {
	h.t.Helper()
	logs, err := h.store.BotLogs(context.Background(), id, 5000)
	require.NoError(h.t, err)
	return logs
}

func (h *harness) waitLog(id, substr string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return countLogs(h.logs(id), "", substr) > 0
	}, waitFor, pollEach)
}

func countLogs(logs []domain.LogEntry, level domain.LogLevel, substr string) int {
	n := 0
	for _, e := range logs {
		if (level == "" || e.Level == level) && strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}

// recorder 记录总线上的所有事件
type recorder struct {
	mu     sync.Mutex
	events []Event
	bus    *Bus
}

func newRecorder(m *Manager) *recorder {
	r := &recorder{bus: m.Events()}
	m.Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) all() []Event {
	r.bus.Sync()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(kind EventKind, botID string) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Kind != kind {
			continue
		}
		if botID == "" || (ev.Bot != nil && ev.Bot.ID == botID) || (ev.Chat != nil && ev.Chat.BotID == botID) {
			n++
		}
	}
	return n
}

func (i *Instance) currentRunner() *Runner {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.runner
}
