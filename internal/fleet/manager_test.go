package fleet

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/betbot/botfleet/internal/gameclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlphaLogin_RegistersOnce(t *testing.T) {
	h := newHarness(t, nil)

	rec, sess := h.online("Alpha")
	assert.Equal(t, domain.StateOnline, rec.Status)
	assert.Equal(t, domain.ActionIdle, rec.Action)
	assert.True(t, rec.IsRegistered)
	assert.Equal(t, []string{"/register pw", "/login pw"}, sess.Chats())
	assert.Equal(t, 1, h.rec.count(EventBotConnected, rec.ID))

	logs := h.logs(rec.ID)
	assert.Equal(t, 1, countLogs(logs, domain.LevelInfo, "Connecting to localhost:25569"))
	assert.Equal(t, 1, countLogs(logs, domain.LevelSuccess, "Successfully connected to server"))
	assert.Equal(t, 1, countLogs(logs, domain.LevelSuccess, "Registration and login completed"))

	// 已注册：重新连接只发送 /login
	require.NoError(t, h.m.ConnectBot(rec.ID))
	sess2 := h.nextSession()
	assert.Equal(t, 1, sess.QuitCount(), "重新连接前应退出旧连接")
	sess2.Emit(gameclient.LoginEvent{})
	h.waitLog(rec.ID, "Login completed")
	assert.Equal(t, []string{"/login pw"}, sess2.Chats())
	assert.Equal(t, 2, h.rec.count(EventBotConnected, rec.ID))
}

func TestBetaFollow_TargetNotFound(t *testing.T) {
	h := newHarness(t, nil)
	rec, sess := h.online("Beta")
	sess.RemovePlayer(operator)
	warnings := countLogs(h.logs(rec.ID), domain.LevelWarning, "")

	err := h.m.FollowIndividual(rec.ID, operator)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTargetNotFound))

	after := h.bot(rec.ID)
	assert.Equal(t, domain.ActionIdle, after.Action)
	assert.Empty(t, after.Target)
	assert.Empty(t, sess.Goals())

	logs := h.logs(rec.ID)
	assert.Equal(t, warnings+1, countLogs(logs, domain.LevelWarning, ""))
	assert.Equal(t, 1, countLogs(logs, domain.LevelWarning, "Player rabbit0009 not found"))
}

func TestKickedBanned_SchedulesReconnect(t *testing.T) {
	h := newHarness(t, nil)
	rec, sess := h.online("Gamma")

	before := time.Now()
	sess.Emit(gameclient.KickedEvent{Reason: "banned"})
	h.waitBot(rec.ID, func(r domain.BotRecord) bool { return r.Status == domain.StateOffline })

	after := h.bot(rec.ID)
	assert.Equal(t, domain.ActionDisconnected, after.Action)
	assert.Equal(t, 1, countLogs(h.logs(rec.ID), domain.LevelError, "banned"))
	assert.Equal(t, 1, h.rec.count(EventBotDisconnected, rec.ID))

	inst, err := h.m.instance(rec.ID)
	require.NoError(t, err)
	deadline, armed := inst.ReconnectDeadline()
	require.True(t, armed)
	assert.WithinDuration(t, before.Add(30*time.Second), deadline, time.Second)
	assert.Equal(t, 1, h.dialer.Count(), "30 秒内不应重连")
}

func TestEnd_ReconnectsAfterDelay(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ReconnectDelay = 30 * time.Millisecond })
	rec, sess := h.online("Delta")

	sess.Emit(gameclient.EndEvent{Reason: "server closed"})
	next := h.nextSession()
	assert.Equal(t, "Delta", next.Opts.Username)

	logs := h.logs(rec.ID)
	assert.Equal(t, 1, countLogs(logs, domain.LevelWarning, "Disconnected: server closed"))
	h.waitLog(rec.ID, "Attempting to reconnect...")

	next.Emit(gameclient.LoginEvent{})
	h.waitBot(rec.ID, func(r domain.BotRecord) bool { return r.Status == domain.StateOnline })
	h.waitLog(rec.ID, "Login completed")
	assert.Equal(t, []string{"/login pw"}, next.Chats())
}

func TestDisconnect_CancelsReconnect(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ReconnectDelay = 150 * time.Millisecond })
	rec, sess := h.online("Epsilon")

	sess.Emit(gameclient.KickedEvent{Reason: "timeout"})
	h.waitBot(rec.ID, func(r domain.BotRecord) bool { return r.Status == domain.StateOffline })

	require.NoError(t, h.m.DisconnectBot(rec.ID))
	inst, _ := h.m.instance(rec.ID)
	_, armed := inst.ReconnectDeadline()
	assert.False(t, armed)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.Count(), "主动断开后不应再重连")
	assert.Equal(t, domain.StateOffline, h.bot(rec.ID).Status)
	assert.Equal(t, 1, countLogs(h.logs(rec.ID), domain.LevelInfo, "Bot disconnected by user"))

	// 再次 connect 恢复正常
	require.NoError(t, h.m.ConnectBot(rec.ID))
	h.nextSession()
	assert.Equal(t, 2, h.dialer.Count())
}

func TestDisconnect_WhileOnlineTearsDownAction(t *testing.T) {
	h := newHarness(t, nil)
	rec, sess := h.online("Zeta")
	require.NoError(t, h.m.AttackIndividual(rec.ID, operator))

	inst, _ := h.m.instance(rec.ID)
	assert.Equal(t, 1, inst.ActiveTicks())

	require.NoError(t, h.m.DisconnectBot(rec.ID))
	assert.Equal(t, 0, inst.ActiveTicks())
	assert.Equal(t, 1, sess.QuitCount())

	after := h.bot(rec.ID)
	assert.Equal(t, domain.StateOffline, after.Status)
	assert.Equal(t, domain.ActionDisconnected, after.Action)
	assert.Empty(t, after.Target)

	err := h.m.AttackIndividual(rec.ID, operator)
	assert.True(t, errors.Is(err, ErrBotNotConnected))
}

func TestOfflineNeverHoldsAction(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ReconnectDelay = 20 * time.Millisecond })
	rec, sess := h.online("Eta")

	require.NoError(t, h.m.AttackIndividual(rec.ID, operator))
	sess.Emit(gameclient.EndEvent{Reason: "lost"})
	next := h.nextSession()
	next.Emit(gameclient.LoginEvent{})
	h.waitBot(rec.ID, func(r domain.BotRecord) bool { return r.Status == domain.StateOnline })
	_, err := h.m.ToggleAntiIdle(rec.ID)
	require.NoError(t, err)
	next.Emit(gameclient.KickedEvent{Reason: "afk"})
	h.waitBot(rec.ID, func(r domain.BotRecord) bool { return r.Status != domain.StateOnline })

	for _, ev := range h.rec.all() {
		if ev.Bot == nil || ev.Bot.Status == domain.StateOnline {
			continue
		}
		assert.Contains(t, []domain.ActionKind{domain.ActionDisconnected, domain.ActionIdle}, ev.Bot.Action,
			"离线状态 %s 不能持有动作", ev.Bot.Status)
		assert.Empty(t, ev.Bot.Target)
	}
}

func TestStop_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	rec, sess := h.online("Theta")

	require.NoError(t, h.m.FollowIndividual(rec.ID, operator))
	require.NoError(t, h.m.StopIndividual(rec.ID))
	first := h.bot(rec.ID)
	assert.Equal(t, domain.ActionIdle, first.Action)
	clears := sess.ClearGoalCount()

	require.NoError(t, h.m.StopIndividual(rec.ID))
	second := h.bot(rec.ID)
	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, first.Target, second.Target)
	assert.Equal(t, clears, sess.ClearGoalCount(), "第二次 stop 不应再有副作用")

	logs := h.logs(rec.ID)
	assert.Equal(t, 1, countLogs(logs, "", "Stopped current action"))
	assert.Equal(t, 1, countLogs(logs, domain.LevelInfo, "Already idle"))
}

func TestSwitchingActions_ExactlyOneTick(t *testing.T) {
	h := newHarness(t, nil)
	rec, sess := h.online("Iota")
	inst, _ := h.m.instance(rec.ID)

	require.NoError(t, h.m.AttackIndividual(rec.ID, operator))
	assert.Equal(t, 1, inst.ActiveTicks())
	assert.Equal(t, domain.ActionAttacking, h.bot(rec.ID).Action)

	require.NoError(t, h.m.FollowIndividual(rec.ID, operator))
	assert.Equal(t, 1, inst.ActiveTicks())
	assert.Equal(t, tickFollow, inst.currentRunner().activeKind())
	following := h.bot(rec.ID)
	assert.Equal(t, domain.ActionFollowing, following.Action)
	assert.Equal(t, operator, following.Target)
	require.NotEmpty(t, sess.Goals())
	assert.Equal(t, 3.0, sess.Goals()[0].Radius)

	enabled, err := h.m.ToggleAntiIdle(rec.ID)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, 1, inst.ActiveTicks())
	assert.Equal(t, tickAntiIdle, inst.currentRunner().activeKind())

	enabled, err = h.m.ToggleAntiIdle(rec.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, 0, inst.ActiveTicks())
	assert.Equal(t, domain.ActionIdle, h.bot(rec.ID).Action)

	logs := h.logs(rec.ID)
	assert.Equal(t, 1, countLogs(logs, domain.LevelWarning, "Started attacking rabbit0009"))
	assert.Equal(t, 1, countLogs(logs, domain.LevelSuccess, "Started following rabbit0009"))
	assert.Equal(t, 1, countLogs(logs, domain.LevelInfo, "Anti-AFK enabled"))
	assert.Equal(t, 1, countLogs(logs, domain.LevelInfo, "Anti-AFK disabled"))
}

func TestGlobalCommand_SkipsOffline(t *testing.T) {
	h := newHarness(t, nil)
	var sessions = map[string]interface{ Chats() []string }{}
	for _, name := range []string{"A1", "A2", "A3"} {
		_, sess := h.online(name)
		sessions[name] = sess
	}
	off, _, err := h.m.CreateBot(context.Background(), "A4")
	require.NoError(t, err)
	offSess := h.nextSession()
	require.NoError(t, h.m.DisconnectBot(off.ID))

	res := h.m.ExecuteGlobalCommand("/say hi")
	assert.Equal(t, FanOutResult{Attempted: 3, Skipped: 1, Failed: 0}, res)
	for name, sess := range sessions {
		assert.Contains(t, sess.Chats(), "/say hi", name)
	}
	assert.NotContains(t, offSess.Chats(), "/say hi")

	assert.Equal(t, 1, countLogs(h.logs(off.ID), domain.LevelInfo, "Skipped command"))
	fleetLogs, err := h.store.BotLogs(context.Background(), domain.FleetBotID, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, countLogs(fleetLogs, domain.LevelInfo, "Global command executed: /say hi"))
}

func TestGlobalActions_PartialFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.online("B1")
	b, sessB := h.online("B2")
	sessB.RemovePlayer(operator)

	res := h.m.FollowGlobal(operator)
	assert.Equal(t, FanOutResult{Attempted: 2, Failed: 1}, res)
	assert.Equal(t, domain.ActionFollowing, h.bot(a.ID).Action)
	assert.Equal(t, domain.ActionIdle, h.bot(b.ID).Action)
	assert.Equal(t, 1, countLogs(h.logs(b.ID), domain.LevelWarning, "Player rabbit0009 not found"))

	res = h.m.AttackGlobal(operator)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, domain.ActionAttacking, h.bot(a.ID).Action)

	res = h.m.StopGlobal()
	assert.Equal(t, FanOutResult{Attempted: 2}, res)
	assert.Equal(t, domain.ActionIdle, h.bot(a.ID).Action)
}

func TestTeleportGlobal(t *testing.T) {
	h := newHarness(t, nil)
	_, sess := h.online("C1")

	res := h.m.TeleportGlobal()
	assert.Equal(t, 1, res.Attempted)
	assert.Contains(t, sess.Chats(), "/tp rabbit0009")
}

func TestExecuteCommand_Errors(t *testing.T) {
	h := newHarness(t, nil)

	err := h.m.ExecuteCommand("missing", "hi")
	assert.True(t, errors.Is(err, ErrBotNotFound))

	rec, sess := h.online("D1")
	require.NoError(t, h.m.ExecuteCommand(rec.ID, "hello"))
	require.NoError(t, h.m.ExecuteCommand(rec.ID, "/spawn"))
	logs := h.logs(rec.ID)
	assert.Equal(t, 1, countLogs(logs, domain.LevelInfo, "Sent chat: hello"))
	assert.Equal(t, 1, countLogs(logs, domain.LevelInfo, "Executed command: /spawn"))

	sess.SetChatError(gameclient.ErrClosed)
	err = h.m.ExecuteCommand(rec.ID, "again")
	assert.True(t, errors.Is(err, ErrCommandDispatchFailed))
	assert.Equal(t, 1, countLogs(h.logs(rec.ID), domain.LevelError, "Command failed"))

	require.NoError(t, h.m.DisconnectBot(rec.ID))
	err = h.m.ExecuteCommand(rec.ID, "hi")
	assert.True(t, errors.Is(err, ErrBotNotConnected))
}

func TestConnectFailure_SchedulesReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.FailNext(1)

	rec, _, err := h.m.CreateBot(context.Background(), "Refused")
	require.NoError(t, err)
	h.waitLog(rec.ID, "Connection failed")

	after := h.bot(rec.ID)
	assert.Equal(t, domain.StateOffline, after.Status)
	assert.Equal(t, domain.ActionDisconnected, after.Action)
	logs := h.logs(rec.ID)
	assert.Equal(t, 1, countLogs(logs, domain.LevelError, ErrConnectionFailed.Error()))

	inst, _ := h.m.instance(rec.ID)
	_, armed := inst.ReconnectDeadline()
	assert.True(t, armed)
}

func TestCreateBot_IdempotentByUsername(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, created, err := h.m.CreateBot(ctx, "Kappa")
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := h.m.CreateBot(ctx, "Kappa")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	h.nextSession()
	assert.Equal(t, 1, h.dialer.Count())

	_, _, err = h.m.CreateBot(ctx, "  ")
	assert.Error(t, err)

	assert.True(t, errors.Is(h.m.ConnectBot("nope"), ErrBotNotFound))
	assert.True(t, errors.Is(h.m.DisconnectBot("nope"), ErrBotNotFound))
	_, err = h.m.GetBot("nope")
	assert.True(t, errors.Is(err, ErrBotNotFound))
}

func TestCreateBot_ReusesStoredRegistration(t *testing.T) {
	h := newHarness(t, nil)
	prev := domain.NewBotRecord("old-id", "Lambda")
	prev.IsRegistered = true
	require.NoError(t, h.store.SaveBot(context.Background(), prev))

	rec, created, err := h.m.CreateBot(context.Background(), "Lambda")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "old-id", rec.ID)
	assert.True(t, rec.IsRegistered)

	sess := h.nextSession()
	sess.Emit(gameclient.LoginEvent{})
	h.waitLog(rec.ID, "Login completed")
	assert.Equal(t, []string{"/login pw"}, sess.Chats())
}

func TestSpawnNamed_UniqueNames(t *testing.T) {
	h := newHarness(t, nil)
	recs, err := h.m.SpawnNamed(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, recs, 6)

	re := regexp.MustCompile(`^(Craft|Mine|Build|Guard|Farm|Battle|Scout|Helper|Worker|Digger)Bot_\d{4}$`)
	seen := map[string]bool{}
	for _, r := range recs {
		assert.Regexp(t, re, r.Username)
		assert.False(t, seen[r.Username], "名字重复: %s", r.Username)
		seen[r.Username] = true
	}
	require.Eventually(t, func() bool { return h.dialer.Count() == 6 }, waitFor, pollEach)

	list := h.m.ListBots()
	require.Len(t, list, 6)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Username, list[i].Username)
	}
}

func TestTelemetryAndOperatorChat(t *testing.T) {
	h := newHarness(t, nil)
	rec, sess := h.online("Mu")

	sess.Emit(gameclient.HealthEvent{Health: 14, MaxHealth: 20})
	sess.Emit(gameclient.MoveEvent{X: 10.6, Y: 64.2, Z: -3.5})
	sess.Emit(gameclient.ChatEvent{From: "someone", Text: "hello"})
	sess.Emit(gameclient.ChatEvent{From: operator, Text: "follow me"})
	sess.Emit(gameclient.ErrorEvent{Err: errors.New("socket hiccup")})

	h.waitLog(rec.ID, "Error: socket hiccup")
	after := h.bot(rec.ID)
	assert.Equal(t, 14.0, after.Health)
	require.NotNil(t, after.Position)
	assert.Equal(t, domain.Position{X: 11, Y: 64, Z: -4}, *after.Position)
	assert.Equal(t, domain.StateOnline, after.Status, "error 事件不改变连接状态")

	var chats []*ChatMessage
	for _, ev := range h.rec.all() {
		if ev.Kind == EventChatObserved {
			chats = append(chats, ev.Chat)
		}
	}
	require.Len(t, chats, 1)
	assert.Equal(t, ChatMessage{BotID: rec.ID, From: operator, Text: "follow me"}, *chats[0])
}

func TestRemoveBot(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ReconnectDelay = 20 * time.Millisecond })
	rec, sess := h.online("Nu")

	require.NoError(t, h.m.RemoveBot(context.Background(), rec.ID))
	assert.Equal(t, 1, sess.QuitCount())
	_, err := h.m.GetBot(rec.ID)
	assert.True(t, errors.Is(err, ErrBotNotFound))
	stored, err := h.store.GetBot(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.Count())
	assert.True(t, errors.Is(h.m.RemoveBot(context.Background(), rec.ID), ErrBotNotFound))
}

func TestUptimeResetsOnConnect(t *testing.T) {
	h := newHarness(t, nil)
	rec, _ := h.online("Xi")
	inst, _ := h.m.instance(rec.ID)

	inst.connStart.Store(time.Now().Add(-90 * time.Second).UnixNano())
	h.m.updateStatus(rec.ID, func(*domain.BotRecord) {})
	assert.GreaterOrEqual(t, h.bot(rec.ID).Uptime, int64(90))

	require.NoError(t, h.m.ConnectBot(rec.ID))
	assert.Less(t, h.bot(rec.ID).Uptime, int64(5))
}

func TestNewManager_ZeroDelaysUseDefaults(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.HandshakeDelay = 0
		c.ReconnectDelay = 0
	})
	def := DefaultConfig()
	assert.Equal(t, def.HandshakeDelay, h.m.cfg.HandshakeDelay)
	assert.Equal(t, def.ReconnectDelay, h.m.cfg.ReconnectDelay)
	assert.Greater(t, h.m.cfg.HandshakeDelay, time.Duration(0))
}
