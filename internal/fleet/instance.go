package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/betbot/botfleet/internal/gameclient"
	"github.com/betbot/botfleet/internal/metrics"
)

// Instance 一个机器人：连接状态机 + 重连定时器 + 动作状态机。
//
// 每次 connect 都是一个新的“代”（gen）：新的 session、新的 Runner、新的握手 ctx。
// 旧代的事件一律丢弃。同一代的事件在专属 goroutine 上按顺序处理，
// end/kicked 之后该 goroutine 退出。
// i.mu 串行化连接、断开、事件处理和所有动作；持有 i.mu 时可以调用 Manager.updateStatus，
// 反之 Manager 在持有自己的锁时从不获取 i.mu。
type Instance struct {
	id       string
	username string
	m        *Manager

	mu         sync.Mutex
	state      domain.ConnectionState
	registered bool
	gen        uint64
	session    gameclient.Session
	runner     *Runner
	cancelGen  context.CancelFunc // 取消本代的 dial 与握手
	manualStop bool               // 用户主动断开后不再自动重连
	removed    bool

	connStart atomic.Int64 // 本次连接尝试开始时间（UnixNano）
	reconnect reconnectScheduler
}

func newInstance(m *Manager, rec domain.BotRecord) *Instance {
	return &Instance{
		id:         rec.ID,
		username:   rec.Username,
		m:          m,
		state:      domain.StateOffline,
		registered: rec.IsRegistered,
	}
}

// ID 机器人 id
func (i *Instance) ID() string { return i.id }

// Username 显示名
func (i *Instance) Username() string { return i.username }

// uptime 本次连接尝试以来的秒数
func (i *Instance) uptime(now time.Time) int64 {
	start := i.connStart.Load()
	if start == 0 {
		return 0
	}
	secs := now.Sub(time.Unix(0, start)) / time.Second
	if secs < 0 {
		return 0
	}
	return int64(secs)
}

// State 当前连接状态
func (i *Instance) State() domain.ConnectionState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// ReconnectDeadline 待触发的重连时间
func (i *Instance) ReconnectDeadline() (time.Time, bool) {
	return i.reconnect.Deadline()
}

// ActiveTicks 当前动作周期任务数
func (i *Instance) ActiveTicks() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.runner == nil {
		return 0
	}
	return i.runner.ActiveTicks()
}

func (i *Instance) logf(level domain.LogLevel, format string, args ...any) {
	i.m.sink.Log(i.id, i.username, level, fmt.Sprintf(format, args...))
}

// Connect 建立连接；已有连接时先退出旧连接（替换而非叠加）
func (i *Instance) Connect() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.removed {
		return
	}
	i.connectLocked()
}

func (i *Instance) connectLocked() {
	i.manualStop = false
	i.reconnect.Cancel()
	i.teardownLocked()

	i.gen++
	gen := i.gen
	ctx, cancel := context.WithCancel(i.m.ctx)
	i.cancelGen = cancel
	i.connStart.Store(time.Now().UnixNano())
	i.state = domain.StateConnecting

	i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.Status = domain.StateConnecting
		r.Action = domain.ActionIdle
	})
	opts := i.m.dialOptions(i.username)
	i.logf(domain.LevelInfo, "Connecting to %s", opts.Addr())
	metrics.ConnectAttempts.Add(1)

	i.m.wg.Add(1)
	go func() {
		defer i.m.wg.Done()
		i.dial(ctx, gen, opts)
	}()
}

// dial 异步建立连接，不阻塞 connect 的调用方
func (i *Instance) dial(ctx context.Context, gen uint64, opts gameclient.Options) {
	if i.m.limiter != nil {
		if err := i.m.limiter.Wait(ctx); err != nil {
			return
		}
	}

	sess, err := i.m.dialer.Dial(ctx, opts)

	i.mu.Lock()
	defer i.mu.Unlock()
	if gen != i.gen || ctx.Err() != nil {
		// 本代已被替换或取消
		if sess != nil {
			sess.Quit()
		}
		return
	}
	if err != nil {
		i.onConnectFailedLocked(fmt.Errorf("%w: %v", ErrConnectionFailed, err))
		return
	}

	i.session = sess
	i.m.wg.Add(1)
	go func() {
		defer i.m.wg.Done()
		i.readEvents(ctx, gen, sess)
	}()
}

func (i *Instance) onConnectFailedLocked(err error) {
	metrics.ConnectFailures.Add(1)
	i.state = domain.StateOffline
	i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.Status = domain.StateOffline
		r.Action = domain.ActionDisconnected
	})
	i.logf(domain.LevelError, "Connection failed: %v", err)
	i.scheduleReconnectLocked()
}

// readEvents 按顺序处理一代连接的事件
func (i *Instance) readEvents(ctx context.Context, gen uint64, sess gameclient.Session) {
	for ev := range sess.Events() {
		i.mu.Lock()
		if gen != i.gen {
			i.mu.Unlock()
			return
		}
		terminal := i.handleEventLocked(ctx, gen, sess, ev)
		i.mu.Unlock()
		if terminal {
			return
		}
	}

	// 事件流关闭但没有 end/kicked，按连接结束处理
	i.mu.Lock()
	defer i.mu.Unlock()
	if gen == i.gen && i.session == sess {
		i.onDisconnectedLocked(domain.LevelWarning, "Disconnected: connection closed")
	}
}

func (i *Instance) handleEventLocked(ctx context.Context, gen uint64, sess gameclient.Session, ev gameclient.Event) bool {
	switch e := ev.(type) {
	case gameclient.LoginEvent:
		i.onLoginLocked(ctx, gen, sess)
	case gameclient.EndEvent:
		i.onDisconnectedLocked(domain.LevelWarning, "Disconnected: "+e.Reason)
		return true
	case gameclient.KickedEvent:
		i.onDisconnectedLocked(domain.LevelError, "Kicked from server: "+e.Reason)
		return true
	case gameclient.ErrorEvent:
		msg := "unknown error"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		i.logf(domain.LevelError, "Error: %s", msg)
	case gameclient.HealthEvent:
		if i.state != domain.StateOnline {
			return false
		}
		i.m.updateStatus(i.id, func(r *domain.BotRecord) {
			r.Health = e.Health
			r.MaxHealth = e.MaxHealth
		})
	case gameclient.MoveEvent:
		if i.state != domain.StateOnline {
			return false
		}
		pos := domain.RoundPosition(e.X, e.Y, e.Z)
		i.m.updateStatus(i.id, func(r *domain.BotRecord) {
			r.Position = &pos
		})
	case gameclient.ChatEvent:
		if e.From == i.m.cfg.Operator {
			i.m.bus.Publish(Event{
				Kind: EventChatObserved,
				Chat: &ChatMessage{BotID: i.id, From: e.From, Text: e.Text},
			})
		}
	default:
		log.Debugf("忽略未知事件: bot=%s event=%s", i.username, gameclient.EventName(ev))
	}
	return false
}

func (i *Instance) onLoginLocked(ctx context.Context, gen uint64, sess gameclient.Session) {
	metrics.Logins.Add(1)
	i.reconnect.Cancel()
	if i.runner != nil {
		i.runner.Teardown()
	}
	i.runner = newRunner(sess, i.m.cfg.Runner)
	i.state = domain.StateOnline

	rec, _ := i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.Status = domain.StateOnline
		r.Action = domain.ActionIdle
	})
	i.logf(domain.LevelSuccess, "Successfully connected to server")

	registered := i.registered
	i.m.wg.Add(1)
	go func() {
		defer i.m.wg.Done()
		i.handshake(ctx, gen, sess, registered)
	}()

	i.m.bus.Publish(Event{Kind: EventBotConnected, Bot: &rec})
}

// handshake 服务器要求的 /register、/login，按固定间隔发送
func (i *Instance) handshake(ctx context.Context, gen uint64, sess gameclient.Session, registered bool) {
	password := i.m.cfg.Password
	wait := func() bool {
		t := time.NewTimer(i.m.cfg.HandshakeDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}
	send := func(cmd string) bool {
		if err := sess.Chat(cmd); err != nil {
			log.Warnf("握手命令发送失败: bot=%s err=%v", i.username, err)
			return false
		}
		return true
	}

	if !registered {
		if !wait() || !send("/register "+password) {
			return
		}
	}
	if !wait() || !send("/login "+password) {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if gen != i.gen || i.state != domain.StateOnline {
		return
	}
	if registered {
		i.logf(domain.LevelSuccess, "Login completed")
		return
	}
	i.registered = true
	i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.IsRegistered = true
	})
	i.logf(domain.LevelSuccess, "Registration and login completed")
}

func (i *Instance) onDisconnectedLocked(level domain.LogLevel, message string) {
	metrics.Disconnects.Add(1)
	i.teardownLocked()
	i.state = domain.StateOffline

	rec, _ := i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.Status = domain.StateOffline
		r.Action = domain.ActionDisconnected
	})
	i.logf(level, "%s", message)
	i.scheduleReconnectLocked()
	i.m.bus.Publish(Event{Kind: EventBotDisconnected, Bot: &rec})
}

func (i *Instance) scheduleReconnectLocked() {
	if i.manualStop || i.removed {
		return
	}
	metrics.ReconnectScheduled.Add(1)
	i.reconnect.Schedule(i.m.cfg.ReconnectDelay, i.onReconnectTimer)
}

func (i *Instance) onReconnectTimer() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.manualStop || i.removed || i.state == domain.StateOnline || i.state == domain.StateConnecting {
		return
	}
	i.state = domain.StateReconnecting
	i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.Status = domain.StateReconnecting
		r.Action = domain.ActionDisconnected
	})
	i.logf(domain.LevelInfo, "Attempting to reconnect...")
	i.connectLocked()
}

// teardownLocked 结束当前代：停掉动作、握手与 dial，退出连接
func (i *Instance) teardownLocked() {
	if i.runner != nil {
		i.runner.Teardown()
		i.runner = nil
	}
	if i.cancelGen != nil {
		i.cancelGen()
		i.cancelGen = nil
	}
	if i.session != nil {
		i.session.Quit()
		i.session = nil
	}
}

// Disconnect 用户主动断开，是唯一会停止自动重连的路径
func (i *Instance) Disconnect() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.disconnectLocked()
}

func (i *Instance) disconnectLocked() {
	i.manualStop = true
	i.reconnect.Cancel()
	i.gen++ // 丢弃本代后续事件
	i.teardownLocked()
	i.state = domain.StateOffline

	rec, _ := i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.Status = domain.StateOffline
		r.Action = domain.ActionDisconnected
	})
	i.logf(domain.LevelInfo, "Bot disconnected by user")
	i.m.bus.Publish(Event{Kind: EventBotDisconnected, Bot: &rec})
}

// remove 断开并禁止之后的任何连接
func (i *Instance) remove() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.removed = true
	i.manualStop = true
	i.reconnect.Cancel()
	i.gen++
	i.teardownLocked()
	i.state = domain.StateOffline
	i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.Status = domain.StateOffline
		r.Action = domain.ActionDisconnected
	})
}

// onlineRunnerLocked 动作/命令的前置检查
func (i *Instance) onlineRunnerLocked() (*Runner, error) {
	if i.state != domain.StateOnline || i.runner == nil || i.session == nil {
		i.logf(domain.LevelWarning, "Bot is not connected")
		return nil, fmt.Errorf("%s: %w", i.username, ErrBotNotConnected)
	}
	return i.runner, nil
}

// ExecuteCommand 发送原始命令（以 / 开头）或聊天
func (i *Instance) ExecuteCommand(text string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, err := i.onlineRunnerLocked(); err != nil {
		return err
	}
	if err := i.session.Chat(text); err != nil {
		metrics.CommandsFailed.Add(1)
		i.logf(domain.LevelError, "Command failed: %v", err)
		return fmt.Errorf("%s: %w: %v", i.username, ErrCommandDispatchFailed, err)
	}
	metrics.CommandsDispatched.Add(1)
	if domain.IsRawCommand(text) {
		i.logf(domain.LevelInfo, "Executed command: %s", text)
	} else {
		i.logf(domain.LevelInfo, "Sent chat: %s", text)
	}
	return nil
}

// Follow 跟随玩家
func (i *Instance) Follow(target string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	runner, err := i.onlineRunnerLocked()
	if err != nil {
		return err
	}
	if err := runner.Follow(target); err != nil {
		return i.actionFailedLocked(target, err)
	}
	i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.Action = domain.ActionFollowing
		r.Target = target
	})
	i.logf(domain.LevelSuccess, "Started following %s", target)
	return nil
}

// Attack 攻击玩家
func (i *Instance) Attack(target string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	runner, err := i.onlineRunnerLocked()
	if err != nil {
		return err
	}
	if err := runner.Attack(target); err != nil {
		return i.actionFailedLocked(target, err)
	}
	i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.Action = domain.ActionAttacking
		r.Target = target
	})
	i.logf(domain.LevelWarning, "Started attacking %s", target)
	return nil
}

func (i *Instance) actionFailedLocked(target string, err error) error {
	switch {
	case errors.Is(err, ErrTargetNotFound):
		i.logf(domain.LevelWarning, "Player %s not found", target)
	case errors.Is(err, ErrFollowUnsupported):
		i.logf(domain.LevelError, "Follow failed: pathfinding is not available")
	default:
		i.logf(domain.LevelError, "Action failed: %v", err)
	}
	return fmt.Errorf("%s: %w", i.username, err)
}

// Stop 停止当前动作；已经空闲时只记录一条提示
func (i *Instance) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	runner, err := i.onlineRunnerLocked()
	if err != nil {
		return err
	}
	changed, err := runner.Stop()
	if err != nil {
		return fmt.Errorf("%s: %w", i.username, err)
	}
	if !changed {
		i.logf(domain.LevelInfo, "Already idle")
		return nil
	}
	i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.Action = domain.ActionIdle
	})
	i.logf(domain.LevelInfo, "Stopped current action")
	return nil
}

// ToggleAntiIdle 切换防挂机，返回切换后是否启用
func (i *Instance) ToggleAntiIdle() (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	runner, err := i.onlineRunnerLocked()
	if err != nil {
		return false, err
	}
	enabled, err := runner.ToggleAntiIdle()
	if err != nil {
		return false, fmt.Errorf("%s: %w", i.username, err)
	}
	action := domain.ActionIdle
	if enabled {
		action = domain.ActionAntiIdle
	}
	i.m.updateStatus(i.id, func(r *domain.BotRecord) {
		r.Action = action
	})
	if enabled {
		i.logf(domain.LevelInfo, "Anti-AFK enabled")
	} else {
		i.logf(domain.LevelInfo, "Anti-AFK disabled")
	}
	return enabled, nil
}
