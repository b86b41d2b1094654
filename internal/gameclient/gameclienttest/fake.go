// Package gameclienttest 提供内存中的 Dialer/Session 替身，用于测试机队逻辑。
package gameclienttest

import (
	"context"
	"errors"
	"sync"

	"github.com/betbot/botfleet/internal/gameclient"
)

// ErrDialRefused 模拟服务器拒绝连接
var ErrDialRefused = errors.New("connection refused")

// GoalCall SetFollowGoal 调用记录
type GoalCall struct {
	Ref    gameclient.EntityRef
	Radius float64
}

// ControlCall SetControlState 调用记录
type ControlCall struct {
	Control gameclient.Control
	On      bool
}

// FakeSession 记录所有命令，事件由测试通过 Emit 注入
type FakeSession struct {
	Opts gameclient.Options

	mu        sync.Mutex
	events    chan gameclient.Event
	closed    bool
	caps      gameclient.Capabilities
	players   map[string]gameclient.EntityRef
	distances map[int]float64
	chatErr   error

	chats      []string
	attacks    []gameclient.EntityRef
	goals      []GoalCall
	clearGoals int
	controls   []ControlCall
	quits      int
}

// NewFakeSession 默认支持寻路
func NewFakeSession(opts gameclient.Options) *FakeSession {
	return &FakeSession{
		Opts:      opts,
		events:    make(chan gameclient.Event, 256),
		caps:      gameclient.Capabilities{Pathfinding: true},
		players:   make(map[string]gameclient.EntityRef),
		distances: make(map[int]float64),
	}
}

// Emit 注入一个事件；terminal 事件之后关闭事件流
func (s *FakeSession) Emit(ev gameclient.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
	if gameclient.IsTerminal(ev) {
		s.closed = true
		close(s.events)
	}
}

// SetCapabilities 覆盖能力（需在会话被使用前调用）
func (s *FakeSession) SetCapabilities(caps gameclient.Capabilities) {
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
}

// SetChatError 之后的 Chat 返回 err（nil 恢复正常）
func (s *FakeSession) SetChatError(err error) {
	s.mu.Lock()
	s.chatErr = err
	s.mu.Unlock()
}

// AddPlayer 让玩家可被解析，并设定与自身的距离
func (s *FakeSession) AddPlayer(name string, id int, distance float64) {
	s.mu.Lock()
	s.players[name] = gameclient.EntityRef{ID: id, Name: name}
	s.distances[id] = distance
	s.mu.Unlock()
}

// RemovePlayer 玩家离开视野
func (s *FakeSession) RemovePlayer(name string) {
	s.mu.Lock()
	if ref, ok := s.players[name]; ok {
		delete(s.distances, ref.ID)
	}
	delete(s.players, name)
	s.mu.Unlock()
}

func (s *FakeSession) Events() <-chan gameclient.Event { return s.events }

func (s *FakeSession) Capabilities() gameclient.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

func (s *FakeSession) Quit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quits++
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *FakeSession) Chat(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gameclient.ErrClosed
	}
	if s.chatErr != nil {
		return s.chatErr
	}
	s.chats = append(s.chats, text)
	return nil
}

func (s *FakeSession) Attack(ref gameclient.EntityRef) {
	s.mu.Lock()
	s.attacks = append(s.attacks, ref)
	s.mu.Unlock()
}

func (s *FakeSession) SetFollowGoal(ref gameclient.EntityRef, radius float64) {
	s.mu.Lock()
	s.goals = append(s.goals, GoalCall{Ref: ref, Radius: radius})
	s.mu.Unlock()
}

func (s *FakeSession) ClearGoal() {
	s.mu.Lock()
	s.clearGoals++
	s.mu.Unlock()
}

func (s *FakeSession) SetControlState(control gameclient.Control, on bool) {
	s.mu.Lock()
	s.controls = append(s.controls, ControlCall{Control: control, On: on})
	s.mu.Unlock()
}

func (s *FakeSession) ResolvePlayer(name string) (gameclient.EntityRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.players[name]
	return ref, ok
}

func (s *FakeSession) DistanceTo(ref gameclient.EntityRef) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.distances[ref.ID]
	return d, ok
}

// Chats 已发送的聊天/命令
func (s *FakeSession) Chats() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chats...)
}

// Attacks 已发出的攻击
func (s *FakeSession) Attacks() []gameclient.EntityRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gameclient.EntityRef(nil), s.attacks...)
}

// Goals 已设置的跟随目标
func (s *FakeSession) Goals() []GoalCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GoalCall(nil), s.goals...)
}

// ClearGoalCount ClearGoal 调用次数
func (s *FakeSession) ClearGoalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearGoals
}

// Controls 控制键调用
func (s *FakeSession) Controls() []ControlCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ControlCall(nil), s.controls...)
}

// QuitCount Quit 调用次数
func (s *FakeSession) QuitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quits
}

// Closed 事件流是否已关闭
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FakeDialer 每次 Dial 返回一个新的 FakeSession
type FakeDialer struct {
	mu       sync.Mutex
	sessions []*FakeSession
	fail     int // 接下来 fail 次 Dial 返回 ErrDialRefused
	setup    func(*FakeSession)
	dialed   chan *FakeSession
}

// NewFakeDialer 创建 FakeDialer
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{dialed: make(chan *FakeSession, 1024)}
}

// OnDial 每个新会话创建后、交给调用方之前执行
func (d *FakeDialer) OnDial(fn func(*FakeSession)) {
	d.mu.Lock()
	d.setup = fn
	d.mu.Unlock()
}

// FailNext 让接下来 n 次 Dial 失败
func (d *FakeDialer) FailNext(n int) {
	d.mu.Lock()
	d.fail = n
	d.mu.Unlock()
}

func (d *FakeDialer) Dial(ctx context.Context, opts gameclient.Options) (gameclient.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.fail > 0 {
		d.fail--
		d.mu.Unlock()
		return nil, ErrDialRefused
	}
	s := NewFakeSession(opts)
	if d.setup != nil {
		d.setup(s)
	}
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()

	select {
	case d.dialed <- s:
	default:
	}
	return s, nil
}

// Dialed 每次成功 Dial 都会投递到这里
func (d *FakeDialer) Dialed() <-chan *FakeSession { return d.dialed }

// Count 成功 Dial 次数
func (d *FakeDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Sessions 所有成功建立的会话
func (d *FakeDialer) Sessions() []*FakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeSession(nil), d.sessions...)
}

// Last 最近一次建立的会话
func (d *FakeDialer) Last() *FakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

// ForUser 某用户名最近一次的会话
func (d *FakeDialer) ForUser(username string) *FakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.sessions) - 1; i >= 0; i-- {
		if d.sessions[i].Opts.Username == username {
			return d.sessions[i]
		}
	}
	return nil
}
