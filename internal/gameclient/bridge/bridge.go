// Package bridge 通过 WebSocket 连接协议桥（sidecar），由协议桥运行真正的游戏协议库。
// 每个机器人一条 WebSocket 连接，JSON 帧双向传输。
package bridge

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botfleet/internal/gameclient"
)

var log = logrus.WithField("component", "gameclient_bridge")

// Config 协议桥连接配置
type Config struct {
	URL              string
	ProxyURL         string
	HandshakeTimeout time.Duration
	HelloTimeout     time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	EventBufferSize  int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		URL:              "ws://127.0.0.1:3001/bot",
		HandshakeTimeout: 30 * time.Second,
		HelloTimeout:     15 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		EventBufferSize:  256,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = def.HelloTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = def.EventBufferSize
	}
}

// Dialer 实现 gameclient.Dialer
type Dialer struct {
	cfg Config
}

var _ gameclient.Dialer = (*Dialer)(nil)

// NewDialer 创建协议桥 Dialer
func NewDialer(cfg Config) *Dialer {
	cfg.applyDefaults()
	return &Dialer{cfg: cfg}
}

// Dial 建立 WebSocket，发送 connect 并等待 hello 帧（能力在此确定，之后不再变化）
func (d *Dialer) Dial(ctx context.Context, opts gameclient.Options) (gameclient.Session, error) {
	wsDialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}
	if d.cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(d.cfg.ProxyURL)
		if err != nil {
			return nil, errors.Wrap(err, "invalid proxy URL")
		}
		wsDialer.Proxy = http.ProxyURL(proxyURL)
	}

	conn, _, err := wsDialer.DialContext(ctx, d.cfg.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial bridge %s", d.cfg.URL)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cfg:     d.cfg,
		conn:    conn,
		events:  make(chan gameclient.Event, d.cfg.EventBufferSize),
		players: make(map[string]player),
		ctx:     sctx,
		cancel:  cancel,
	}

	if err := s.write(outFrame{
		Op:       opConnect,
		Host:     opts.Host,
		Port:     opts.Port,
		Username: opts.Username,
		Version:  opts.Version,
	}); err != nil {
		s.shutdown()
		return nil, errors.Wrap(err, "send connect")
	}

	caps, err := s.awaitHello()
	if err != nil {
		s.shutdown()
		return nil, errors.Wrap(err, "await hello")
	}
	s.caps = caps

	// 安静的连接也靠 pong 续期读超时
	readTimeout := d.cfg.ReadTimeout
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()

	log.Debugf("协议桥会话已建立: user=%s addr=%s pathfinding=%v", opts.Username, opts.Addr(), caps.Pathfinding)
	return s, nil
}

type player struct {
	ref     gameclient.EntityRef
	x, y, z float64
}

type session struct {
	cfg  Config
	conn *websocket.Conn
	caps gameclient.Capabilities

	writeMu sync.Mutex

	// events 只在 emitMu 下发送/关闭
	emitMu sync.Mutex
	events chan gameclient.Event
	closed bool

	worldMu   sync.RWMutex
	players   map[string]player
	self      [3]float64
	selfKnown bool

	ctx      context.Context
	cancel   context.CancelFunc
	quitOnce sync.Once
	wg       sync.WaitGroup
}

func (s *session) Events() <-chan gameclient.Event { return s.events }
func (s *session) Capabilities() gameclient.Capabilities { return s.caps }

func (s *session) awaitHello() (gameclient.Capabilities, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.HelloTimeout))
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return gameclient.Capabilities{}, err
		}
		f, err := decodeFrame(data)
		if err != nil {
			return gameclient.Capabilities{}, errors.Wrap(err, "decode hello")
		}
		switch f.Type {
		case frameHello:
			if f.Capabilities == nil {
				return gameclient.Capabilities{}, nil
			}
			return *f.Capabilities, nil
		case frameError:
			return gameclient.Capabilities{}, fmt.Errorf("bridge rejected connect: %s", f.Message)
		}
	}
}

func (s *session) write(f outFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteJSON(f)
}

// send fire-and-forget：失败异步转成 ErrorEvent
func (s *session) send(f outFrame) {
	if s.isClosed() {
		return
	}
	if err := s.write(f); err != nil {
		go s.emit(gameclient.ErrorEvent{Err: errors.Wrapf(err, "send %s", f.Op)})
	}
}

func (s *session) emit(ev gameclient.Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) closeEvents() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *session) isClosed() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

func (s *session) readLoop() {
	defer s.wg.Done()
	defer s.closeEvents()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("readLoop panic recovered: %v", r)
		}
	}()

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.emit(gameclient.EndEvent{Reason: fmt.Sprintf("bridge connection lost: %v", err)})
				s.shutdown()
			}
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			log.Warnf("丢弃无法解析的协议桥帧: %v", err)
			continue
		}
		if terminal := s.handleFrame(f); terminal {
			s.shutdown()
			return
		}
	}
}

func (s *session) handleFrame(f inFrame) bool {
	switch f.Type {
	case frameLogin:
		s.emit(gameclient.LoginEvent{})
	case frameEnd:
		s.emit(gameclient.EndEvent{Reason: f.Reason})
		return true
	case frameKicked:
		s.emit(gameclient.KickedEvent{Reason: f.Reason})
		return true
	case frameError:
		s.emit(gameclient.ErrorEvent{Err: errors.New(f.Message)})
	case frameHealth:
		s.emit(gameclient.HealthEvent{Health: f.Health, MaxHealth: f.MaxHealth})
	case frameMove:
		s.worldMu.Lock()
		s.self = [3]float64{f.X, f.Y, f.Z}
		s.selfKnown = true
		s.worldMu.Unlock()
		s.emit(gameclient.MoveEvent{X: f.X, Y: f.Y, Z: f.Z})
	case frameChat:
		s.emit(gameclient.ChatEvent{From: f.From, Text: f.Text})
	case framePlayer:
		s.worldMu.Lock()
		if f.Gone {
			delete(s.players, f.Name)
		} else {
			s.players[f.Name] = player{ref: gameclient.EntityRef{ID: f.ID, Name: f.Name}, x: f.X, y: f.Y, z: f.Z}
		}
		s.worldMu.Unlock()
	case frameHello:
	default:
		log.Debugf("未知协议桥帧: %s", f.Type)
	}
	return false
}

func (s *session) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil && !s.isClosed() {
				log.Debugf("ping 失败: %v", err)
			}
		}
	}
}

// shutdown 取消上下文并关闭底层连接（可重复调用，不等待读写协程）
func (s *session) shutdown() {
	s.quitOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
	})
}

func (s *session) Quit() {
	if !s.isClosed() {
		// 尽力通知协议桥，失败无所谓
		_ = s.write(outFrame{Op: opQuit})
	}
	s.shutdown()
	s.wg.Wait()
}

func (s *session) Chat(text string) error {
	if s.isClosed() {
		return gameclient.ErrClosed
	}
	s.send(outFrame{Op: opChat, Text: text})
	return nil
}

func (s *session) Attack(ref gameclient.EntityRef) {
	s.send(outFrame{Op: opAttack, Entity: intPtr(ref.ID)})
}

func (s *session) SetFollowGoal(ref gameclient.EntityRef, radius float64) {
	s.send(outFrame{Op: opFollow, Entity: intPtr(ref.ID), Radius: radius})
}

func (s *session) ClearGoal() {
	s.send(outFrame{Op: opClear})
}

func (s *session) SetControlState(control gameclient.Control, on bool) {
	s.send(outFrame{Op: opControl, Control: string(control), State: boolPtr(on)})
}

func (s *session) ResolvePlayer(name string) (gameclient.EntityRef, bool) {
	s.worldMu.RLock()
	defer s.worldMu.RUnlock()
	p, ok := s.players[name]
	if !ok {
		return gameclient.EntityRef{}, false
	}
	return p.ref, true
}

func (s *session) DistanceTo(ref gameclient.EntityRef) (float64, bool) {
	s.worldMu.RLock()
	defer s.worldMu.RUnlock()
	if !s.selfKnown {
		return 0, false
	}
	for _, p := range s.players {
		if p.ref.ID == ref.ID {
			dx := p.x - s.self[0]
			dy := p.y - s.self[1]
			dz := p.z - s.self[2]
			return math.Sqrt(dx*dx + dy*dy + dz*dz), true
		}
	}
	return 0, false
}
