package fleet

import (
	"sync"
	"sync/atomic"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/betbot/botfleet/internal/metrics"
	"github.com/betbot/botfleet/pkg/sigchan"
)

// EventKind 集群事件类型（与 /ws 广播的事件名一致）
type EventKind string

const (
	EventBotConnected    EventKind = "botConnected"
	EventBotDisconnected EventKind = "botDisconnected"
	EventBotUpdated      EventKind = "botUpdated"
	EventNewLog          EventKind = "newLog"
	EventChatObserved    EventKind = "chatObserved"
)

// ChatMessage 操作员在游戏内的发言（由某个机器人观察到）
type ChatMessage struct {
	BotID string `json:"botId"`
	From  string `json:"username"`
	Text  string `json:"message"`
}

// Event 按 Kind 只填充对应字段
type Event struct {
	Kind EventKind
	Bot  *domain.BotRecord
	Log  *domain.LogEntry
	Chat *ChatMessage

	barrier chan struct{}
}

// Handler 事件处理函数，在 Bus 的分发 goroutine 上执行
type Handler func(Event)

const defaultBusQueue = 10000

type subscription struct {
	fn     Handler
	active atomic.Bool
}

// Bus 集群事件总线。
// 所有事件按发布顺序在同一个分发 goroutine 上投递，处理函数可以回调 Manager，
// 也可以在处理函数内取消自己的订阅。
type Bus struct {
	mu       sync.Mutex
	queue    []Event
	subs     []*subscription // copy-on-write
	closed   bool
	maxQueue int

	wake      *sigchan.Chan
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewBus 创建并启动事件总线
func NewBus() *Bus {
	b := &Bus{
		maxQueue: defaultBusQueue,
		wake:     sigchan.New(1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go b.run()
	return b
}

// Subscribe 注册处理函数，返回的 unsubscribe 可重复调用
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	sub := &subscription{fn: h}
	sub.active.Store(true)

	b.mu.Lock()
	next := make([]*subscription, 0, len(b.subs)+1)
	next = append(next, b.subs...)
	b.subs = append(next, sub)
	b.mu.Unlock()

	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		b.mu.Lock()
		next := make([]*subscription, 0, len(b.subs))
		for _, s := range b.subs {
			if s != sub {
				next = append(next, s)
			}
		}
		b.subs = next
		b.mu.Unlock()
	}
}

// droppable 队列满时可以丢弃的事件；连接生命周期事件和 Sync 屏障必须送达
func (ev Event) droppable() bool {
	if ev.barrier != nil {
		return false
	}
	return ev.Kind != EventBotConnected && ev.Kind != EventBotDisconnected
}

// Publish 入队，不阻塞调用方。
// 队列满时丢弃最旧的可丢弃事件；全是生命周期事件时丢弃新来的可丢弃事件，生命周期事件照常入队。
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	var (
		dropped      EventKind
		dropIncoming bool
		didDrop      bool
	)
	if len(b.queue) >= b.maxQueue {
		idx := -1
		for i := range b.queue {
			if b.queue[i].droppable() {
				idx = i
				break
			}
		}
		switch {
		case idx >= 0:
			dropped, didDrop = b.queue[idx].Kind, true
			b.queue = append(b.queue[:idx], b.queue[idx+1:]...)
		case ev.droppable():
			dropped, didDrop, dropIncoming = ev.Kind, true, true
		}
	}
	if !dropIncoming {
		b.queue = append(b.queue, ev)
	}
	b.mu.Unlock()

	if didDrop {
		metrics.EventsDropped.Add(1)
		if n := metrics.EventsDropped.Value(); n == 1 || n%1000 == 0 {
			log.Warnf("事件队列已满(%d)，丢弃 %s 事件，累计丢弃 %d", b.maxQueue, dropped, n)
		}
	}
	b.wake.Emit()
}

// Sync 等待此前发布的事件全部投递完毕
func (b *Bus) Sync() {
	barrier := make(chan struct{})
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, Event{barrier: barrier})
	b.mu.Unlock()
	b.wake.Emit()

	select {
	case <-barrier:
	case <-b.stopped:
	}
}

// Close 投递完剩余事件后停止分发 goroutine
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.done)
	})
	<-b.stopped
}

func (b *Bus) run() {
	defer close(b.stopped)
	for {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		closed := b.closed
		b.mu.Unlock()

		for _, ev := range batch {
			if ev.barrier != nil {
				close(ev.barrier)
				continue
			}
			b.dispatch(ev)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-b.wake.C():
		case <-b.done:
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		if s.active.Load() {
			callHandler(s.fn, ev)
		}
	}
}

func callHandler(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("事件处理函数 panic: kind=%s err=%v", ev.Kind, r)
		}
	}()
	fn(ev)
}
