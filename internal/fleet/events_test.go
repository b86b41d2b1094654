package fleet

import (
	"sync"
	"testing"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestBus_OrderedDeliveryAndSelfUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var (
		mu       sync.Mutex
		got      []string
		onceSeen int
	)
	bus.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Bot.Username)
		mu.Unlock()
	})
	var unsubscribe func()
	unsubscribe = bus.Subscribe(func(ev Event) {
		mu.Lock()
		onceSeen++
		mu.Unlock()
		unsubscribe() // 在处理函数内取消订阅
	})
	bus.Subscribe(func(ev Event) {
		if ev.Bot.Username == "b2" {
			panic("handler blew up")
		}
	})

	for _, name := range []string{"b1", "b2", "b3", "b4"} {
		rec := domain.NewBotRecord(name, name)
		bus.Publish(Event{Kind: EventBotUpdated, Bot: &rec})
	}
	bus.Sync()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b1", "b2", "b3", "b4"}, got)
	assert.Equal(t, 1, onceSeen)
}

func TestBus_CloseDrainsAndIgnoresLatePublish(t *testing.T) {
	bus := NewBus()
	var n int
	var mu sync.Mutex
	bus.Subscribe(func(Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	for i := 0; i < 100; i++ {
		bus.Publish(Event{Kind: EventNewLog, Log: &domain.LogEntry{}})
	}
	bus.Close()
	bus.Publish(Event{Kind: EventNewLog, Log: &domain.LogEntry{}})
	bus.Sync()
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 100, n)
}

func TestBus_FullQueueKeepsLifecycleEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	bus.mu.Lock()
	bus.maxQueue = 3
	bus.mu.Unlock()

	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		kinds []EventKind
	)
	bus.Subscribe(func(ev Event) {
		if ev.Kind == EventChatObserved {
			close(entered)
			<-release
			return
		}
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	// 先卡住分发 goroutine，后面的事件都留在队列里
	bus.Publish(Event{Kind: EventChatObserved, Chat: &ChatMessage{}})
	<-entered

	rec := domain.NewBotRecord("b1", "b1")
	bus.Publish(Event{Kind: EventBotConnected, Bot: &rec})
	bus.Publish(Event{Kind: EventBotUpdated, Bot: &rec})
	bus.Publish(Event{Kind: EventBotUpdated, Bot: &rec})
	bus.Publish(Event{Kind: EventBotDisconnected, Bot: &rec})
	bus.Publish(Event{Kind: EventNewLog, Log: &domain.LogEntry{}})
	// 新的 botConnected 挤掉那条日志；之后队列全是生命周期事件，新来的 botUpdated 直接丢弃
	bus.Publish(Event{Kind: EventBotConnected, Bot: &rec})
	bus.Publish(Event{Kind: EventBotUpdated, Bot: &rec})

	close(release)
	bus.Sync()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{EventBotConnected, EventBotDisconnected, EventBotConnected}, kinds)
}
