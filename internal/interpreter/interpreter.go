// Package interpreter 把操作员在游戏里的发言翻译成集群指令，
// 其他内容可选地交给 OpenAI 兼容接口生成简短回复。
package interpreter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/betbot/botfleet/internal/fleet"
	"github.com/betbot/botfleet/internal/metrics"
	"github.com/betbot/botfleet/pkg/cache"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "interpreter")

const (
	// ReplyBotName 回复日志使用的显示名
	ReplyBotName = "AI Response"
	// EventAIResponse /ws 推送的事件名
	EventAIResponse = "aiResponse"

	fallbackFailed = "I'm having trouble understanding that command right now."
	fallbackEmpty  = "I understand, but I need more specific instructions."
)

// Fleet 解释器需要的集群能力
type Fleet interface {
	Subscribe(h fleet.Handler) (unsubscribe func())
	Operator() string
	AttackGlobal(target string) fleet.FanOutResult
	FollowGlobal(target string) fleet.FanOutResult
	StopGlobal() fleet.FanOutResult
	TeleportGlobal() fleet.FanOutResult
	Log(botID, botName string, level domain.LogLevel, message string) domain.LogEntry
}

// Broadcaster 推送 aiResponse
type Broadcaster interface {
	Broadcast(event string, data any)
}

// Config 解释器参数
type Config struct {
	// DedupeWindow 同一句话被多个机器人同时看到，窗口内只处理一次
	DedupeWindow time.Duration
	// CompleteTimeout 单次 LLM 请求超时
	CompleteTimeout time.Duration
	QueueSize       int
}

// Response aiResponse 的推送内容
type Response struct {
	Response        string `json:"response"`
	OriginalMessage string `json:"originalMessage"`
}

// Interpreter 订阅 chatObserved，在自己的 goroutine 里顺序处理
type Interpreter struct {
	cfg       Config
	fleet     Fleet
	out       Broadcaster
	completer Completer // nil 时不回复自由文本
	seen      *cache.InMemoryCache[string, struct{}]

	in        chan fleet.ChatMessage
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	unsub     func()
	startOnce sync.Once
	stopOnce  sync.Once
}

// New out、completer 都可以为 nil
func New(cfg Config, f Fleet, out Broadcaster, completer Completer) *Interpreter {
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 5 * time.Second
	}
	if cfg.CompleteTimeout <= 0 {
		cfg.CompleteTimeout = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Interpreter{
		cfg:       cfg,
		fleet:     f,
		out:       out,
		completer: completer,
		seen:      cache.NewInMemoryCache[string, struct{}](cfg.DedupeWindow),
		in:        make(chan fleet.ChatMessage, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start 开始订阅集群事件
func (it *Interpreter) Start() {
	it.startOnce.Do(func() {
		it.wg.Add(1)
		go it.loop()
		it.unsub = it.fleet.Subscribe(func(ev fleet.Event) {
			if ev.Kind != fleet.EventChatObserved || ev.Chat == nil {
				return
			}
			select {
			case it.in <- *ev.Chat:
			default:
				log.Warnf("解释器队列已满，丢弃: %q", ev.Chat.Text)
			}
		})
	})
}

// Stop 取消订阅并等待正在处理的消息结束
func (it *Interpreter) Stop() {
	it.stopOnce.Do(func() {
		if it.unsub != nil {
			it.unsub()
		}
		it.cancel()
		it.wg.Wait()
		it.seen.Stop()
	})
}

func (it *Interpreter) loop() {
	defer it.wg.Done()
	for {
		select {
		case <-it.ctx.Done():
			return
		case msg := <-it.in:
			it.handleSafe(msg)
		}
	}
}

// handleSafe 单条发言出错不能拖垮 worker
func (it *Interpreter) handleSafe(msg fleet.ChatMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("处理发言 panic: bot=%s %q: %v", msg.BotID, msg.Text, r)
		}
	}()
	it.Handle(it.ctx, msg)
}

// Handle 处理一条操作员发言，返回回复内容；重复、非操作员或无需回复时返回 ""
func (it *Interpreter) Handle(ctx context.Context, msg fleet.ChatMessage) string {
	operator := it.fleet.Operator()
	if msg.From != operator {
		return ""
	}
	if !it.seen.SetIfAbsent(msg.From+"\x00"+msg.Text, struct{}{}, it.cfg.DedupeWindow) {
		log.Debugf("忽略重复发言: bot=%s %q", msg.BotID, msg.Text)
		return ""
	}

	reply := it.reply(ctx, msg.Text, operator)
	if reply == "" {
		return ""
	}

	metrics.InterpreterReplies.Add(1)
	if it.out != nil {
		it.out.Broadcast(EventAIResponse, Response{Response: reply, OriginalMessage: msg.Text})
	}
	it.fleet.Log(domain.InterpreterBotID, ReplyBotName, domain.LevelInfo,
		fmt.Sprintf("%s: \"%s\" → %s", msg.From, msg.Text, reply))
	return reply
}

func (it *Interpreter) reply(ctx context.Context, text, operator string) string {
	intent, target := Parse(text, operator)
	switch intent {
	case IntentAttack:
		it.fleet.AttackGlobal(target)
		return "All bots are now attacking " + target
	case IntentFollow:
		it.fleet.FollowGlobal(target)
		return "All bots are now following you"
	case IntentStop:
		it.fleet.StopGlobal()
		return "All bots have stopped their current actions"
	case IntentTeleport:
		it.fleet.TeleportGlobal()
		return "All bots are teleporting to you"
	}

	if it.completer == nil {
		return ""
	}
	cctx, cancel := context.WithTimeout(ctx, it.cfg.CompleteTimeout)
	defer cancel()
	out, err := it.completer.Complete(cctx, text)
	if err != nil {
		log.Warnf("生成回复失败: %v", err)
		return fallbackFailed
	}
	if out == "" {
		return fallbackEmpty
	}
	return out
}
