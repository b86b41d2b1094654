// Package fleet 管理机器人集群：每个机器人的连接状态机、自动重连、动作状态机，
// 以及单体/全体命令的分发。
package fleet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/betbot/botfleet/internal/gameclient"
	"github.com/betbot/botfleet/internal/metrics"
	"github.com/betbot/botfleet/internal/store"
	"github.com/betbot/botfleet/pkg/ratelimit"
	"github.com/betbot/botfleet/pkg/syncgroup"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "fleet")

// FleetBotName 全体命令日志使用的显示名
const FleetBotName = "Fleet"

// Config 集群参数
type Config struct {
	Host     string
	Port     int
	Version  string
	Password string
	Operator string // 操作员玩家名，其聊天会发布为 chatObserved

	ReconnectDelay time.Duration
	HandshakeDelay time.Duration
	Runner         RunnerConfig

	// ConnectRate > 0 时用令牌桶限制发起连接的速率
	ConnectRate  float64
	ConnectBurst int

	// SpawnCount SpawnNamed 未指定数量时使用
	SpawnCount int
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           25569,
		Version:        "1.20.1",
		Operator:       "rabbit0009",
		ReconnectDelay: 30 * time.Second,
		HandshakeDelay: time.Second,
		Runner:         DefaultRunnerConfig(),
		SpawnCount:     DefaultSpawnCount,
	}
}

// FanOutResult 全体命令的汇总；单个成员的失败只体现在日志里
type FanOutResult struct {
	Attempted int `json:"attempted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Manager 集群管理器，由进程入口显式创建并传递
type Manager struct {
	cfg     Config
	dialer  gameclient.Dialer
	store   store.Store
	bus     *Bus
	sink    *Sink
	limiter ratelimit.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	// mu 保护以下注册表；updateStatus 是 records 的唯一写入点
	mu        sync.RWMutex
	instances map[string]*Instance
	records   map[string]domain.BotRecord
	byName    map[string]string // username -> id

	createMu sync.Mutex // 串行化 create-if-absent
	intn     func(int) int
}

// NewManager 创建集群管理器
func NewManager(cfg Config, dialer gameclient.Dialer, st store.Store) *Manager {
	def := DefaultConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.HandshakeDelay <= 0 {
		cfg.HandshakeDelay = def.HandshakeDelay
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Operator == "" {
		cfg.Operator = def.Operator
	}
	cfg.Runner = cfg.Runner.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus()
	m := &Manager{
		cfg:       cfg,
		dialer:    dialer,
		store:     st,
		bus:       bus,
		sink:      NewSink(st, bus),
		ctx:       ctx,
		cancel:    cancel,
		instances: make(map[string]*Instance),
		records:   make(map[string]domain.BotRecord),
		byName:    make(map[string]string),
	}
	if cfg.ConnectRate > 0 {
		m.limiter = ratelimit.NewTokenBucket(cfg.ConnectBurst, cfg.ConnectRate)
	}
	return m
}

// Events 集群事件总线
func (m *Manager) Events() *Bus { return m.bus }

// Subscribe 订阅集群事件
func (m *Manager) Subscribe(h Handler) (unsubscribe func()) { return m.bus.Subscribe(h) }

// Operator 操作员玩家名
func (m *Manager) Operator() string { return m.cfg.Operator }

// DefaultSpawnCount 未指定数量时 spawn 的个数
const DefaultSpawnCount = 10

func (m *Manager) dialOptions(username string) gameclient.Options {
	return gameclient.Options{
		Host:     m.cfg.Host,
		Port:     m.cfg.Port,
		Username: username,
		Version:  m.cfg.Version,
	}
}

// updateStatus BotRecord 的唯一写入点：应用修改、重算 uptime、更新 lastSeen、
// 维持“离线不持有动作”的不变式，写穿到存储，然后发布 botUpdated。
func (m *Manager) updateStatus(id string, mutate func(*domain.BotRecord)) (domain.BotRecord, bool) {
	now := time.Now()

	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return domain.BotRecord{}, false
	}
	mutate(&rec)
	if inst := m.instances[id]; inst != nil {
		rec.Uptime = inst.uptime(now)
	}
	rec.LastSeen = now
	rec.Normalize()
	m.records[id] = rec
	snapshot := rec.Clone()
	m.mu.Unlock()

	m.persist(snapshot)
	published := snapshot.Clone()
	m.bus.Publish(Event{Kind: EventBotUpdated, Bot: &published})
	return snapshot, true
}

func (m *Manager) persist(rec domain.BotRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.store.SaveBot(ctx, rec); err != nil {
		log.Warnf("保存机器人记录失败: bot=%s err=%v", rec.Username, err)
	}
}

func (m *Manager) instance(id string) (*Instance, error) {
	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrBotNotFound)
	}
	return inst, nil
}

// CreateBot 用户名已存在时直接返回已有记录；否则创建 OFFLINE 记录并立即开始连接
func (m *Manager) CreateBot(ctx context.Context, username string) (domain.BotRecord, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.BotRecord{}, false, fmt.Errorf("username is required")
	}
	if m.closed.Load() {
		return domain.BotRecord{}, false, fmt.Errorf("fleet manager closed")
	}

	m.createMu.Lock()
	m.mu.RLock()
	if id, ok := m.byName[username]; ok {
		rec := m.records[id].Clone()
		m.mu.RUnlock()
		m.createMu.Unlock()
		return rec, false, nil
	}
	m.mu.RUnlock()

	rec := domain.NewBotRecord(uuid.NewString(), username)
	// 以前运行留下的记录：沿用 id 和已注册标记，但不恢复连接
	if prev, err := m.store.GetBotByUsername(ctx, username); err != nil {
		log.Warnf("查询历史记录失败: bot=%s err=%v", username, err)
	} else if prev != nil {
		rec.ID = prev.ID
		rec.IsRegistered = prev.IsRegistered
	}

	inst := newInstance(m, rec)
	m.mu.Lock()
	m.instances[rec.ID] = inst
	m.records[rec.ID] = rec
	m.byName[username] = rec.ID
	m.mu.Unlock()
	m.createMu.Unlock()

	m.persist(rec)
	log.Infof("创建机器人: %s (%s)", username, rec.ID)
	inst.Connect()

	out, _ := m.GetBot(rec.ID)
	return out, true, nil
}

// SpawnNamed 生成 count 个不重复的名字，逐个创建并连接
func (m *Manager) SpawnNamed(ctx context.Context, count int) ([]domain.BotRecord, error) {
	if count <= 0 {
		count = m.cfg.SpawnCount
	}
	if count <= 0 {
		count = DefaultSpawnCount
	}

	m.mu.RLock()
	taken := make(map[string]struct{}, len(m.byName))
	for name := range m.byName {
		taken[name] = struct{}{}
	}
	m.mu.RUnlock()

	names := generateNames(count, func(name string) bool {
		_, ok := taken[name]
		return ok
	}, m.intn)

	out := make([]domain.BotRecord, 0, len(names))
	for _, name := range names {
		rec, _, err := m.CreateBot(ctx, name)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	log.Infof("批量创建 %d 个机器人", len(out))
	return out, nil
}

// ConnectBot 连接（或重新连接）指定机器人
func (m *Manager) ConnectBot(id string) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	inst.Connect()
	return nil
}

// DisconnectBot 主动断开，停止自动重连
func (m *Manager) DisconnectBot(id string) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	inst.Disconnect()
	return nil
}

// RemoveBot 断开并从集群与存储中删除
func (m *Manager) RemoveBot(ctx context.Context, id string) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	inst.remove()

	m.mu.Lock()
	delete(m.instances, id)
	delete(m.records, id)
	delete(m.byName, inst.username)
	m.mu.Unlock()

	if err := m.store.DeleteBot(ctx, id); err != nil {
		return fmt.Errorf("delete bot %s: %w", id, err)
	}
	m.sink.Log(id, inst.username, domain.LevelInfo, "Bot removed")
	return nil
}

// ExecuteCommand 向在线机器人发送原始命令或聊天
func (m *Manager) ExecuteCommand(id, text string) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	return inst.ExecuteCommand(text)
}

// FollowIndividual 单个机器人跟随
func (m *Manager) FollowIndividual(id, target string) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	return inst.Follow(target)
}

// AttackIndividual 单个机器人攻击
func (m *Manager) AttackIndividual(id, target string) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	return inst.Attack(target)
}

// StopIndividual 单个机器人停止动作
func (m *Manager) StopIndividual(id string) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	return inst.Stop()
}

// ToggleAntiIdle 切换防挂机，返回切换后是否启用
func (m *Manager) ToggleAntiIdle(id string) (bool, error) {
	inst, err := m.instance(id)
	if err != nil {
		return false, err
	}
	return inst.ToggleAntiIdle()
}

// fanOut 对所有在线机器人并发执行 fn。离线的跳过并记录；单个失败不影响其他成员。
func (m *Manager) fanOut(what string, fn func(*Instance) error) FanOutResult {
	type member struct {
		inst   *Instance
		online bool
	}

	m.mu.RLock()
	members := make([]member, 0, len(m.instances))
	for id, inst := range m.instances {
		members = append(members, member{inst: inst, online: m.records[id].IsOnline()})
	}
	m.mu.RUnlock()
	sort.Slice(members, func(a, b int) bool { return members[a].inst.username < members[b].inst.username })

	var (
		res    FanOutResult
		failed atomic.Int32
	)
	sg := syncgroup.NewSyncGroup()
	for _, mb := range members {
		if !mb.online {
			res.Skipped++
			metrics.FanOutSkipped.Add(1)
			mb.inst.logf(domain.LevelInfo, "Skipped %s: bot is not online", what)
			continue
		}
		res.Attempted++
		inst := mb.inst
		sg.Add(func() {
			if err := fn(inst); err != nil {
				failed.Add(1)
				log.Debugf("全体%s: %s 失败: %v", what, inst.username, err)
			}
		})
	}
	sg.RunAndWait()
	res.Failed = int(failed.Load())
	return res
}

func (m *Manager) fleetLog(level domain.LogLevel, format string, args ...any) {
	m.sink.Log(domain.FleetBotID, FleetBotName, level, fmt.Sprintf(format, args...))
}

// Log 以任意 botId 写入活动日志（如指令解释器的回复）
func (m *Manager) Log(botID, botName string, level domain.LogLevel, message string) domain.LogEntry {
	return m.sink.Log(botID, botName, level, message)
}

// ExecuteGlobalCommand 向所有在线机器人发送同一条命令（尽力而为，非事务）
func (m *Manager) ExecuteGlobalCommand(text string) FanOutResult {
	res := m.fanOut("command", func(inst *Instance) error { return inst.ExecuteCommand(text) })
	m.fleetLog(domain.LevelInfo, "Global command executed: %s (%d sent, %d skipped, %d failed)",
		text, res.Attempted-res.Failed, res.Skipped, res.Failed)
	return res
}

// FollowGlobal 所有在线机器人跟随 target
func (m *Manager) FollowGlobal(target string) FanOutResult {
	res := m.fanOut("follow", func(inst *Instance) error { return inst.Follow(target) })
	m.fleetLog(domain.LevelInfo, "Global follow %s: %d attempted, %d failed", target, res.Attempted, res.Failed)
	return res
}

// AttackGlobal 所有在线机器人攻击 target
func (m *Manager) AttackGlobal(target string) FanOutResult {
	res := m.fanOut("attack", func(inst *Instance) error { return inst.Attack(target) })
	m.fleetLog(domain.LevelWarning, "Global attack %s: %d attempted, %d failed", target, res.Attempted, res.Failed)
	return res
}

// StopGlobal 所有在线机器人停止动作
func (m *Manager) StopGlobal() FanOutResult {
	res := m.fanOut("stop", func(inst *Instance) error { return inst.Stop() })
	m.fleetLog(domain.LevelInfo, "Global stop: %d attempted, %d failed", res.Attempted, res.Failed)
	return res
}

// TeleportGlobal 所有在线机器人传送到操作员身边
func (m *Manager) TeleportGlobal() FanOutResult {
	return m.ExecuteGlobalCommand("/tp " + m.cfg.Operator)
}

// GetBot 单个记录快照
func (m *Manager) GetBot(id string) (domain.BotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.BotRecord{}, fmt.Errorf("%s: %w", id, ErrBotNotFound)
	}
	return rec.Clone(), nil
}

// ListBots 一致性快照，按 username 排序
func (m *Manager) ListBots() []domain.BotRecord {
	m.mu.RLock()
	out := make([]domain.BotRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Logs 最新日志在前
func (m *Manager) Logs(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	return m.store.Logs(ctx, limit)
}

// BotLogs 某个机器人的日志
func (m *Manager) BotLogs(ctx context.Context, id string, limit int) ([]domain.LogEntry, error) {
	if _, err := m.instance(id); err != nil {
		return nil, err
	}
	return m.store.BotLogs(ctx, id, limit)
}

// ClearLogs 清空活动日志
func (m *Manager) ClearLogs(ctx context.Context) error {
	return m.store.ClearLogs(ctx)
}

// Close 断开所有机器人（不触发重连），等待后台 goroutine 退出，关闭事件总线
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.RLock()
	insts := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.mu.RUnlock()

	for _, inst := range insts {
		inst.remove()
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	m.bus.Close()
	log.Infof("集群已关闭，共 %d 个机器人", len(insts))
	return err
}
