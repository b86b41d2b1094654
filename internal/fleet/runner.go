package fleet

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/betbot/botfleet/internal/gameclient"
)

// RunnerConfig 动作周期参数
type RunnerConfig struct {
	FollowInterval   time.Duration // 跟随时重新解析目标的周期
	FollowRadius     float64
	AttackInterval   time.Duration
	AttackRange      float64
	AntiIdleInterval time.Duration
	AntiIdlePulse    time.Duration // 跳跃按键保持时间
	// Rand 返回 [0,1)；nil 使用 math/rand
	Rand func() float64
}

// DefaultRunnerConfig 默认动作参数
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		FollowInterval:   time.Second,
		FollowRadius:     3,
		AttackInterval:   500 * time.Millisecond,
		AttackRange:      4,
		AntiIdleInterval: 60 * time.Second,
		AntiIdlePulse:    100 * time.Millisecond,
	}
}

// withDefaults 未设置的字段取默认值
func (c RunnerConfig) withDefaults() RunnerConfig {
	def := DefaultRunnerConfig()
	if c.FollowInterval <= 0 {
		c.FollowInterval = def.FollowInterval
	}
	if c.FollowRadius <= 0 {
		c.FollowRadius = def.FollowRadius
	}
	if c.AttackInterval <= 0 {
		c.AttackInterval = def.AttackInterval
	}
	if c.AttackRange <= 0 {
		c.AttackRange = def.AttackRange
	}
	if c.AntiIdleInterval <= 0 {
		c.AntiIdleInterval = def.AntiIdleInterval
	}
	if c.AntiIdlePulse <= 0 {
		c.AntiIdlePulse = def.AntiIdlePulse
	}
	return c
}

type tickKind int

const (
	tickNone tickKind = iota
	tickFollow
	tickAttack
	tickAntiIdle
)

// activeTick 当前唯一的周期任务；kind == tickNone 时其余字段为空
type activeTick struct {
	kind   tickKind
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner 单个连接上的动作状态机（idle / following / attacking / anti_afk）。
// 同一时刻最多一个周期任务；换动作前先取消并等待旧任务退出。
// 周期任务的 goroutine 只访问 session，不会获取 Runner 的锁。
type Runner struct {
	cfg     RunnerConfig
	session gameclient.Session

	mu     sync.Mutex
	state  domain.ActionKind
	target string
	tick   activeTick
	torn   bool

	live atomic.Int32
}

func newRunner(session gameclient.Session, cfg RunnerConfig) *Runner {
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	return &Runner{cfg: cfg, session: session, state: domain.ActionIdle}
}

// State 当前动作与目标
func (r *Runner) State() (domain.ActionKind, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.target
}

// ActiveTicks 正在运行的周期任务数（0 或 1）
func (r *Runner) ActiveTicks() int {
	return int(r.live.Load())
}

func (r *Runner) activeKind() tickKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tick.kind
}

// Follow 跟随玩家
func (r *Runner) Follow(target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.torn {
		return ErrBotNotConnected
	}
	if !r.session.Capabilities().Pathfinding {
		return ErrFollowUnsupported
	}
	ref, ok := r.session.ResolvePlayer(target)
	if !ok {
		return ErrTargetNotFound
	}

	r.stopTickLocked()
	r.session.SetFollowGoal(ref, r.cfg.FollowRadius)
	r.state, r.target = domain.ActionFollowing, target
	r.startTickLocked(tickFollow, r.cfg.FollowInterval, r.followStep(target, ref))
	return nil
}

// Attack 周期性攻击进入范围的玩家
func (r *Runner) Attack(target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.torn {
		return ErrBotNotConnected
	}
	if _, ok := r.session.ResolvePlayer(target); !ok {
		return ErrTargetNotFound
	}

	r.stopTickLocked()
	r.clearGoalLocked()
	r.state, r.target = domain.ActionAttacking, target
	r.startTickLocked(tickAttack, r.cfg.AttackInterval, r.attackStep(target))
	return nil
}

// Stop 回到 idle。已经是 idle 时返回 false 且不做任何事。
func (r *Runner) Stop() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.torn {
		return false, ErrBotNotConnected
	}
	if r.state == domain.ActionIdle && r.tick.kind == tickNone {
		return false, nil
	}
	r.stopTickLocked()
	r.session.ClearGoal()
	r.state, r.target = domain.ActionIdle, ""
	return true, nil
}

// ToggleAntiIdle 在 anti_afk 与 idle 之间切换，返回切换后是否启用
func (r *Runner) ToggleAntiIdle() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.torn {
		return false, ErrBotNotConnected
	}
	if r.state == domain.ActionAntiIdle {
		r.stopTickLocked()
		r.state = domain.ActionIdle
		return false, nil
	}

	r.stopTickLocked()
	r.clearGoalLocked()
	r.state, r.target = domain.ActionAntiIdle, ""
	r.startTickLocked(tickAntiIdle, r.cfg.AntiIdleInterval, r.antiIdleStep())
	return true, nil
}

// Teardown 取消一切，之后 Runner 不可再用
func (r *Runner) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTickLocked()
	r.state, r.target = domain.ActionIdle, ""
	r.torn = true
}

func (r *Runner) clearGoalLocked() {
	if r.state == domain.ActionFollowing {
		r.session.ClearGoal()
	}
}

// stopTickLocked 取消当前周期任务并等待其 goroutine 退出
func (r *Runner) stopTickLocked() {
	if r.tick.kind == tickNone {
		return
	}
	r.tick.cancel()
	<-r.tick.done
	r.tick = activeTick{}
}

func (r *Runner) startTickLocked(kind tickKind, every time.Duration, step func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.tick = activeTick{kind: kind, cancel: cancel, done: done}
	r.live.Add(1)

	go func() {
		defer close(done)
		defer r.live.Add(-1)

		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				step(ctx)
			}
		}
	}()
}

// followStep 目标实体变化（重生、重新进入视野）时重新下发跟随目标
func (r *Runner) followStep(target string, initial gameclient.EntityRef) func(context.Context) {
	last := initial
	return func(context.Context) {
		ref, ok := r.session.ResolvePlayer(target)
		if !ok || ref == last {
			return
		}
		last = ref
		r.session.SetFollowGoal(ref, r.cfg.FollowRadius)
	}
}

func (r *Runner) attackStep(target string) func(context.Context) {
	return func(context.Context) {
		ref, ok := r.session.ResolvePlayer(target)
		if !ok {
			return
		}
		if d, ok := r.session.DistanceTo(ref); ok && d <= r.cfg.AttackRange {
			r.session.Attack(ref)
		}
	}
}

func (r *Runner) antiIdleStep() func(context.Context) {
	return func(ctx context.Context) {
		if r.cfg.Rand() >= 0.5 {
			return
		}
		r.session.SetControlState(gameclient.ControlJump, true)
		pulse := time.NewTimer(r.cfg.AntiIdlePulse)
		select {
		case <-ctx.Done():
		case <-pulse.C:
		}
		pulse.Stop()
		// 取消时也要松开按键
		r.session.SetControlState(gameclient.ControlJump, false)
	}
}
