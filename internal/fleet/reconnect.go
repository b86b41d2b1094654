package fleet

import (
	"sync"
	"time"
)

// reconnectScheduler 单个机器人的一次性重连定时器（armed | idle）。
// 重复 Schedule 会替换旧定时器；Cancel 无条件解除。
type reconnectScheduler struct {
	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	seq      uint64 // 每次 Schedule/Cancel 递增，已触发但过期的回调据此丢弃
}

// Schedule 在 delay 之后调用 fn（已 armed 时先取消旧的）
func (s *reconnectScheduler) Schedule(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.seq++
	seq := s.seq
	s.deadline = time.Now().Add(delay)
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.seq != seq {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.deadline = time.Time{}
		s.mu.Unlock()
		fn()
	})
}

// Cancel 解除定时器，可重复调用
func (s *reconnectScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.seq++
}

func (s *reconnectScheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deadline = time.Time{}
}

// Armed 是否有待触发的重连
func (s *reconnectScheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Deadline 预计触发时间
func (s *reconnectScheduler) Deadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline, s.timer != nil
}
