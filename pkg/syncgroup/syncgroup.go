package syncgroup

import (
	"sync"
)

type syncGroupFunc func()

// SyncGroup 是 sync.WaitGroup 的包装器，自动管理 Add() 和 Done()
// 用法: Add 若干函数 -> Run 并发启动 -> Wait 等待全部完成
type SyncGroup struct {
	wg sync.WaitGroup

	sgFuncsMu sync.Mutex
	sgFuncs   []syncGroupFunc
	running   int
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 添加一个待启动的函数（Run 之前调用）
func (w *SyncGroup) Add(fn syncGroupFunc) {
	if fn == nil {
		return
	}
	w.sgFuncsMu.Lock()
	defer w.sgFuncsMu.Unlock()
	w.sgFuncs = append(w.sgFuncs, fn)
}

// Run 启动所有已添加的函数，并清空待启动列表
func (w *SyncGroup) Run() {
	w.sgFuncsMu.Lock()
	fns := w.sgFuncs
	w.sgFuncs = nil
	w.running += len(fns)
	w.sgFuncsMu.Unlock()

	w.wg.Add(len(fns))
	for _, fn := range fns {
		go func(doFunc syncGroupFunc) {
			defer func() {
				w.sgFuncsMu.Lock()
				w.running--
				w.sgFuncsMu.Unlock()
				w.wg.Done()
			}()
			doFunc()
		}(fn)
	}
}

// Running 当前仍在运行的 goroutine 数量
func (w *SyncGroup) Running() int {
	w.sgFuncsMu.Lock()
	defer w.sgFuncsMu.Unlock()
	return w.running
}

// Wait 等待所有已启动的 goroutine 完成
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}

// RunAndWait Run + Wait
func (w *SyncGroup) RunAndWait() {
	w.Run()
	w.Wait()
}
