package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager_RunsAllCallbacksOnce(t *testing.T) {
	m := NewManager()
	var calls int32
	m.OnShutdown("a", func(ctx context.Context) error { atomic.AddInt32(&calls, 1); return nil })
	m.OnShutdown("b", func(ctx context.Context) error { atomic.AddInt32(&calls, 1); return errors.New("boom") })
	m.OnShutdown("nil", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, m.Shutdown(ctx))
	assert.True(t, m.Shutdown(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestManager_Timeout(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)
	m.OnShutdown("slow", func(ctx context.Context) error { <-release; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, m.Shutdown(ctx))
}
