package sigchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChan_EmitCoalesces(t *testing.T) {
	c := New(1)
	c.Emit()
	c.Emit()
	c.Emit()

	select {
	case <-c.C():
	default:
		t.Fatal("应该收到一个信号")
	}
	select {
	case <-c.C():
		t.Fatal("多次 Emit 应该合并为一个信号")
	default:
	}
	assert.Len(t, c.c, 0)
}
