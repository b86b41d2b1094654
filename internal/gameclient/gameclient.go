// Package gameclient 定义机器人与游戏服务器之间的连接句柄。
// 具体协议（握手、鉴权、世界状态解码）由外部协议库完成，这里只描述能力面。
package gameclient

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed 向已断开的句柄发送命令
var ErrClosed = errors.New("gameclient: session closed")

// Options 建立连接所需参数
type Options struct {
	Host     string
	Port     int
	Username string
	Version  string // 协议版本，例如 1.20.1
}

// Addr host:port
func (o Options) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// Capabilities 连接建立时确定的可选能力，之后不会变化
type Capabilities struct {
	Pathfinding bool `json:"pathfinding"`
}

// EntityRef 世界中实体的引用
type EntityRef struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// Control 移动控制键
type Control string

const (
	ControlJump    Control = "jump"
	ControlForward Control = "forward"
	ControlSneak   Control = "sneak"
)

// Dialer 创建连接
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Session, error)
}

// DialerFunc 函数适配
type DialerFunc func(ctx context.Context, opts Options) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, opts Options) (Session, error) {
	return f(ctx, opts)
}

// Session 一个已建立的连接。
//
// 除 Chat 外所有命令都是 fire-and-forget：失败只会通过 ErrorEvent 体现。
// Chat 仅在句柄已断开时同步返回 ErrClosed。
// Events() 在 EndEvent/KickedEvent 之后或 Quit 之后关闭。
type Session interface {
	Events() <-chan Event
	Capabilities() Capabilities

	Quit()
	Chat(text string) error
	Attack(ref EntityRef)
	SetFollowGoal(ref EntityRef, radius float64)
	ClearGoal()
	SetControlState(control Control, on bool)

	ResolvePlayer(name string) (EntityRef, bool)
	DistanceTo(ref EntityRef) (float64, bool)
}
