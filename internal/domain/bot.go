package domain

import (
	"math"
	"time"
)

// ConnectionState 机器人连接状态
type ConnectionState string

const (
	StateOffline      ConnectionState = "offline"
	StateConnecting   ConnectionState = "connecting"
	StateOnline       ConnectionState = "online"
	StateReconnecting ConnectionState = "reconnecting"
)

// ActionKind 机器人当前行为
type ActionKind string

const (
	ActionIdle         ActionKind = "idle"
	ActionFollowing    ActionKind = "following"
	ActionAttacking    ActionKind = "attacking"
	ActionAntiIdle     ActionKind = "anti_afk"
	ActionDisconnected ActionKind = "disconnected"
)

// HasTarget 只有 following/attacking 携带目标玩家
func (a ActionKind) HasTarget() bool {
	return a == ActionFollowing || a == ActionAttacking
}

// Position 最后一次上报的坐标（已取整）
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// RoundPosition 把浮点坐标四舍五入到方块坐标
func RoundPosition(x, y, z float64) Position {
	return Position{
		X: int(math.Round(x)),
		Y: int(math.Round(y)),
		Z: int(math.Round(z)),
	}
}

// BotRecord 机器人状态记录（对外可见的快照）
type BotRecord struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Status       ConnectionState `json:"status"`
	Action       ActionKind      `json:"action"`
	Target       string          `json:"target,omitempty"`
	Health       float64         `json:"health"`
	MaxHealth    float64         `json:"maxHealth"`
	Uptime       int64           `json:"uptime"` // 秒，自本次连接尝试开始
	IsRegistered bool            `json:"isRegistered"`
	Position     *Position       `json:"position,omitempty"`
	LastSeen     time.Time       `json:"lastSeen"`
}

// DefaultHealth 新建机器人的初始血量
const DefaultHealth = 20

// NewBotRecord 创建一个离线的新记录
func NewBotRecord(id, username string) BotRecord {
	return BotRecord{
		ID:        id,
		Username:  username,
		Status:    StateOffline,
		Action:    ActionIdle,
		Health:    DefaultHealth,
		MaxHealth: DefaultHealth,
		LastSeen:  time.Now(),
	}
}

// IsOnline 是否在线
func (b BotRecord) IsOnline() bool {
	return b.Status == StateOnline
}

// Normalize 修正状态组合：
// 非 online 时 action 只能是 disconnected 或 idle；target 只随 following/attacking 存在。
func (b *BotRecord) Normalize() {
	if b.Status != StateOnline && b.Action != ActionIdle && b.Action != ActionDisconnected {
		b.Action = ActionDisconnected
	}
	if !b.Action.HasTarget() {
		b.Target = ""
	}
	if b.Health < 0 {
		b.Health = 0
	}
	if b.MaxHealth < 0 {
		b.MaxHealth = 0
	}
}

// Clone 深拷贝（Position 是指针）
func (b BotRecord) Clone() BotRecord {
	out := b
	if b.Position != nil {
		p := *b.Position
		out.Position = &p
	}
	return out
}
