package bridge

import (
	"encoding/json"

	"github.com/betbot/botfleet/internal/gameclient"
)

// 出站操作（发给协议桥）
const (
	opConnect = "connect"
	opQuit    = "quit"
	opChat    = "chat"
	opAttack  = "attack"
	opFollow  = "follow"
	opClear   = "clear_goal"
	opControl = "control"
)

// 入站帧类型（协议桥上报）
const (
	frameHello  = "hello"
	frameLogin  = "login"
	frameEnd    = "end"
	frameError  = "error"
	frameKicked = "kicked"
	frameHealth = "health"
	frameMove   = "move"
	frameChat   = "chat"
	framePlayer = "player"
)

type outFrame struct {
	Op       string  `json:"op"`
	Host     string  `json:"host,omitempty"`
	Port     int     `json:"port,omitempty"`
	Username string  `json:"username,omitempty"`
	Version  string  `json:"version,omitempty"`
	Text     string  `json:"text,omitempty"`
	Entity   *int    `json:"entity,omitempty"`
	Radius   float64 `json:"radius,omitempty"`
	Control  string  `json:"control,omitempty"`
	State    *bool   `json:"state,omitempty"`
}

type inFrame struct {
	Type         string                   `json:"type"`
	Capabilities *gameclient.Capabilities `json:"capabilities,omitempty"`
	Reason       string                   `json:"reason,omitempty"`
	Message      string                   `json:"message,omitempty"`
	Health       float64                  `json:"health,omitempty"`
	MaxHealth    float64                  `json:"maxHealth,omitempty"`
	X            float64                  `json:"x,omitempty"`
	Y            float64                  `json:"y,omitempty"`
	Z            float64                  `json:"z,omitempty"`
	From         string                   `json:"from,omitempty"`
	Text         string                   `json:"text,omitempty"`
	Name         string                   `json:"name,omitempty"`
	ID           int                      `json:"id,omitempty"`
	Gone         bool                     `json:"gone,omitempty"`
}

func decodeFrame(data []byte) (inFrame, error) {
	var f inFrame
	err := json.Unmarshal(data, &f)
	return f, err
}

func intPtr(v int) *int { return &v }
func boolPtr(v bool) *bool { return &v }
