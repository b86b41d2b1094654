package gameclient

// Event 连接事件（按协议库发出的顺序投递）
type Event interface {
	eventName() string
}

// LoginEvent 登录成功
type LoginEvent struct{}

// EndEvent 连接结束
type EndEvent struct {
	Reason string
}

// ErrorEvent 连接错误；是否终止由随后的 EndEvent 决定
type ErrorEvent struct {
	Err error
}

// KickedEvent 被服务器踢出
type KickedEvent struct {
	Reason string
}

// HealthEvent 血量变化
type HealthEvent struct {
	Health    float64
	MaxHealth float64
}

// MoveEvent 自身位置变化
type MoveEvent struct {
	X, Y, Z float64
}

// ChatEvent 收到聊天
type ChatEvent struct {
	From string
	Text string
}

func (LoginEvent) eventName() string { return "login" }
func (EndEvent) eventName() string { return "end" }
func (ErrorEvent) eventName() string { return "error" }
func (KickedEvent) eventName() string { return "kicked" }
func (HealthEvent) eventName() string { return "health" }
func (MoveEvent) eventName() string { return "move" }
func (ChatEvent) eventName() string { return "chat" }

// EventName 事件名（日志用）
func EventName(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}

// IsTerminal end/kicked 之后该连接不再产生事件
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case EndEvent, *EndEvent, KickedEvent, *KickedEvent:
		return true
	}
	return false
}
