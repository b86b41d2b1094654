package domain

import "time"

// LogLevel 日志级别
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

const (
	// FleetBotID 全局命令日志使用的哨兵 botId
	FleetBotID = "fleet"
	// InterpreterBotID 指令解释器回复使用的哨兵 botId
	InterpreterBotID = "ai"
)

// LogEntry 活动日志（只追加）
type LogEntry struct {
	ID        string    `json:"id"`
	BotID     string    `json:"botId"`
	BotName   string    `json:"botName"`
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}
