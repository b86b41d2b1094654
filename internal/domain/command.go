package domain

import (
	"errors"
	"strings"
)

// CommandType 命令类型
type CommandType string

const (
	CommandIndividual CommandType = "individual"
	CommandGlobal     CommandType = "global"
)

// Command 外部下发的命令：以 "/" 开头为原始协议命令，否则为聊天文本
type Command struct {
	Type    CommandType `json:"type"`
	BotID   string      `json:"botId,omitempty"`
	Command string      `json:"command"`
	Target  string      `json:"target,omitempty"`
}

// IsRaw 是否为原始协议命令
func (c Command) IsRaw() bool {
	return IsRawCommand(c.Command)
}

// IsRawCommand 以 "/" 开头的文本按协议命令发送，否则是普通聊天
func IsRawCommand(text string) bool {
	return strings.HasPrefix(text, "/")
}

// Validate botId 仅在 individual 时必填
func (c Command) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return errors.New("command is required")
	}
	switch c.Type {
	case CommandIndividual:
		if strings.TrimSpace(c.BotID) == "" {
			return errors.New("bot ID required for individual commands")
		}
	case CommandGlobal:
		if c.BotID != "" {
			return errors.New("bot ID must be empty for global commands")
		}
	default:
		return errors.New("type must be individual or global")
	}
	return nil
}
