package fleet

import "errors"

// 单个机器人的失败只影响它自己，不会让 Manager 崩溃。
var (
	// ErrBotNotFound 未知 id
	ErrBotNotFound = errors.New("bot not found")
	// ErrBotNotConnected 动作/命令要求机器人在线
	ErrBotNotConnected = errors.New("bot not connected")
	// ErrTargetNotFound 跟随/攻击目标无法解析为实体
	ErrTargetNotFound = errors.New("target not found")
	// ErrConnectionFailed 底层连接被拒绝（会自动安排重连）
	ErrConnectionFailed = errors.New("connection failed")
	// ErrCommandDispatchFailed 向已断开的连接发送命令
	ErrCommandDispatchFailed = errors.New("command dispatch failed")
	// ErrFollowUnsupported 连接不支持寻路
	ErrFollowUnsupported = errors.New("pathfinding not supported by connection")
)
