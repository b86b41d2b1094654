package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var streamLog = logrus.WithField("component", "fleet_tui_stream")

type rawFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// botFrameMsg botConnected/botDisconnected/botUpdated
type botFrameMsg domain.BotRecord

// logFrameMsg newLog
type logFrameMsg domain.LogEntry

// aiFrameMsg aiResponse
type aiFrameMsg struct {
	Response        string `json:"response"`
	OriginalMessage string `json:"originalMessage"`
}

// streamStateMsg 推送连接状态变化
type streamStateMsg struct {
	connected bool
	err       error
}

// runStream 连接 /ws 并把帧转成 tea.Msg，断线后 3 秒重连，直到 ctx 结束
func runStream(ctx context.Context, url string, out chan<- tea.Msg) {
	defer close(out)
	for {
		err := streamOnce(ctx, url, out)
		select {
		case out <- streamStateMsg{connected: false, err: err}:
		case <-ctx.Done():
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func streamOnce(ctx context.Context, url string, out chan<- tea.Msg) error {
	dialer := gorillaWS.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	out <- streamStateMsg{connected: true}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f rawFrame
		if err := json.Unmarshal(data, &f); err != nil {
			streamLog.Debugf("忽略无法解析的帧: %v", err)
			continue
		}
		msg := decodeFrame(f)
		if msg == nil {
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func decodeFrame(f rawFrame) tea.Msg {
	switch f.Event {
	case "botConnected", "botDisconnected", "botUpdated":
		var rec domain.BotRecord
		if err := json.Unmarshal(f.Data, &rec); err != nil {
			return nil
		}
		return botFrameMsg(rec)
	case "newLog":
		var e domain.LogEntry
		if err := json.Unmarshal(f.Data, &e); err != nil {
			return nil
		}
		return logFrameMsg(e)
	case "aiResponse":
		var ai aiFrameMsg
		if err := json.Unmarshal(f.Data, &ai); err != nil {
			return nil
		}
		return ai
	}
	return nil
}

// waitForStream 每次取一条推送消息
func waitForStream(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}
