package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/betbot/botfleet/pkg/fleetclient"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxLogLines = 12

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238"))

	selectedStyle = lipgloss.NewStyle().Reverse(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	statusStyles = map[domain.ConnectionState]lipgloss.Style{
		domain.StateOnline:       lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		domain.StateConnecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		domain.StateReconnecting: lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		domain.StateOffline:      lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}

	levelStyles = map[domain.LogLevel]lipgloss.Style{
		domain.LevelSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		domain.LevelWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		domain.LevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
)

// model 是应用程序的状态
type model struct {
	client   *fleetclient.Client
	operator string
	ctx      context.Context
	cancel   context.CancelFunc
	stream   chan tea.Msg

	bots     map[string]domain.BotRecord
	order    []string // 按 username 排序的 id
	selected int
	logs     []domain.LogEntry // 最新在前

	connected bool
	status    string
	err       error
}

// tickMsg 定时刷新快照
type tickMsg time.Time

// snapshotMsg REST 快照
type snapshotMsg struct {
	bots []domain.BotRecord
	logs []domain.LogEntry
}

// actionDoneMsg 操作结果
type actionDoneMsg struct {
	text string
	err  error
}

func newModel(client *fleetclient.Client, operator string) model {
	ctx, cancel := context.WithCancel(context.Background())
	return model{
		client:   client,
		operator: operator,
		ctx:      ctx,
		cancel:   cancel,
		stream:   make(chan tea.Msg, 256),
		bots:     make(map[string]domain.BotRecord),
		status:   "connecting...",
	}
}

func (m model) Init() tea.Cmd {
	url, err := m.client.WebSocketURL()
	if err != nil {
		return func() tea.Msg { return actionDoneMsg{err: err} }
	}
	go runStream(m.ctx, url, m.stream)
	return tea.Batch(
		snapshotCmd(m.ctx, m.client),
		waitForStream(m.stream),
		tickCmd(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		// 推送断开期间靠快照兜底
		if !m.connected {
			return m, tea.Batch(tickCmd(), snapshotCmd(m.ctx, m.client))
		}
		return m, tickCmd()

	case snapshotMsg:
		m.bots = make(map[string]domain.BotRecord, len(msg.bots))
		for _, b := range msg.bots {
			m.bots[b.ID] = b
		}
		m.logs = msg.logs
		m.reorder()
		return m, nil

	case streamStateMsg:
		m.connected = msg.connected
		if msg.connected {
			m.status = "live"
			return m, tea.Batch(waitForStream(m.stream), snapshotCmd(m.ctx, m.client))
		}
		m.status = "stream disconnected"
		if msg.err != nil {
			m.status += ": " + msg.err.Error()
		}
		return m, waitForStream(m.stream)

	case botFrameMsg:
		rec := domain.BotRecord(msg)
		m.bots[rec.ID] = rec
		m.reorder()
		return m, waitForStream(m.stream)

	case logFrameMsg:
		m.logs = append([]domain.LogEntry{domain.LogEntry(msg)}, m.logs...)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[:maxLogLines]
		}
		return m, waitForStream(m.stream)

	case aiFrameMsg:
		m.status = fmt.Sprintf("AI: %q → %s", msg.OriginalMessage, msg.Response)
		return m, waitForStream(m.stream)

	case actionDoneMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.text
		}
		return m, nil
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.cancel()
		return m, tea.Quit
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.order)-1 {
			m.selected++
		}
	case "r":
		return m, snapshotCmd(m.ctx, m.client)
	case "n":
		return m, m.do("spawn", func(ctx context.Context) (string, error) {
			return "Spawning bots", m.client.SpawnAll(ctx, 0)
		})
	case "S":
		return m, m.global("stop-global", "")
	case "T":
		return m, m.global("teleport", "")
	case "F":
		return m, m.global("follow-global", m.operator)
	case "c", "d", "s", "a", "x":
		id, ok := m.selectedID()
		if !ok {
			return m, nil
		}
		action := map[string]string{"c": "connect", "d": "disconnect", "s": "stop", "a": "anti-afk"}[msg.String()]
		if msg.String() == "x" {
			return m, m.do("delete", func(ctx context.Context) (string, error) {
				return "Bot removed", m.client.DeleteBot(ctx, id)
			})
		}
		return m, m.do(action, func(ctx context.Context) (string, error) {
			reply, err := m.client.BotAction(ctx, id, action, "")
			if err != nil {
				return "", err
			}
			return reply.Message, nil
		})
	}
	return m, nil
}

func (m model) global(action, target string) tea.Cmd {
	return m.do(action, func(ctx context.Context) (string, error) {
		reply, err := m.client.GlobalAction(ctx, action, target)
		if err != nil {
			return "", err
		}
		r := reply.Result
		return fmt.Sprintf("%s (%d attempted, %d skipped, %d failed)", reply.Message, r.Attempted, r.Skipped, r.Failed), nil
	})
}

func (m model) do(name string, fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancel()
		text, err := fn(ctx)
		if err != nil {
			return actionDoneMsg{err: fmt.Errorf("%s: %w", name, err)}
		}
		return actionDoneMsg{text: text}
	}
}

func (m *model) reorder() {
	m.order = make([]string, 0, len(m.bots))
	for id := range m.bots {
		m.order = append(m.order, id)
	}
	sort.Slice(m.order, func(i, j int) bool {
		return m.bots[m.order[i]].Username < m.bots[m.order[j]].Username
	})
	if m.selected >= len(m.order) {
		m.selected = len(m.order) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m model) selectedID() (string, bool) {
	if m.selected < 0 || m.selected >= len(m.order) {
		return "", false
	}
	return m.order[m.selected], true
}

func (m model) View() string {
	var b strings.Builder

	online := 0
	for _, bot := range m.bots {
		if bot.IsOnline() {
			online++
		}
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("Bot Fleet  %d/%d online", online, len(m.bots))))
	b.WriteString("  ")
	b.WriteString(mutedStyle.Render(m.status))
	b.WriteString("\n\n")

	var rows strings.Builder
	rows.WriteString(titleStyle.Render(fmt.Sprintf("%-20s %-13s %-10s %-14s %7s %8s", "USERNAME", "STATUS", "ACTION", "TARGET", "HEALTH", "UPTIME")))
	rows.WriteString("\n")
	if len(m.order) == 0 {
		rows.WriteString(mutedStyle.Render("no bots (press n to spawn)"))
	}
	for i, id := range m.order {
		bot := m.bots[id]
		status := string(bot.Status)
		if st, ok := statusStyles[bot.Status]; ok {
			status = st.Render(fmt.Sprintf("%-13s", status))
		} else {
			status = fmt.Sprintf("%-13s", status)
		}
		line := fmt.Sprintf("%-20s %s %-10s %-14s %3.0f/%-3.0f %8s",
			bot.Username, status, bot.Action, bot.Target, bot.Health, bot.MaxHealth,
			(time.Duration(bot.Uptime) * time.Second).String())
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		rows.WriteString(line)
		if i < len(m.order)-1 {
			rows.WriteString("\n")
		}
	}
	b.WriteString(borderStyle.Render(rows.String()))
	b.WriteString("\n\n")

	var logs strings.Builder
	logs.WriteString(titleStyle.Render("Activity"))
	for _, e := range m.logs {
		line := fmt.Sprintf("%s %-16s %s", e.Timestamp.Local().Format("15:04:05"), e.BotName, e.Message)
		if st, ok := levelStyles[e.Level]; ok {
			line = st.Render(line)
		}
		logs.WriteString("\n")
		logs.WriteString(line)
	}
	b.WriteString(borderStyle.Render(logs.String()))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(statusStyles[domain.StateOffline].Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render("↑/↓ select · c connect · d disconnect · s stop · a anti-afk · x delete · n spawn · S stop all · T teleport · F follow · r refresh · q quit"))
	return b.String()
}

// Commands

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func snapshotCmd(ctx context.Context, client *fleetclient.Client) tea.Cmd {
	return func() tea.Msg {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		bots, err := client.ListBots(cctx)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		logs, err := client.Logs(cctx, maxLogLines)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		return snapshotMsg{bots: bots, logs: logs}
	}
}
