package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		in     BotRecord
		action ActionKind
		target string
	}{
		{"offline following", BotRecord{Status: StateOffline, Action: ActionFollowing, Target: "x"}, ActionDisconnected, ""},
		{"reconnecting anti-afk", BotRecord{Status: StateReconnecting, Action: ActionAntiIdle}, ActionDisconnected, ""},
		{"offline idle kept", BotRecord{Status: StateOffline, Action: ActionIdle}, ActionIdle, ""},
		{"online attacking", BotRecord{Status: StateOnline, Action: ActionAttacking, Target: "Steve"}, ActionAttacking, "Steve"},
		{"online idle drops target", BotRecord{Status: StateOnline, Action: ActionIdle, Target: "Steve"}, ActionIdle, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.in
			rec.Normalize()
			assert.Equal(t, tt.action, rec.Action)
			assert.Equal(t, tt.target, rec.Target)
		})
	}
}

func TestRoundPositionAndClone(t *testing.T) {
	pos := RoundPosition(1.4, 64.5, -2.6)
	assert.Equal(t, Position{X: 1, Y: 65, Z: -3}, pos)

	rec := NewBotRecord("id", "Alpha")
	rec.Position = &pos
	cp := rec.Clone()
	cp.Position.X = 99
	assert.Equal(t, 1, rec.Position.X)
	assert.Equal(t, StateOffline, rec.Status)
	assert.EqualValues(t, DefaultHealth, rec.Health)
}

func TestCommandValidate(t *testing.T) {
	tests := []struct {
		cmd     Command
		wantErr string
	}{
		{Command{Type: CommandGlobal, Command: "/spawn"}, ""},
		{Command{Type: CommandIndividual, BotID: "b1", Command: "hi"}, ""},
		{Command{Type: CommandIndividual, Command: "hi"}, "bot ID required for individual commands"},
		{Command{Type: CommandGlobal, BotID: "b1", Command: "hi"}, "bot ID must be empty for global commands"},
		{Command{Type: CommandGlobal, Command: "  "}, "command is required"},
		{Command{Type: "other", Command: "hi"}, "type must be individual or global"},
	}
	for _, tt := range tests {
		err := tt.cmd.Validate()
		if tt.wantErr == "" {
			assert.NoError(t, err)
			continue
		}
		assert.EqualError(t, err, tt.wantErr)
	}
	assert.True(t, Command{Command: "/tp x"}.IsRaw())
	assert.False(t, IsRawCommand("hello"))
}
