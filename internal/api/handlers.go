package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/betbot/botfleet/internal/fleet"
)

type createBotRequest struct {
	Username string `json:"username"`
}

type spawnRequest struct {
	Count int `json:"count"`
}

type targetRequest struct {
	Target string `json:"target"`
}

type fanOutResponse struct {
	Message string             `json:"message"`
	Result  fleet.FanOutResult `json:"result"`
}

func (s *Server) handleBotsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.fleet.ListBots())
}

func (s *Server) handleBotsCreate(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	rec, created, err := s.fleet.CreateBot(r.Context(), req.Username)
	if err != nil {
		writeFleetError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, rec)
}

func (s *Server) handleSpawnAll(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Count < 0 {
		writeError(w, http.StatusBadRequest, "count must be positive")
		return
	}
	if _, err := s.fleet.SpawnNamed(r.Context(), req.Count); err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Spawning all bots",
		"bots":    s.fleet.ListBots(),
	})
}

func (s *Server) handleBotGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.fleet.GetBot(urlParam(r, "botID"))
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleBotDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.RemoveBot(r.Context(), urlParam(r, "botID")); err != nil {
		writeFleetError(w, err)
		return
	}
	writeMessage(w, "Bot removed")
}

func (s *Server) handleBotConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.ConnectBot(urlParam(r, "botID")); err != nil {
		writeFleetError(w, err)
		return
	}
	writeMessage(w, "Bot connection initiated")
}

func (s *Server) handleBotDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.DisconnectBot(urlParam(r, "botID")); err != nil {
		writeFleetError(w, err)
		return
	}
	writeMessage(w, "Bot disconnected")
}

// readTarget 解析 {"target": ...}，失败时已写好 400
func readTarget(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req targetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return "", false
	}
	target := strings.TrimSpace(req.Target)
	if target == "" {
		writeError(w, http.StatusBadRequest, "Target player required")
		return "", false
	}
	return target, true
}

func (s *Server) handleBotFollow(w http.ResponseWriter, r *http.Request) {
	target, ok := readTarget(w, r)
	if !ok {
		return
	}
	if err := s.fleet.FollowIndividual(urlParam(r, "botID"), target); err != nil {
		writeFleetError(w, err)
		return
	}
	writeMessage(w, "Bot following "+target)
}

func (s *Server) handleBotAttack(w http.ResponseWriter, r *http.Request) {
	target, ok := readTarget(w, r)
	if !ok {
		return
	}
	if err := s.fleet.AttackIndividual(urlParam(r, "botID"), target); err != nil {
		writeFleetError(w, err)
		return
	}
	writeMessage(w, "Bot attacking "+target)
}

func (s *Server) handleBotStop(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.StopIndividual(urlParam(r, "botID")); err != nil {
		writeFleetError(w, err)
		return
	}
	writeMessage(w, "Bot action stopped")
}

func (s *Server) handleBotAntiIdle(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.fleet.ToggleAntiIdle(urlParam(r, "botID"))
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Anti-AFK toggled", "enabled": enabled})
}

func (s *Server) handleFollowGlobal(w http.ResponseWriter, r *http.Request) {
	target, ok := readTarget(w, r)
	if !ok {
		return
	}
	res := s.fleet.FollowGlobal(target)
	writeJSON(w, http.StatusOK, fanOutResponse{Message: "All bots following " + target, Result: res})
}

func (s *Server) handleAttackGlobal(w http.ResponseWriter, r *http.Request) {
	target, ok := readTarget(w, r)
	if !ok {
		return
	}
	res := s.fleet.AttackGlobal(target)
	writeJSON(w, http.StatusOK, fanOutResponse{Message: "All bots attacking " + target, Result: res})
}

func (s *Server) handleStopGlobal(w http.ResponseWriter, r *http.Request) {
	res := s.fleet.StopGlobal()
	writeJSON(w, http.StatusOK, fanOutResponse{Message: "All bots stopped", Result: res})
}

func (s *Server) handleTeleport(w http.ResponseWriter, r *http.Request) {
	res := s.fleet.TeleportGlobal()
	msg := fmt.Sprintf("All bots teleporting to %s", s.fleet.Operator())
	writeJSON(w, http.StatusOK, fanOutResponse{Message: msg, Result: res})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd domain.Command
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := cmd.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if cmd.Type == domain.CommandGlobal {
		res := s.fleet.ExecuteGlobalCommand(cmd.Command)
		writeJSON(w, http.StatusOK, fanOutResponse{Message: "Global command executed", Result: res})
		return
	}
	if err := s.fleet.ExecuteCommand(cmd.BotID, cmd.Command); err != nil {
		writeFleetError(w, err)
		return
	}
	writeMessage(w, "Individual command executed")
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.fleet.Logs(r.Context(), queryLimit(r))
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleBotLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.fleet.BotLogs(r.Context(), urlParam(r, "botID"), queryLimit(r))
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.ClearLogs(r.Context()); err != nil {
		writeFleetError(w, err)
		return
	}
	writeMessage(w, "Logs cleared")
}
