// Package api 对外暴露集群的 REST 接口与 /ws 实时推送。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/betbot/botfleet/internal/fleet"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "api")

// Server HTTP 接口，持有集群管理器和 /ws 广播中心
type Server struct {
	fleet *fleet.Manager
	hub   *Hub
}

// New 创建 Server 并把集群事件接到 /ws
func New(m *fleet.Manager) *Server {
	hub := NewHub()
	hub.Attach(m)
	return &Server{fleet: m, hub: hub}
}

// Hub /ws 广播中心（指令解释器通过它推送 aiResponse）
func (s *Server) Hub() *Hub { return s.hub }

// Close 断开所有 /ws 客户端
func (s *Server) Close() error {
	s.hub.Close()
	return nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	r.GET("/ws", s.wrap(s.hub.ServeHTTP))

	api := r.Group("/api")

	bots := api.Group("/bots")
	bots.GET("", s.wrap(s.handleBotsList))
	bots.POST("", s.wrap(s.handleBotsCreate))
	bots.POST("/spawn-all", s.wrap(s.handleSpawnAll))
	bots.POST("/follow-global", s.wrap(s.handleFollowGlobal))
	bots.POST("/attack-global", s.wrap(s.handleAttackGlobal))
	bots.POST("/stop-global", s.wrap(s.handleStopGlobal))
	bots.POST("/teleport", s.wrap(s.handleTeleport))

	botID := bots.Group("/:botID")
	botID.GET("", s.wrap(s.handleBotGet))
	botID.DELETE("", s.wrap(s.handleBotDelete))
	botID.POST("/connect", s.wrap(s.handleBotConnect))
	botID.POST("/disconnect", s.wrap(s.handleBotDisconnect))
	botID.POST("/follow", s.wrap(s.handleBotFollow))
	botID.POST("/attack", s.wrap(s.handleBotAttack))
	botID.POST("/stop", s.wrap(s.handleBotStop))
	botID.POST("/anti-afk", s.wrap(s.handleBotAntiIdle))
	botID.GET("/logs", s.wrap(s.handleBotLogs))

	api.POST("/commands", s.wrap(s.handleCommand))
	api.GET("/logs", s.wrap(s.handleLogs))
	api.DELETE("/logs", s.wrap(s.handleLogsClear))

	return r
}

type paramsKeyType string

const paramsKey paramsKeyType = "botfleet_path_params"

// wrap 把 net/http 风格的 handler 挂到 gin 上，路径参数放进 request context
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func urlParam(r *http.Request, key string) string {
	m, _ := r.Context().Value(paramsKey).(map[string]string)
	return m[key]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("写响应失败: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// writeFleetError 把集群错误映射为 HTTP 状态码
func writeFleetError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, fleet.ErrBotNotFound):
		return http.StatusNotFound
	case errors.Is(err, fleet.ErrBotNotConnected):
		return http.StatusConflict
	case errors.Is(err, fleet.ErrTargetNotFound), errors.Is(err, fleet.ErrFollowUnsupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fleet.ErrCommandDispatchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody 空 body 视为零值
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// queryLimit 缺省或非法时返回 0，由存储层套用默认值
func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
