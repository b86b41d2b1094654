// Package fleetclient 集群服务 REST 接口的 Go 客户端。
package fleetclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/betbot/botfleet/internal/domain"
	"github.com/betbot/botfleet/pkg/restclient"
	"github.com/pkg/errors"
)

// FanOutResult 全体命令的汇总
type FanOutResult struct {
	Attempted int `json:"attempted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Reply 通用响应体
type Reply struct {
	Message string       `json:"message"`
	Result  FanOutResult `json:"result"`
	Enabled bool         `json:"enabled"`
}

type Client struct {
	base string
	http *restclient.Client
}

// New baseURL 形如 http://localhost:5000
func New(baseURL string) *Client {
	base := strings.TrimSuffix(baseURL, "/")
	return &Client{
		base: base,
		http: restclient.NewClient(base, restclient.Options{Timeout: 10 * time.Second}),
	}
}

// WebSocketURL 对应的 /ws 地址
func (c *Client) WebSocketURL() (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (c *Client) ListBots(ctx context.Context) ([]domain.BotRecord, error) {
	var out []domain.BotRecord
	if err := c.http.Do(ctx, http.MethodGet, "/api/bots", nil, &out); err != nil {
		return nil, errors.Wrap(err, "list bots")
	}
	return out, nil
}

func (c *Client) GetBot(ctx context.Context, id string) (*domain.BotRecord, error) {
	var out domain.BotRecord
	if err := c.http.Do(ctx, http.MethodGet, "/api/bots/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, errors.Wrapf(err, "get bot %s", id)
	}
	return &out, nil
}

func (c *Client) CreateBot(ctx context.Context, username string) (*domain.BotRecord, error) {
	var out domain.BotRecord
	opt := &restclient.RequestOptions{Data: map[string]string{"username": username}}
	if err := c.http.Do(ctx, http.MethodPost, "/api/bots", opt, &out); err != nil {
		return nil, errors.Wrapf(err, "create bot %s", username)
	}
	return &out, nil
}

func (c *Client) DeleteBot(ctx context.Context, id string) error {
	return errors.Wrapf(c.http.Do(ctx, http.MethodDelete, "/api/bots/"+url.PathEscape(id), nil, nil), "delete bot %s", id)
}

func (c *Client) SpawnAll(ctx context.Context, count int) error {
	opt := &restclient.RequestOptions{Data: map[string]int{"count": count}}
	return errors.Wrap(c.http.Do(ctx, http.MethodPost, "/api/bots/spawn-all", opt, nil), "spawn all")
}

// BotAction connect/disconnect/stop/anti-afk，以及带 target 的 follow/attack
func (c *Client) BotAction(ctx context.Context, id, action, target string) (*Reply, error) {
	var opt *restclient.RequestOptions
	if target != "" {
		opt = &restclient.RequestOptions{Data: map[string]string{"target": target}}
	}
	var out Reply
	if err := c.http.Do(ctx, http.MethodPost, "/api/bots/"+url.PathEscape(id)+"/"+action, opt, &out); err != nil {
		return nil, errors.Wrapf(err, "%s bot %s", action, id)
	}
	return &out, nil
}

// GlobalAction follow-global/attack-global/stop-global/teleport
func (c *Client) GlobalAction(ctx context.Context, action, target string) (*Reply, error) {
	var opt *restclient.RequestOptions
	if target != "" {
		opt = &restclient.RequestOptions{Data: map[string]string{"target": target}}
	}
	var out Reply
	if err := c.http.Do(ctx, http.MethodPost, "/api/bots/"+action, opt, &out); err != nil {
		return nil, errors.Wrap(err, action)
	}
	return &out, nil
}

// SendCommand botID 为空时下发全体命令
func (c *Client) SendCommand(ctx context.Context, botID, text string) (*Reply, error) {
	cmd := domain.Command{Type: domain.CommandGlobal, Command: text}
	if botID != "" {
		cmd.Type = domain.CommandIndividual
		cmd.BotID = botID
	}
	var out Reply
	if err := c.http.Do(ctx, http.MethodPost, "/api/commands", &restclient.RequestOptions{Data: cmd}, &out); err != nil {
		return nil, errors.Wrap(err, "send command")
	}
	return &out, nil
}

func (c *Client) Logs(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	var out []domain.LogEntry
	opt := &restclient.RequestOptions{Params: map[string]any{"limit": limit}}
	if err := c.http.Do(ctx, http.MethodGet, "/api/logs", opt, &out); err != nil {
		return nil, errors.Wrap(err, "logs")
	}
	return out, nil
}

func (c *Client) ClearLogs(ctx context.Context) error {
	return errors.Wrap(c.http.Do(ctx, http.MethodDelete, "/api/logs", nil, nil), "clear logs")
}

// IsNotFound 服务端返回 404
func IsNotFound(err error) bool {
	return restclient.StatusOf(err) == http.StatusNotFound
}
