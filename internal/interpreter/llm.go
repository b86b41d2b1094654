package interpreter

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/betbot/botfleet/pkg/restclient"
	"github.com/pkg/errors"
)

const systemPrompt = "You are a Minecraft bot controller. Respond briefly and helpfully to commands about managing Minecraft bots. Keep responses short and action-oriented."

// Completer 自由文本的回复生成器
type Completer interface {
	Complete(ctx context.Context, message string) (string, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// ChatClient OpenAI 兼容的 /chat/completions 客户端
type ChatClient struct {
	http  *restclient.Client
	model string
}

// NewChatClient baseURL 形如 https://api.openai.com/v1
func NewChatClient(baseURL, apiKey, model string, timeout time.Duration) *ChatClient {
	return &ChatClient{
		http: restclient.NewClient(baseURL, restclient.Options{
			Timeout:    timeout,
			RetryCount: 1,
			Headers:    map[string]string{"Authorization": "Bearer " + apiKey},
		}),
		model: model,
	}
}

// Complete 返回第一条候选的内容（可能为空串）
func (c *ChatClient) Complete(ctx context.Context, message string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: message},
		},
	}
	var resp chatResponse
	if err := c.http.Do(ctx, http.MethodPost, "/chat/completions", &restclient.RequestOptions{Data: req}, &resp); err != nil {
		return "", errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
