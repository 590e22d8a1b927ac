// Package assistant 对话助手（Assistants API）客户端：线程、消息、运行轮询与工具调用
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/entrega-next/internal/gateway"
	"github.com/entrega-next/internal/logger"
)

// Config 助手配置
type Config struct {
	APIURL       string
	APIKey       string
	AssistantID  string
	PollInterval time.Duration
	MaxPolls     int
}

// Client 助手客户端
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient 创建客户端
func NewClient(cfg Config, httpClient *http.Client) *Client {
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type objectID struct {
	ID string `json:"id"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type run struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		Type              string `json:"type"`
		SubmitToolOutputs struct {
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

type toolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// OpenThread 新建对话线程
func (c *Client) OpenThread(ctx context.Context) (string, error) {
	var created objectID
	if err := gateway.DoJSON(ctx, c.http, http.MethodPost, c.cfg.APIURL+"/threads", c.headers(), map[string]interface{}{}, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: thread response without id", gateway.ErrProviderError)
	}
	return created.ID, nil
}

// SendTurn 追加用户消息并运行助手，期间执行其请求的工具，返回解析后的结构化回复
func (c *Client) SendTurn(ctx context.Context, threadID, text string, turn gateway.TurnContext, tools gateway.ToolExecutor) (gateway.Reply, error) {
	threadURL := fmt.Sprintf("%s/threads/%s", c.cfg.APIURL, threadID)
	if err := gateway.DoJSON(ctx, c.http, http.MethodPost, threadURL+"/messages", c.headers(), map[string]interface{}{
		"role":     "user",
		"content":  text,
		"metadata": map[string]string{"identity": turn.Identity},
	}, nil); err != nil {
		return nil, err
	}

	var current run
	body := map[string]interface{}{"assistant_id": c.cfg.AssistantID}
	if instructions := buildInstructions(turn); instructions != "" {
		body["additional_instructions"] = instructions
	}
	if err := gateway.DoJSON(ctx, c.http, http.MethodPost, threadURL+"/runs", c.headers(), body, &current); err != nil {
		return nil, err
	}

	for polls := 0; ; polls++ {
		switch current.Status {
		case "completed":
			return c.latestReply(ctx, threadURL)
		case "requires_action":
			outputs := c.executeTools(ctx, current, tools)
			runURL := fmt.Sprintf("%s/runs/%s/submit_tool_outputs", threadURL, current.ID)
			if err := gateway.DoJSON(ctx, c.http, http.MethodPost, runURL, c.headers(), map[string]interface{}{
				"tool_outputs": outputs,
			}, &current); err != nil {
				return nil, err
			}
			continue
		case "queued", "in_progress", "cancelling":
		default:
			reason := current.Status
			if current.LastError != nil {
				reason = current.LastError.Code + ": " + current.LastError.Message
			}
			return nil, fmt.Errorf("%w: assistant run %s", gateway.ErrProviderError, reason)
		}
		if polls >= c.cfg.MaxPolls {
			return nil, fmt.Errorf("%w: assistant run still %s after %d polls", gateway.ErrProviderTimeout, current.Status, polls)
		}
		select {
		case <-ctx.Done():
			return nil, gateway.Normalize(ctx.Err())
		case <-time.After(c.cfg.PollInterval):
		}
		if err := gateway.DoJSON(ctx, c.http, http.MethodGet, fmt.Sprintf("%s/runs/%s", threadURL, current.ID), c.headers(), nil, &current); err != nil {
			return nil, err
		}
	}
}

func (c *Client) executeTools(ctx context.Context, current run, tools gateway.ToolExecutor) []toolOutput {
	if current.RequiredAction == nil {
		return []toolOutput{}
	}
	calls := current.RequiredAction.SubmitToolOutputs.ToolCalls
	outputs := make([]toolOutput, 0, len(calls))
	for _, call := range calls {
		var result interface{}
		if tools == nil {
			result = map[string]string{"error": "tools unavailable"}
		} else {
			value, err := tools.ExecuteTool(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			if err != nil {
				logger.Warnw("assistant_tool_failed", "tool", call.Function.Name, "error", err)
				result = map[string]string{"error": err.Error()}
			} else {
				result = value
			}
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			encoded = []byte(`{"error":"unserializable tool output"}`)
		}
		outputs = append(outputs, toolOutput{ToolCallID: call.ID, Output: string(encoded)})
	}
	return outputs
}

func (c *Client) latestReply(ctx context.Context, threadURL string) (gateway.Reply, error) {
	var list messageList
	if err := gateway.DoJSON(ctx, c.http, http.MethodGet, threadURL+"/messages?order=desc&limit=1", c.headers(), nil, &list); err != nil {
		return nil, err
	}
	for _, message := range list.Data {
		for _, content := range message.Content {
			if content.Type == "text" && strings.TrimSpace(content.Text.Value) != "" {
				return gateway.ParseReply(content.Text.Value), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: assistant returned no text", gateway.ErrProviderError)
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
		"OpenAI-Beta":   "assistants=v2",
	}
}

func buildInstructions(turn gateway.TurnContext) string {
	parts := make([]string, 0, 3)
	if turn.Name != "" {
		parts = append(parts, "Nome do cliente: "+turn.Name)
	}
	if turn.OpenOrderNo != "" {
		parts = append(parts, fmt.Sprintf("Pedido em aberto: %s (status %s)", turn.OpenOrderNo, turn.OrderStatus))
	}
	if turn.FinalPrice != "" {
		parts = append(parts, "Valor cotado: R$ "+turn.FinalPrice)
	}
	return strings.Join(parts, "\n")
}
