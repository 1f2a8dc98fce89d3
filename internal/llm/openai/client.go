package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"OpenHive-Swarm/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Generate 调用 OpenAI 生成结构化的迭代规划。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("OpenAI 响应内容为空")
	}

	var structured struct {
		Thought     string           `json:"thought"`
		Plan        string           `json:"plan"`
		Assignments []llm.Assignment `json:"assignments"`
	}
	if err := json.Unmarshal([]byte(content), &structured); err != nil {
		// 非 JSON 输出时退化为纯文本计划，子任务分配交由调用方兜底。
		structured.Plan = content
	}
	if strings.TrimSpace(structured.Plan) == "" {
		structured.Plan = content
	}

	return &llm.Response{
		Thought:     structured.Thought,
		Plan:        structured.Plan,
		Assignments: structured.Assignments,
	}, nil
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := []message{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: buildUserPrompt(req),
		},
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.2,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are the queen planner of an agent swarm. " +
	"Given the task instructions and the available workers, break the work into one subtask per worker. " +
	"Always respond with a compact JSON object: " +
	"{\"thought\": string, \"plan\": string, \"assignments\": [{\"agent_id\": string, \"subtask\": string}]}."

func buildUserPrompt(req llm.Request) string {
	var builder strings.Builder
	builder.WriteString("## 任务指令\n")
	builder.WriteString(strings.TrimSpace(req.Instructions))
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("\n当前迭代: %d\n", req.IterationNum))

	if synthesis := strings.TrimSpace(req.PriorSynthesis); synthesis != "" {
		builder.WriteString("\n## 上一轮汇总\n")
		builder.WriteString(truncate(synthesis))
		builder.WriteString("\n")
		builder.WriteString(fmt.Sprintf("上一轮质量评分: %.2f\n", req.QualityScore))
		builder.WriteString("请针对评分不足之处细化本轮分工。\n")
	}

	builder.WriteString("\n## 可用工作智能体\n")
	for idx, worker := range req.Workers {
		builder.WriteString(fmt.Sprintf("[%d] id=%s name=%s specialties=%s\n",
			idx+1,
			worker.ID,
			worker.Name,
			strings.Join(worker.Specialties, ","),
		))
	}

	builder.WriteString("\n请给出 thought、整体 plan，以及每个 agent_id 对应的 subtask。")
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 200 {
		return string([]rune(text)[:200]) + "..."
	}
	return text
}

var _ llm.Client = (*Client)(nil)
