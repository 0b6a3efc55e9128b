package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type aiChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

type aiChatResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

type aiChatClient struct {
	settings             *SystemSettingService
	http                 httpDoer
	openAIBaseURL        string
	openAIModel          string
	deepSeekBaseURL      string
	deepSeekModel        string
	defaultOpenAIModel   string
	defaultDeepSeekModel string
}

func newAIChatClient(settings *SystemSettingService, defaultOpenAIModel, defaultDeepSeekModel string) *aiChatClient {
	return &aiChatClient{
		settings:             settings,
		http:                 &http.Client{Timeout: 180 * time.Second},
		openAIBaseURL:        "https://api.openai.com/v1",
		openAIModel:          strings.TrimSpace(defaultOpenAIModel),
		deepSeekBaseURL:      "https://api.deepseek.com/v1",
		deepSeekModel:        strings.TrimSpace(defaultDeepSeekModel),
		defaultOpenAIModel:   strings.TrimSpace(defaultOpenAIModel),
		defaultDeepSeekModel: strings.TrimSpace(defaultDeepSeekModel),
	}
}

func (c *aiChatClient) SetHTTPClient(client httpDoer) {
	if client == nil {
		c.http = &http.Client{Timeout: 180 * time.Second}
		return
	}
	c.http = client
}

func (c *aiChatClient) SetOpenAIBaseURL(base string) {
	c.openAIBaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
}

func (c *aiChatClient) SetDeepSeekBaseURL(base string) {
	c.deepSeekBaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
}

func (c *aiChatClient) SetOpenAIModel(model string) {
	model = strings.TrimSpace(model)
	if model == "" {
		return
	}
	c.openAIModel = model
}

func (c *aiChatClient) SetDeepSeekModel(model string) {
	model = strings.TrimSpace(model)
	if model == "" {
		return
	}
	c.deepSeekModel = model
}

type providerEndpoint struct {
	apiKey string
	base   string
	model  string
	label  string
}

func (c *aiChatClient) resolveProvider(settings SystemSettings) (providerEndpoint, error) {
	provider := normalizeAIProvider(settings.AIProvider)
	if provider == "" {
		provider = AIProviderOpenAI
	}

	var ep providerEndpoint
	switch provider {
	case AIProviderDeepSeek:
		ep.apiKey = strings.TrimSpace(settings.DeepSeekAPIKey)
		ep.base = c.deepSeekBaseURL
		if strings.TrimSpace(ep.base) == "" {
			ep.base = "https://api.deepseek.com/v1"
		}
		ep.model = c.deepSeekModel
		if strings.TrimSpace(ep.model) == "" {
			ep.model = c.defaultDeepSeekModel
		}
		ep.label = "DeepSeek"
	default:
		ep.apiKey = strings.TrimSpace(settings.OpenAIAPIKey)
		ep.base = c.openAIBaseURL
		if strings.TrimSpace(ep.base) == "" {
			ep.base = "https://api.openai.com/v1"
		}
		ep.model = c.openAIModel
		if strings.TrimSpace(ep.model) == "" {
			ep.model = c.defaultOpenAIModel
		}
		ep.label = "OpenAI"
	}

	if ep.apiKey == "" {
		return providerEndpoint{}, ErrAIAPIKeyMissing
	}
	return ep, nil
}

func (c *aiChatClient) doer() httpDoer {
	if c.http == nil {
		return http.DefaultClient
	}
	return c.http
}

func (c *aiChatClient) buildRequest(ctx context.Context, endpoint, apiKey, label string, payload interface{}) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 %s 请求失败: %w", label, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "draftflow-ai/1.0")
	return httpReq, nil
}

// call 读取当前系统设置后发起一次完整补全。
func (c *aiChatClient) call(ctx context.Context, req aiChatRequest) (aiChatResponse, error) {
	settings, err := c.settings.GetSettings()
	if err != nil {
		return aiChatResponse{}, fmt.Errorf("读取系统设置失败: %w", err)
	}
	return c.callWithSettings(ctx, settings, req)
}

func (c *aiChatClient) callWithSettings(ctx context.Context, settings SystemSettings, req aiChatRequest) (aiChatResponse, error) {
	ep, err := c.resolveProvider(settings)
	if err != nil {
		return aiChatResponse{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens < 0 {
		maxTokens = 0
	}

	payload := chatCompletionRequest{
		Model: ep.model,
		Messages: []chatMessage{
			{Role: "system", Content: strings.TrimSpace(req.SystemPrompt)},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	endpoint := strings.TrimRight(ep.base, "/") + "/chat/completions"
	httpReq, err := c.buildRequest(ctx, endpoint, ep.apiKey, ep.label, payload)
	if err != nil {
		return aiChatResponse{}, err
	}

	resp, err := c.doer().Do(httpReq)
	if err != nil {
		return aiChatResponse{}, fmt.Errorf("请求 %s 接口失败: %w", ep.label, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return aiChatResponse{}, fmt.Errorf("读取 %s 响应失败: %w", ep.label, err)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return aiChatResponse{}, fmt.Errorf("解析 %s 响应失败: %w", ep.label, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		errMsg := strings.TrimSpace(completion.Error.Message)
		if errMsg == "" {
			errMsg = strings.TrimSpace(string(respBody))
		}
		if errMsg == "" {
			errMsg = resp.Status
		}
		return aiChatResponse{}, fmt.Errorf("%s 接口返回错误：%s", ep.label, errMsg)
	}

	if len(completion.Choices) == 0 {
		return aiChatResponse{}, fmt.Errorf("%s 接口未返回结果", ep.label)
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	return aiChatResponse{
		Content:          content,
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
	}, nil
}

// stream 以流式方式发起补全，逐 token 推入返回的 TokenStream。
// token 顺序与模型产出完全一致，不做缓冲重排；
// 通道关闭代表流结束，此后 Err() 给出终止原因。
func (c *aiChatClient) stream(ctx context.Context, settings SystemSettings, req aiChatRequest) (*TokenStream, error) {
	ep, err := c.resolveProvider(settings)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens < 0 {
		maxTokens = 0
	}

	payload := chatCompletionRequest{
		Model: ep.model,
		Messages: []chatMessage{
			{Role: "system", Content: strings.TrimSpace(req.SystemPrompt)},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}

	endpoint := strings.TrimRight(ep.base, "/") + "/chat/completions"
	httpReq, err := c.buildRequest(ctx, endpoint, ep.apiKey, ep.label, payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.doer().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 接口失败: %w", ep.label, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var completion chatCompletionResponse
		_ = json.Unmarshal(respBody, &completion)
		errMsg := strings.TrimSpace(completion.Error.Message)
		if errMsg == "" {
			errMsg = strings.TrimSpace(string(respBody))
		}
		if errMsg == "" {
			errMsg = resp.Status
		}
		return nil, fmt.Errorf("%s 接口返回错误：%s", ep.label, errMsg)
	}

	stream := newTokenStream()
	go c.relayStream(resp.Body, ep.label, stream)
	return stream, nil
}

func (c *aiChatClient) relayStream(body io.ReadCloser, label string, stream *TokenStream) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			stream.finish(nil)
			return
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// 单帧解析失败不终止整条流，上游偶发脏帧可以跳过
			continue
		}

		if msg := strings.TrimSpace(chunk.Error.Message); msg != "" {
			stream.finish(fmt.Errorf("%s 流式接口返回错误：%s", label, msg))
			return
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			// 消费方已放弃时立即收尾，连接随 defer 关闭
			if !stream.push(choice.Delta.Content) {
				stream.finish(nil)
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		stream.finish(fmt.Errorf("读取 %s 流式响应失败: %w", label, err))
		return
	}
	stream.finish(nil)
}

// embed 对一批文本生成定长 embedding 向量，单次请求携带整个批量。
// DeepSeek 未提供 embedding 接口，向量统一走 OpenAI。
func (c *aiChatClient) embed(ctx context.Context, settings SystemSettings, inputs []string) ([][]float64, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	apiKey := strings.TrimSpace(settings.OpenAIAPIKey)
	if apiKey == "" {
		return nil, ErrAIAPIKeyMissing
	}

	base := c.openAIBaseURL
	if strings.TrimSpace(base) == "" {
		base = "https://api.openai.com/v1"
	}

	model := strings.TrimSpace(settings.EmbeddingModel)
	if model == "" {
		model = defaultEmbeddingModel
	}

	endpoint := strings.TrimRight(base, "/") + "/embeddings"
	httpReq, err := c.buildRequest(ctx, endpoint, apiKey, "OpenAI", embeddingRequest{
		Model: model,
		Input: inputs,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.doer().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI embedding 接口失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("读取 OpenAI embedding 响应失败: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("解析 OpenAI embedding 响应失败: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		errMsg := strings.TrimSpace(parsed.Error.Message)
		if errMsg == "" {
			errMsg = resp.Status
		}
		return nil, fmt.Errorf("OpenAI embedding 接口返回错误：%s", errMsg)
	}

	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("OpenAI embedding 返回数量不符：期望 %d，实际 %d", len(inputs), len(parsed.Data))
	}

	vectors := make([][]float64, len(inputs))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("OpenAI embedding 返回越界索引 %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
