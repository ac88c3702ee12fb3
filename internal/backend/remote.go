package backend

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

	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrRemoteStatus = errors.New("remote backend returned non-success status")
	ErrEmptyReply   = errors.New("remote backend returned an empty reply")
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// Remote is an optional chat oracle consulted before local resolution.
type Remote interface {
	Reply(ctx context.Context, message string) (string, error)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// HTTPRemote posts {"message"} to a chat endpoint and reads {"response"}.
type HTTPRemote struct {
	httpClient *http.Client
	endpoint   string
}

func NewHTTPRemote(endpoint string, timeout time.Duration) *HTTPRemote {
	return &HTTPRemote{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
	}
}

func (c *HTTPRemote) Reply(ctx context.Context, message string) (string, error) {
	body, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: %d %s", ErrRemoteStatus, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode remote reply: %w", err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", ErrEmptyReply
	}
	return out.Response, nil
}

const defaultSystemPrompt = `You are Abyss, the assistant on Alish Shrestha's portfolio site.
Alish is an 18-year-old AI student at Softwarica College (Coventry University) from Bhaktapur, Nepal.
Answer in one or two short, friendly sentences about Alish only.`

// OpenAIRemote answers through the chat completions API.
type OpenAIRemote struct {
	client *openai.Client
	model  string
	system string
}

func NewOpenAIRemote(client *openai.Client, model, system string) *OpenAIRemote {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}
	return &OpenAIRemote{client: client, model: model, system: system}
}

func (c *OpenAIRemote) Reply(ctx context.Context, message string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.4,
		MaxTokens:   200,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.system},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrEmptyReply)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}
