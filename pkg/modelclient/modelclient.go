// Package modelclient implements ModelClient (§4.10): a thin facade over
// an OpenAI-compatible chat/completions endpoint serving a vision-language
// model, used in three modes (action, predict, reflect) that differ only in
// how the raw streamed content is interpreted, not in the wire request.
package modelclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/autoglm/phoneagent/pkg/httpclient"
	"github.com/autoglm/phoneagent/pkg/observability"
	"github.com/autoglm/phoneagent/pkg/promptctx"
)

// Mode names the kind of call (§4.10). It labels the call's metrics; the
// request and the thinking/answer split are the same in every mode, and
// callers read the Response field their mode needs.
type Mode string

const (
	ModeAction  Mode = "action"
	ModePredict Mode = "predict"
	ModeReflect Mode = "reflect"
)

// answerMarker is the buffered marker separating "thinking" from the
// answer block in action/predict mode (§4.10).
const answerMarker = "<answer>"

// Config configures a Client (§4.10's `{base_url, api_key, model, max_tokens,
// temperature, top_p, frequency_penalty}`).
type Config struct {
	BaseURL          string
	APIKey           string
	Model            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
}

// Metrics are the per-call performance numbers §4.10 requires recording.
type Metrics struct {
	TimeToFirstToken  time.Duration
	TimeToThinkingEnd time.Duration // zero if no answerMarker was ever seen
	TotalTime         time.Duration
}

// Response is one model call's parsed result.
type Response struct {
	Thinking   string
	Answer     string
	RawContent string
	Metrics    Metrics
}

// Client calls an OpenAI-compatible /chat/completions endpoint with
// streaming enabled, over the shared retrying HTTP transport.
type Client struct {
	cfg     Config
	http    *httpclient.Client
	metrics *observability.ModelMetrics
}

// New builds a Client bound to cfg. metrics may be nil (e.g. in tests or
// when the prometheus exporter isn't wired up); calls are simply not
// recorded in that case.
func New(cfg Config, metrics *observability.ModelMetrics) *Client {
	return &Client{
		cfg: cfg,
		http: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
		),
		metrics: metrics,
	}
}

// Plan implements planner.Requester: a single text completion with no image.
func (c *Client) Plan(ctx context.Context, systemPrompt, userText string) (string, error) {
	resp, err := c.request(ctx, []message{
		systemMessage(systemPrompt),
		userMessage(userText, nil),
	}, ModeAction)
	if err != nil {
		return "", err
	}
	return resp.RawContent, nil
}

// Reflect implements reflection.Requester: a 3-message prompt comparing a
// before and after screenshot (§4.9's slow path).
func (c *Client) Reflect(ctx context.Context, systemPrompt, userText string, beforePNG, afterPNG []byte) (string, error) {
	resp, err := c.request(ctx, []message{
		systemMessage(systemPrompt),
		userMessage(userText, beforePNG),
		userMessage("", afterPNG),
	}, ModeReflect)
	if err != nil {
		return "", err
	}
	return resp.RawContent, nil
}

// Act performs an action-mode call against a fully rendered StructuredContext
// (§4.11 step 5: "build prompt" then "VLM action"). messages is exactly
// StructuredContext.ToMessages()'s output, so History/Reflection/
// SpeculativeContext/Screenshot/ScreenInfo all travel to the wire as the
// multi-message prompt §4.3 builds, not a single flattened text+image pair.
// The returned Answer is the text between the answerMarker and end-of-stream,
// ready for action.Parse; thinking/answer separation and do(...)/finish(...)
// grammar parsing stay split across packages rather than duplicated here.
func (c *Client) Act(ctx context.Context, messages []promptctx.Message) (Response, error) {
	return c.requestPrompt(ctx, messages, ModeAction)
}

// Predict is Act's predict-mode counterpart (§4.8's speculative block is
// rendered separately; this mode exists for completeness but is not on the
// canonical AgentLoop path — see spec's "not required in the canonical flow").
func (c *Client) Predict(ctx context.Context, messages []promptctx.Message) (Response, error) {
	return c.requestPrompt(ctx, messages, ModePredict)
}

type message struct {
	role  string
	text  string
	image []byte
}

func systemMessage(text string) message { return message{role: "system", text: text} }

func userMessage(text string, imagePNG []byte) message {
	return message{role: "user", text: text, image: imagePNG}
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type wireContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

func (m message) toWire() wireMessage {
	if len(m.image) == 0 {
		return wireMessage{Role: m.role, Content: m.text}
	}
	parts := []wireContentPart{
		{Type: "image_url", ImageURL: &wireImageURL{
			URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(m.image),
		}},
	}
	if m.text != "" {
		parts = append(parts, wireContentPart{Type: "text", Text: m.text})
	}
	return wireMessage{Role: m.role, Content: parts}
}

// promptMessageToWire converts a rendered StructuredContext message
// (promptctx.Message) to this package's wire shape. promptctx already
// stores ImageURL as a complete "data:image/png;base64,..." string, so no
// re-encoding is needed here.
func promptMessageToWire(m promptctx.Message) wireMessage {
	if len(m.Parts) == 0 {
		return wireMessage{Role: m.Role, Content: m.Content}
	}
	parts := make([]wireContentPart, len(m.Parts))
	for i, p := range m.Parts {
		part := wireContentPart{Type: p.Type, Text: p.Text}
		if p.ImageURL != "" {
			part.ImageURL = &wireImageURL{URL: p.ImageURL}
		}
		parts[i] = part
	}
	return wireMessage{Role: m.Role, Content: parts}
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []wireMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p,omitempty"`
	FrequencyPenalty float64       `json:"frequency_penalty,omitempty"`
	Stream           bool          `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// request streams a chat/completions call and splits the raw content into
// thinking/answer by the first occurrence of answerMarker, recording the
// three metrics §4.10 names. mode only affects which fields a caller reads
// off the Response; the wire request is identical across modes.
func (c *Client) request(ctx context.Context, messages []message, mode Mode) (Response, error) {
	wire := make([]wireMessage, len(messages))
	for i, m := range messages {
		wire[i] = m.toWire()
	}
	return c.stream(ctx, wire, mode)
}

// requestPrompt is request's StructuredContext-driven counterpart, used by
// Act/Predict.
func (c *Client) requestPrompt(ctx context.Context, messages []promptctx.Message, mode Mode) (Response, error) {
	wire := make([]wireMessage, len(messages))
	for i, m := range messages {
		wire[i] = promptMessageToWire(m)
	}
	return c.stream(ctx, wire, mode)
}

// stream performs the actual streaming chat/completions round-trip shared by
// request and requestPrompt.
func (c *Client) stream(ctx context.Context, wire []wireMessage, mode Mode) (Response, error) {
	tracer := observability.GetTracer("phoneagent.modelclient")
	ctx, span := tracer.Start(ctx, observability.SpanModelChat)
	defer span.End()

	start := time.Now()

	body, err := json.Marshal(chatRequest{
		Model:            c.cfg.Model,
		Messages:         wire,
		MaxTokens:        c.cfg.MaxTokens,
		Temperature:      c.cfg.Temperature,
		TopP:             c.cfg.TopP,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
		Stream:           true,
	})
	if err != nil {
		return Response{}, fmt.Errorf("modelclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("modelclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("modelclient: call chat/completions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("modelclient: chat/completions returned %d: %s", resp.StatusCode, raw)
	}

	var (
		raw               strings.Builder
		metrics           Metrics
		firstTokenSeen    bool
		thinkingEndMarked bool
	)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSpace(line)
			if data, ok := bytes.CutPrefix(line, []byte("data: ")); ok {
				if string(data) == "[DONE]" {
					break
				}
				var chunk streamChunk
				if jsonErr := json.Unmarshal(data, &chunk); jsonErr == nil && len(chunk.Choices) > 0 {
					if content := chunk.Choices[0].Delta.Content; content != "" {
						if !firstTokenSeen {
							metrics.TimeToFirstToken = time.Since(start)
							firstTokenSeen = true
						}
						raw.WriteString(content)
						if !thinkingEndMarked && strings.Contains(raw.String(), answerMarker) {
							metrics.TimeToThinkingEnd = time.Since(start)
							thinkingEndMarked = true
						}
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return Response{}, fmt.Errorf("modelclient: read stream: %w", err)
		}
	}
	metrics.TotalTime = time.Since(start)
	c.metrics.RecordCall(ctx, string(mode), metrics.TimeToFirstToken, metrics.TimeToThinkingEnd, metrics.TotalTime)

	rawContent := raw.String()
	thinking, answer := splitAnswer(rawContent)

	return Response{
		Thinking:   thinking,
		Answer:     answer,
		RawContent: rawContent,
		Metrics:    metrics,
	}, nil
}

// splitAnswer implements §4.10's action-mode split: everything before the
// first answerMarker is thinking, everything after (with the closing tag
// stripped, if present) is the answer.
func splitAnswer(content string) (thinking, answer string) {
	idx := strings.Index(content, answerMarker)
	if idx < 0 {
		return "", content
	}
	thinking = strings.TrimSpace(content[:idx])
	answer = content[idx+len(answerMarker):]
	answer = strings.TrimSuffix(strings.TrimSpace(answer), "</answer>")
	return thinking, strings.TrimSpace(answer)
}
