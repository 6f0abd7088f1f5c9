// Package llm wraps the model API behind a JSON-only caller and an
// executor that retries transport failures and feeds malformed responses
// back to the model.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = "你是金融行业法律法规合规审核助手，熟悉私募基金监管规则与合同审查实务。Respond with strict JSON only."

type failureClass int

const (
	failureNone failureClass = iota
	failureParse
	failureSchema
	failureEmpty
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
)

type Caller interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

type AnthropicCaller struct {
	messages AnthropicMessager
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicCallerFromEnv() (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey)}, nil
}

func (a *AnthropicCaller) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens:   4096,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// Metrics counts the attempts one executor call consumed.
type Metrics struct {
	Attempts       int
	ContentRetries int
}

type Executor struct {
	caller Caller
}

func NewExecutor(caller Caller) *Executor {
	return &Executor{caller: caller}
}

// Run prompts for JSON and decodes into out, validating with validate.
// Transport failures retry with a short backoff; malformed content retries
// with feedback; a parse failure on the final attempt goes through the
// lenient repair pass before giving up.
func (e *Executor) Run(ctx context.Context, name, prompt string, out any, validate func() error) (Metrics, error) {
	metrics := Metrics{}
	feedback := ""
	for attempt := 1; attempt <= 3; attempt++ {
		metrics.Attempts = attempt
		fullPrompt := prompt + "\n\n只输出符合要求的 JSON，不要输出其他内容。"
		if feedback != "" {
			fullPrompt += "\n\n" + feedback
		}

		raw, err := e.caller.GenerateJSON(ctx, fullPrompt)
		if err != nil {
			class := classifyTransportError(err)
			if class == failureTimeout || class == failureRateLimit || class == failureServer {
				if attempt < 3 {
					time.Sleep(backoffDelay(attempt))
					continue
				}
			}
			return metrics, fmt.Errorf("%s transport failure: %w", name, err)
		}

		raw = strings.TrimSpace(raw)
		if raw == "" {
			if attempt < 3 {
				metrics.ContentRetries++
				feedback = "上一次输出为空，请输出有效的 JSON。"
				continue
			}
			return metrics, fmt.Errorf("%s failed: empty response", name)
		}

		clean := StripCodeFences(raw)
		if err := json.Unmarshal([]byte(clean), out); err != nil {
			if repaired, ok := Repair(clean); ok && json.Unmarshal([]byte(repaired), out) == nil {
				// fallthrough to validation
			} else if attempt < 3 {
				metrics.ContentRetries++
				feedback = "上一次输出不是有效的 JSON，请只输出有效的 JSON。"
				continue
			} else {
				return metrics, fmt.Errorf("%s failed json parse: %w", name, err)
			}
		}
		if err := validate(); err != nil {
			if attempt < 3 {
				metrics.ContentRetries++
				feedback = fmt.Sprintf("上一次输出未通过校验：%s。请修正后重新输出。", err)
				continue
			}
			return metrics, fmt.Errorf("%s failed validation: %w", name, err)
		}
		return metrics, nil
	}
	return metrics, fmt.Errorf("%s failed after retries", name)
}

func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

func classifyTransportError(err error) failureClass {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, " 5") || strings.Contains(msg, "status code: 5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, " 4") || strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}
