package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/internal/metrics"
	"github.com/BaSui01/crewflow/internal/telemetry"
	"github.com/BaSui01/crewflow/llm/tokenizer"
)

// usableWindowRatio 可用上下文窗口占总窗口的比例
const usableWindowRatio = 0.85

// retryBaseDelay 指数退避的基础间隔
const retryBaseDelay = 500 * time.Millisecond

// Client 把 Provider、配置与用量统计组合成执行器可用的句柄。
// 负责：重试与退避、stop 词截断、token 统计、tracing 埋点。
type Client struct {
	provider  Provider
	config    Config
	usage     *UsageTracker
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewClient 创建 LLM 句柄
func NewClient(provider Provider, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		provider:  provider,
		config:    cfg,
		usage:     NewUsageTracker(),
		tokenizer: tokenizer.ForModel(cfg.Model),
		logger:    logger.With(zap.String("component", "llm"), zap.String("model", cfg.Model)),
	}
}

// Provider 返回底层 Provider
func (c *Client) Provider() Provider { return c.provider }

// Config 返回配置副本
func (c *Client) Config() Config { return c.config }

// Model 返回模型名
func (c *Client) Model() string { return c.config.Model }

// SupportsFunctionCalling 透传能力查询
func (c *Client) SupportsFunctionCalling() bool { return c.provider.SupportsFunctionCalling() }

// SupportsStopWords 透传能力查询
func (c *Client) SupportsStopWords() bool { return c.provider.SupportsStopWords() }

// SupportsMultimodal 透传能力查询
func (c *Client) SupportsMultimodal() bool { return c.provider.SupportsMultimodal() }

// ContextWindowSize 上下文窗口大小
func (c *Client) ContextWindowSize() int { return c.provider.ContextWindowSize() }

// UsableContextWindowSize 可用窗口：总窗口的 85%，受配置上下界约束
func (c *Client) UsableContextWindowSize() int {
	usable := int(float64(c.provider.ContextWindowSize()) * usableWindowRatio)
	if c.config.ContextWindowFloor > 0 && usable < c.config.ContextWindowFloor {
		usable = c.config.ContextWindowFloor
	}
	if c.config.ContextWindowCeiling > 0 && usable > c.config.ContextWindowCeiling {
		usable = c.config.ContextWindowCeiling
	}
	return usable
}

// CountTokens 估算消息列表的 token 数
func (c *Client) CountTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += c.tokenizer.CountTokens(m.Content) + tokenizer.MessageOverhead
	}
	return total
}

// Usage 返回累计用量快照
func (c *Client) Usage() Usage { return c.usage.Snapshot() }

// ResetUsage 清零累计用量
func (c *Client) ResetUsage() { c.usage.Reset() }

// Call 发起调用。瞬时失败按指数退避重试，超过 MaxRetryLimit 升级为致命错误。
func (c *Client) Call(ctx context.Context, messages []Message, tools []ToolSchema) (*Response, error) {
	ctx, span := telemetry.StartSpan(ctx, "llm.call",
		attribute.String("llm.model", c.config.Model),
		attribute.Int("llm.messages", len(messages)),
		attribute.Int("llm.tools", len(tools)),
	)

	opts := c.config.callOptions()
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	var resp *Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = c.provider.Call(ctx, messages, tools, opts)
		if err == nil {
			break
		}
		if !IsRetryable(err) || attempt >= c.config.MaxRetryLimit {
			metrics.LLMCallsTotal.WithLabelValues(c.config.Model, "error").Inc()
			telemetry.EndSpan(span, err)
			return nil, fmt.Errorf("llm call failed after %d attempts: %w", attempt+1, err)
		}

		delay := retryBaseDelay << attempt
		c.logger.Warn("transient llm failure, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			telemetry.EndSpan(span, ctx.Err())
			return nil, ctx.Err()
		}
	}

	if len(c.config.Stop) > 0 && !c.provider.SupportsStopWords() {
		resp.Text = truncateAtStopWords(resp.Text, c.config.Stop)
	}

	c.usage.Record(resp.Usage)
	metrics.LLMCallsTotal.WithLabelValues(c.config.Model, "ok").Inc()
	metrics.LLMTokensTotal.WithLabelValues(c.config.Model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues(c.config.Model, "completion").Add(float64(resp.Usage.CompletionTokens))
	telemetry.EndSpan(span, nil)
	return resp, nil
}

// CallAsync 非阻塞调用。Provider 实现了 AsyncProvider 时直接透传，
// 否则把同步调用包进 goroutine。
func (c *Client) CallAsync(ctx context.Context, messages []Message, tools []ToolSchema) <-chan CallResult {
	if ap, ok := c.provider.(AsyncProvider); ok {
		return ap.CallAsync(ctx, messages, tools, c.config.callOptions())
	}
	ch := make(chan CallResult, 1)
	go func() {
		resp, err := c.Call(ctx, messages, tools)
		ch <- CallResult{Response: resp, Err: err}
		close(ch)
	}()
	return ch
}
