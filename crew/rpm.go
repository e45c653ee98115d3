package crew

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RPMController 按 60 秒窗口限制 LLM 调用频率。
// 令牌桶：容量 maxRPM，每分钟回填 maxRPM 个令牌。
// 执行器在每次 LLM 调用前协作式等待。
type RPMController struct {
	maxRPM  int
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRPMController 创建限流器。maxRPM <= 0 表示不限流。
func NewRPMController(maxRPM int, logger *zap.Logger) *RPMController {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &RPMController{maxRPM: maxRPM, logger: logger.With(zap.String("component", "rpm_controller"))}
	if maxRPM > 0 {
		// 每秒 maxRPM/60 个令牌，突发容量为整个窗口
		c.limiter = rate.NewLimiter(rate.Limit(float64(maxRPM)/60.0), maxRPM)
	}
	return c
}

// CheckOrWait 取得一个调用额度，窗口耗尽时阻塞到下一个窗口
func (c *RPMController) CheckOrWait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if c.limiter.Tokens() < 1 {
		c.logger.Info("max rpm reached, waiting for next minute to start")
	}
	return c.limiter.Wait(ctx)
}

// MaxRPM 配置的上限
func (c *RPMController) MaxRPM() int { return c.maxRPM }
