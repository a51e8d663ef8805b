package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cyroid/backend/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	agentUserAgent = "cyroid-control-plane/1.0"
	// 代理请求速率上限（每秒）
	agentRateLimit = 20
)

// AgentClient 运行时代理的HTTP客户端
//
//	PUT    /v1/ranges/{id}  创建或替换靶场
//	DELETE /v1/ranges/{id}  销毁靶场
//	GET    /v1/ranges       列出靶场ID
type AgentClient struct {
	resty   *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type listRangesResponse struct {
	RangeIDs []uuid.UUID `json:"range_ids"`
}

type agentError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewAgentClient 创建代理客户端
func NewAgentClient(cfg *config.RuntimeConfig, logger *zap.Logger) *AgentClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryCount
	retryClient.Logger = nil

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.AgentURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("User-Agent", agentUserAgent).
		SetHeader("Content-Type", "application/json").
		SetError(&agentError{}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})

	client.SetTransport(retryClient.HTTPClient.Transport)

	return &AgentClient{
		resty:   client,
		limiter: rate.NewLimiter(rate.Limit(agentRateLimit), agentRateLimit),
		logger:  logger,
	}
}

// Provision 下发靶场规格
func (c *AgentClient) Provision(ctx context.Context, spec *RangeSpec) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.resty.R().
		SetContext(ctx).
		SetPathParam("id", spec.RangeID.String()).
		SetBody(spec).
		Put("/v1/ranges/{id}")
	if err != nil {
		return fmt.Errorf("failed to provision range %s: %w", spec.RangeID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to provision range %s: %w", spec.RangeID, responseError(resp))
	}

	c.logger.Info("Range provisioned",
		zap.String("range_id", spec.RangeID.String()),
		zap.Int("networks", len(spec.Networks)),
		zap.Int("vms", len(spec.VMs)),
	)
	return nil
}

// Destroy 销毁靶场，代理返回404视为已销毁
func (c *AgentClient) Destroy(ctx context.Context, rangeID uuid.UUID) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.resty.R().
		SetContext(ctx).
		SetPathParam("id", rangeID.String()).
		Delete("/v1/ranges/{id}")
	if err != nil {
		return fmt.Errorf("failed to destroy range %s: %w", rangeID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		c.logger.Debug("Range already absent on runtime", zap.String("range_id", rangeID.String()))
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("failed to destroy range %s: %w", rangeID, responseError(resp))
	}

	c.logger.Info("Range destroyed", zap.String("range_id", rangeID.String()))
	return nil
}

// ListRangeIDs 列出运行时上的靶场
func (c *AgentClient) ListRangeIDs(ctx context.Context) ([]uuid.UUID, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result listRangesResponse
	resp, err := c.resty.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v1/ranges")
	if err != nil {
		return nil, fmt.Errorf("failed to list ranges: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to list ranges: %w", responseError(resp))
	}

	return result.RangeIDs, nil
}

func responseError(resp *resty.Response) error {
	if e, ok := resp.Error().(*agentError); ok && e != nil && (e.Error != "" || e.Message != "") {
		return fmt.Errorf("agent returned %d: %s: %s", resp.StatusCode(), e.Error, e.Message)
	}
	return fmt.Errorf("agent returned %d: %s", resp.StatusCode(), resp.String())
}
