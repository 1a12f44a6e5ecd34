// Package facebook 是 Graph API 的 HTTP 客户端。所有调用都经过限流器与熔断器，
// 失败时返回 ExternalApiError，从不返回替代数据。
package facebook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"northsea/internal/apperr"
	"northsea/internal/config"
	"northsea/internal/pkg/metrics"
	"northsea/internal/pkg/ratelimit"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	breakerName     = "graph-api"
	maxResponseBody = 4 << 20
)

// Client 调用 Graph API。
type Client struct {
	cfg     config.FacebookConfig
	http    *http.Client
	limiter ratelimit.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// Option 配置 Client。
type Option func(*Client)

// WithHTTPClient 替换底层 http.Client（测试用）。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient 创建 Graph 客户端；limiter 为 nil 时不限流。
func NewClient(cfg config.FacebookConfig, limiter ratelimit.Limiter, logger *slog.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v18.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.With(slog.String("component", "graph")),
	}
	for _, opt := range opts {
		opt(c)
	}

	metrics.GraphBreakerState.Set(0)
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// 上游 4xx 是请求本身的问题，不计入熔断。
		IsSuccessful: func(err error) bool {
			return err == nil || isClientFault(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.GraphBreakerState.Set(stateToFloat(to))
		},
	})
	return c
}

// Enabled reports whether an access token is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.Enabled()
}

// NetworkStatus 根据熔断器状态给出 good / degraded / offline。
func (c *Client) NetworkStatus() string {
	if !c.Enabled() {
		return "good"
	}
	switch c.cb.State() {
	case gobreaker.StateHalfOpen:
		return "degraded"
	case gobreaker.StateOpen:
		return "offline"
	}
	return "good"
}

// Me 返回令牌所属用户，用作连通性测试。
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.get(ctx, "me", "/me", url.Values{"fields": {"id,name"}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserInfo 返回用户资料，id 为空时查询 me。
func (c *Client) UserInfo(ctx context.Context, id string) (*User, error) {
	if id == "" {
		id = "me"
	}
	var out User
	q := url.Values{"fields": {"id,name,email,picture"}}
	if err := c.get(ctx, "user_info", "/"+url.PathEscape(id), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PageInfo 返回主页资料。
func (c *Client) PageInfo(ctx context.Context, pageID string) (*Page, error) {
	if strings.TrimSpace(pageID) == "" {
		return nil, apperr.Validation("page id is required", nil)
	}
	var out Page
	q := url.Values{"fields": {"id,name,category,followers_count,fan_count"}}
	if err := c.get(ctx, "page_info", "/"+url.PathEscape(pageID), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchPages 按关键字搜索主页。
func (c *Client) SearchPages(ctx context.Context, query string, limit int) ([]Page, error) {
	var out List[Page]
	if err := c.search(ctx, "search_pages", query, "page", limit, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// SearchGroups 按关键字搜索公开群组。
func (c *Client) SearchGroups(ctx context.Context, query string, limit int) ([]Group, error) {
	var out List[Group]
	if err := c.search(ctx, "search_groups", query, "group", limit, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) search(ctx context.Context, op, query, kind string, limit int, out any) error {
	if strings.TrimSpace(query) == "" {
		return apperr.Validation("q is required", nil)
	}
	q := url.Values{
		"q":     {query},
		"type":  {kind},
		"limit": {strconv.Itoa(clampLimit(limit, 10))},
	}
	return c.get(ctx, op, "/search", q, out)
}

// PagePosts 返回主页最近的帖子及互动统计。
func (c *Client) PagePosts(ctx context.Context, pageID string, limit int) ([]Post, error) {
	if strings.TrimSpace(pageID) == "" {
		return nil, apperr.Validation("page id is required", nil)
	}
	var out List[Post]
	q := url.Values{
		"fields": {"id,message,created_time,likes.summary(true),comments.summary(true),shares"},
		"limit":  {strconv.Itoa(clampLimit(limit, 25))},
	}
	if err := c.get(ctx, "page_posts", "/"+url.PathEscape(pageID)+"/posts", q, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// AdInsights 返回广告账户最近 6 个月的汇总数据。
func (c *Client) AdInsights(ctx context.Context, accountID string) ([]AdInsight, error) {
	accountID = strings.TrimPrefix(strings.TrimSpace(accountID), "act_")
	if accountID == "" {
		return nil, apperr.Validation("ad account id is required", nil)
	}
	q := url.Values{
		"fields":      {"impressions,clicks,spend,ctr,cpc,reach,frequency"},
		"date_preset": {"last_6_months"},
	}
	var out List[AdInsight]
	if err := c.get(ctx, "ad_insights", "/act_"+url.PathEscape(accountID)+"/insights", q, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// DebugToken 用应用令牌检查当前访问令牌的有效期与权限。
func (c *Client) DebugToken(ctx context.Context) (*TokenInfo, error) {
	if c.cfg.AppID == "" || c.cfg.AppSecret == "" {
		return nil, apperr.Unavailable("facebook app id/secret are not configured")
	}
	q := url.Values{"input_token": {c.cfg.AccessToken}}
	var out struct {
		Data TokenInfo `json:"data"`
	}
	appToken := c.cfg.AppID + "|" + c.cfg.AppSecret
	if err := c.do(ctx, "debug_token", "/debug_token", q, appToken, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// ExchangeToken 把当前令牌换成长期令牌。调用方负责持久化新令牌。
func (c *Client) ExchangeToken(ctx context.Context) (*LongLivedToken, error) {
	if c.cfg.AppID == "" || c.cfg.AppSecret == "" {
		return nil, apperr.Unavailable("facebook app id/secret are not configured")
	}
	q := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.cfg.AppID},
		"client_secret":     {c.cfg.AppSecret},
		"fb_exchange_token": {c.cfg.AccessToken},
	}
	var out LongLivedToken
	if err := c.do(ctx, "exchange_token", "/oauth/access_token", q, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	return c.do(ctx, op, path, q, c.cfg.AccessToken, out)
}

func (c *Client) do(ctx context.Context, op, path string, q url.Values, bearer string, out any) error {
	if !c.Enabled() {
		return apperr.Unavailable("facebook access token is not configured")
	}
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			metrics.GraphRequestsTotal.WithLabelValues(op, "rate_limited").Inc()
			if errors.Is(err, ratelimit.ErrRateLimitTimeout) {
				return apperr.Unavailable("graph api rate limit exceeded")
			}
			return fmt.Errorf("acquire graph token: %w", err)
		}
	}

	start := time.Now()
	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.send(ctx, path, q, bearer)
	})
	metrics.GraphRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.GraphRequestsTotal.WithLabelValues(op, "rejected").Inc()
			return apperr.ExternalAPI("graph api circuit open", nil, err)
		}
		metrics.GraphRequestsTotal.WithLabelValues(op, "error").Inc()
		c.logger.Warn("graph request failed", slog.String("op", op), slog.String("error", err.Error()))
		if isThrottled(err) {
			c.hold(ctx, op)
		}
		return err
	}
	metrics.GraphRequestsTotal.WithLabelValues(op, "ok").Inc()

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.ExternalAPI("graph api returned malformed json", nil, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, path string, q url.Values, bearer string) ([]byte, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + c.cfg.APIVersion + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build graph request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.ExternalAPI(err.Error(), nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, apperr.ExternalAPI(err.Error(), nil, err)
	}
	if gerr := parseGraphError(resp.StatusCode, body); gerr != nil {
		return nil, gerr
	}
	return body, nil
}

// parseGraphError 识别非 2xx 或带 error 字段的响应。
func parseGraphError(status int, body []byte) error {
	var payload graphErrorBody
	decodeErr := json.Unmarshal(body, &payload)
	if decodeErr == nil && payload.Error != nil && payload.Error.Message != "" {
		e := payload.Error
		return apperr.ExternalAPI(e.Message, &apperr.UpstreamDetail{
			Status:    status,
			Type:      e.Type,
			Code:      e.Code,
			Subcode:   e.ErrorSubcode,
			FBTraceID: e.FBTraceID,
		}, nil)
	}
	if status >= 200 && status < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(bytes.TrimSpace(body)))
	if msg == "" || len(msg) > 256 {
		msg = http.StatusText(status)
	}
	return apperr.ExternalAPI(fmt.Sprintf("graph api http %d: %s", status, msg), &apperr.UpstreamDetail{Status: status}, nil)
}

// Graph 的配额错误码：应用级 4、用户级 17、令牌级 32、单接口 613。
var throttleCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}

func isThrottled(err error) bool {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return false
	}
	detail, ok := ae.Details.(*apperr.UpstreamDetail)
	return ok && (throttleCodes[detail.Code] || detail.Status == http.StatusTooManyRequests)
}

// hold 暂停所有实例的 Graph 调用，失败只记录日志。
func (c *Client) hold(ctx context.Context, op string) {
	if c.limiter == nil || c.cfg.ThrottlePause <= 0 {
		return
	}
	if err := c.limiter.Throttle(context.WithoutCancel(ctx), c.cfg.ThrottlePause); err != nil {
		c.logger.Error("place graph hold failed", slog.String("op", op), slog.String("error", err.Error()))
		return
	}
	c.logger.Warn("graph quota exhausted, holding calls",
		slog.String("op", op),
		slog.String("pause", c.cfg.ThrottlePause.String()))
}

func isClientFault(err error) bool {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return false
	}
	if ae.Kind == apperr.KindValidation {
		return true
	}
	detail, ok := ae.Details.(*apperr.UpstreamDetail)
	return ok && detail.Status >= 400 && detail.Status < 500 && detail.Status != http.StatusTooManyRequests
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
