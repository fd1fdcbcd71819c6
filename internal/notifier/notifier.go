package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/rewardsys/rewards-core/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableGateways = errors.New("no available gateways")
)

type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusBlocked   DeliveryStatus = "BLOCKED"
)

// deliverRequest is the payload posted to a bot gateway.
type deliverRequest struct {
	MessageID     string   `json:"message_id"`
	DestinationID int64    `json:"destination_id"`
	Text          string   `json:"text"`
	ButtonMarkup  string   `json:"button_markup,omitempty"`
	Attachments   []string `json:"attachments,omitempty"`
}

type deliverResponse struct {
	MessageID   string         `json:"message_id"`
	Status      DeliveryStatus `json:"status"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorMsg    string         `json:"error_message,omitempty"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}

type GatewayMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64
}

func (m *GatewayMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())
}

func (m *GatewayMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *GatewayMetrics) AvgLatencyMs() int64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / total
}

func (m *GatewayMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

type GatewayState int

const (
	StateHealthy GatewayState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

// Gateway is one bot-gateway endpoint the notifier can deliver through.
type Gateway struct {
	name             string
	url              string
	client           *fasthttp.Client
	metrics          *GatewayMetrics
	state            atomic.Int32
	weight           atomic.Int32
	circuitOpenUntil atomic.Int64
}

func newGateway(name, url string, weight int, client *fasthttp.Client) *Gateway {
	g := &Gateway{
		name:    name,
		url:     url,
		client:  client,
		metrics: &GatewayMetrics{},
	}
	g.state.Store(int32(StateHealthy))
	g.weight.Store(int32(weight))
	return g
}

func (g *Gateway) GetState() GatewayState {
	return GatewayState(g.state.Load())
}

func (g *Gateway) SetState(state GatewayState) {
	g.state.Store(int32(state))
}

func (g *Gateway) IsAvailable() bool {
	state := g.GetState()
	if state == StateCircuitOpen {
		if time.Now().Unix() > g.circuitOpenUntil.Load() {
			g.SetState(StateDegraded)
			return true
		}
		return false
	}
	return state != StateUnhealthy
}

// score ranks a gateway by success rate, latency and configured weight.
// Recent consecutive failures and a degraded state pull it down.
func (g *Gateway) score() float64 {
	if !g.IsAvailable() {
		return 0.0
	}

	successScore := g.metrics.SuccessRate() * 100

	latencyScore := 100.0
	if avg := g.metrics.AvgLatencyMs(); avg > 0 {
		latencyScore = 100.0 * (1.0 - (float64(avg) / 5000.0))
		if latencyScore < 0 {
			latencyScore = 0
		}
	}

	recentPenalty := 1.0 - (float64(g.metrics.ConsecutiveFails.Load()) * 0.1)
	if recentPenalty < 0.1 {
		recentPenalty = 0.1
	}

	statePenalty := 1.0
	switch g.GetState() {
	case StateDegraded:
		statePenalty = 0.5
	case StateUnhealthy, StateCircuitOpen:
		statePenalty = 0.0
	}

	return (successScore*0.4 + latencyScore*0.4 + float64(g.weight.Load())*0.2) * recentPenalty * statePenalty
}

type Config struct {
	Gateways                []GatewayConfig
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

type GatewayConfig struct {
	Name   string
	URL    string
	Weight int
}

// Client delivers notification messages through a weighted pool of bot
// gateways with per-gateway circuit breaking.
type Client struct {
	config   *Config
	gateways []*Gateway
	mu       sync.RWMutex
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Gateways) == 0 {
		return nil, errors.New("at least one gateway is required")
	}

	client := &Client{
		config:   config,
		gateways: make([]*Gateway, 0, len(config.Gateways)),
		stopCh:   make(chan struct{}),
	}

	for _, gc := range config.Gateways {
		httpClient := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		}
		client.gateways = append(client.gateways, newGateway(gc.Name, gc.URL, gc.Weight, httpClient))
		logger.Info("Gateway initialized", "name", gc.Name, "url", gc.URL, "weight", gc.Weight)
	}

	client.wg.Add(2)
	go client.healthChecker()
	go client.stateEvaluator()

	logger.Info("Notifier client initialized", "gateways", len(client.gateways), "timeout", config.Timeout)

	return client, nil
}

func (c *Client) selectBestGateway() (*Gateway, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Gateway
	var bestScore float64

	for _, g := range c.gateways {
		if !g.IsAvailable() {
			continue
		}
		if s := g.score(); s > bestScore {
			bestScore = s
			best = g
		}
	}

	if best == nil {
		return nil, ErrNoAvailableGateways
	}
	return best, nil
}

// Send delivers one notification, trying the best scoring gateway first
// and falling back on failure up to MaxRetries.
func (c *Client) Send(ctx context.Context, msg *model.NotificationMessage) error {
	req := deliverRequest{
		MessageID:     fmt.Sprintf("mailing-msg-%d", msg.MailingMessageID),
		DestinationID: msg.DestinationID,
		Text:          msg.Text,
		ButtonMarkup:  msg.ButtonMarkup,
		Attachments:   msg.AttachmentRefs,
	}
	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		gateway, err := c.selectBestGateway()
		if err != nil {
			lastErr = err
			continue
		}

		startTime := time.Now()
		response, err := c.doRequest(ctx, gateway, "POST", "/api/v1/notifications/send", reqBody)
		latency := time.Since(startTime).Milliseconds()

		if err != nil {
			gateway.metrics.RecordFailure()
			c.checkCircuitBreaker(gateway)
			logger.Warn("Delivery request failed, retrying", "error", err, "gateway", gateway.name, "attempt", attempt+1)
			lastErr = err
			continue
		}

		gateway.metrics.RecordSuccess(latency)

		var resp deliverResponse
		if err := json.Unmarshal(response, &resp); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}

		if resp.Status != StatusDelivered {
			// The recipient rejected or blocked the bot; retrying
			// another gateway will not change that
			return fmt.Errorf("delivery rejected: %s %s", resp.ErrorCode, resp.ErrorMsg)
		}

		logger.Info("Notification delivered",
			"message_id", req.MessageID,
			"destination_id", msg.DestinationID,
			"gateway", gateway.name,
			"latency_ms", latency)
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) doRequest(ctx context.Context, gateway *Gateway, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(gateway.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := gateway.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}

func (c *Client) checkCircuitBreaker(gateway *Gateway) {
	fails := gateway.metrics.ConsecutiveFails.Load()
	if fails >= int32(c.config.CircuitBreakerThreshold) {
		gateway.SetState(StateCircuitOpen)
		gateway.circuitOpenUntil.Store(time.Now().Add(c.config.CircuitBreakerTimeout).Unix())
		logger.Warn("Circuit breaker opened", "gateway", gateway.name, "consecutive_fails", fails, "timeout", c.config.CircuitBreakerTimeout)
	}
}

func (c *Client) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performHealthChecks()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	c.mu.RLock()
	gateways := make([]*Gateway, len(c.gateways))
	copy(gateways, c.gateways)
	c.mu.RUnlock()

	for _, gateway := range gateways {
		healthy := c.checkGatewayHealth(ctx, gateway)

		oldState := gateway.GetState()
		newState := oldState

		if healthy {
			if oldState == StateUnhealthy || oldState == StateDegraded {
				newState = StateHealthy
			}
		} else {
			newState = StateUnhealthy
		}

		if newState != oldState {
			gateway.SetState(newState)
			logger.Info("Gateway state changed", "gateway", gateway.name, "old_state", stateString(oldState), "new_state", stateString(newState))
		}
	}
}

func (c *Client) checkGatewayHealth(ctx context.Context, gateway *Gateway) bool {
	response, err := c.doRequest(ctx, gateway, "GET", "/health", nil)
	if err != nil {
		return false
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(response, &health); err != nil {
		return false
	}

	return health.Status == "healthy"
}

// stateEvaluator periodically degrades or recovers gateways based on
// their rolling metrics.
func (c *Client) stateEvaluator() {
	defer c.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evaluateGateways()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) evaluateGateways() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, gateway := range c.gateways {
		if gateway.GetState() == StateCircuitOpen {
			continue
		}

		successRate := gateway.metrics.SuccessRate()
		avgLatency := gateway.metrics.AvgLatencyMs()

		if successRate < 0.8 || avgLatency > 5000 {
			if gateway.GetState() != StateDegraded {
				gateway.SetState(StateDegraded)
				logger.Warn("Gateway degraded", "gateway", gateway.name, "success_rate", successRate, "avg_latency_ms", avgLatency)
			}
		} else if successRate > 0.95 && avgLatency < 2000 {
			if gateway.GetState() != StateHealthy {
				gateway.SetState(StateHealthy)
				logger.Info("Gateway recovered to healthy state", "gateway", gateway.name)
			}
		}
	}
}

// GatewayStats is a point-in-time snapshot of one gateway.
type GatewayStats struct {
	Name             string
	URL              string
	State            string
	Score            float64
	TotalRequests    int64
	SuccessfulReqs   int64
	FailedReqs       int64
	SuccessRate      float64
	AvgLatencyMs     int64
	ConsecutiveFails int32
}

func (c *Client) GetGatewayStats() []GatewayStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]GatewayStats, 0, len(c.gateways))
	for _, g := range c.gateways {
		stats = append(stats, GatewayStats{
			Name:             g.name,
			URL:              g.url,
			State:            stateString(g.GetState()),
			Score:            g.score(),
			TotalRequests:    g.metrics.TotalRequests.Load(),
			SuccessfulReqs:   g.metrics.SuccessfulReqs.Load(),
			FailedReqs:       g.metrics.FailedReqs.Load(),
			SuccessRate:      g.metrics.SuccessRate(),
			AvgLatencyMs:     g.metrics.AvgLatencyMs(),
			ConsecutiveFails: g.metrics.ConsecutiveFails.Load(),
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Score > stats[j].Score
	})

	return stats
}

func (c *Client) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	logger.Info("Notifier client closed")
	return nil
}

func stateString(state GatewayState) string {
	switch state {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}
