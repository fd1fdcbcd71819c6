package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// SubscriptionClient asks the bot gateway whether a user is subscribed
// to a channel.
type SubscriptionClient struct {
	baseURL string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewSubscriptionClient(baseURL string, timeout time.Duration) *SubscriptionClient {
	return &SubscriptionClient{
		baseURL: baseURL,
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

func (c *SubscriptionClient) IsSubscribed(ctx context.Context, userID int64, channel string) (bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/api/v1/subscriptions/%s/%d", c.baseURL, channel, userID))
	req.Header.SetMethod("GET")

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return false, fmt.Errorf("subscription check failed: %w", err)
	}

	if resp.StatusCode() == fasthttp.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	var body struct {
		Subscribed bool `json:"subscribed"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return false, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return body.Subscribed, nil
}
