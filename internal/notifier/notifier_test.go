package notifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestGatewayMetrics_RecordSuccess(t *testing.T) {
	metrics := &GatewayMetrics{}

	metrics.RecordSuccess(100)
	metrics.RecordSuccess(200)

	assert.Equal(t, int64(2), metrics.TotalRequests.Load())
	assert.Equal(t, int64(2), metrics.SuccessfulReqs.Load())
	assert.Equal(t, int64(0), metrics.FailedReqs.Load())
	assert.Equal(t, float64(1.0), metrics.SuccessRate())
	assert.Equal(t, int64(150), metrics.AvgLatencyMs())
}

func TestGatewayMetrics_RecordFailure(t *testing.T) {
	metrics := &GatewayMetrics{}

	metrics.RecordSuccess(100)
	metrics.RecordFailure()
	metrics.RecordFailure()

	assert.Equal(t, int64(3), metrics.TotalRequests.Load())
	assert.Equal(t, int64(1), metrics.SuccessfulReqs.Load())
	assert.Equal(t, int64(2), metrics.FailedReqs.Load())
	assert.InDelta(t, 0.333, metrics.SuccessRate(), 0.01)
	assert.Equal(t, int32(2), metrics.ConsecutiveFails.Load())
}

func TestGateway_IsAvailable(t *testing.T) {
	client := &fasthttp.Client{}
	gateway := newGateway("test", "http://localhost:8080", 100, client)

	t.Run("healthy gateway is available", func(t *testing.T) {
		gateway.SetState(StateHealthy)
		assert.True(t, gateway.IsAvailable())
	})

	t.Run("degraded gateway is available", func(t *testing.T) {
		gateway.SetState(StateDegraded)
		assert.True(t, gateway.IsAvailable())
	})

	t.Run("unhealthy gateway is not available", func(t *testing.T) {
		gateway.SetState(StateUnhealthy)
		assert.False(t, gateway.IsAvailable())
	})

	t.Run("circuit open gateway becomes available after timeout", func(t *testing.T) {
		gateway.SetState(StateCircuitOpen)
		gateway.circuitOpenUntil.Store(time.Now().Add(-1 * time.Second).Unix())
		assert.True(t, gateway.IsAvailable())
		assert.Equal(t, StateDegraded, gateway.GetState())
	})

	t.Run("circuit open gateway is not available before timeout", func(t *testing.T) {
		gateway.SetState(StateCircuitOpen)
		gateway.circuitOpenUntil.Store(time.Now().Add(10 * time.Second).Unix())
		assert.False(t, gateway.IsAvailable())
	})
}

func TestGateway_Score(t *testing.T) {
	client := &fasthttp.Client{}
	gateway := newGateway("test", "http://localhost:8080", 100, client)

	t.Run("unavailable gateway has zero score", func(t *testing.T) {
		gateway.SetState(StateUnhealthy)
		assert.Equal(t, 0.0, gateway.score())
	})

	t.Run("healthy gateway with good metrics", func(t *testing.T) {
		gateway.SetState(StateHealthy)
		for i := 0; i < 10; i++ {
			gateway.metrics.RecordSuccess(100)
		}
		assert.Greater(t, gateway.score(), 0.0)
	})

	t.Run("degraded gateway has reduced score", func(t *testing.T) {
		gateway.SetState(StateHealthy)
		healthyScore := gateway.score()

		gateway.SetState(StateDegraded)
		degradedScore := gateway.score()
		assert.Greater(t, degradedScore, 0.0)
		assert.Less(t, degradedScore, healthyScore)
	})

	t.Run("consecutive failures reduce score", func(t *testing.T) {
		gateway.SetState(StateHealthy)
		baseline := gateway.score()

		gateway.metrics.ConsecutiveFails.Store(3)
		assert.Less(t, gateway.score(), baseline)
		gateway.metrics.ConsecutiveFails.Store(0)
	})
}

func TestNewClient_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "config is required")
	})

	t.Run("empty gateways returns error", func(t *testing.T) {
		client, err := NewClient(&Config{
			Gateways: []GatewayConfig{},
			Timeout:  5 * time.Second,
		})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "at least one gateway is required")
	})

	t.Run("valid config creates client", func(t *testing.T) {
		client, err := NewClient(&Config{
			Gateways: []GatewayConfig{
				{Name: "primary", URL: "http://localhost:8081", Weight: 100},
			},
			Timeout:                 5 * time.Second,
			MaxRetries:              3,
			RetryDelay:              time.Second,
			MaxConns:                100,
			HealthCheckInterval:     30 * time.Second,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   30 * time.Second,
		})
		require.NoError(t, err)
		require.NotNil(t, client)
		assert.Len(t, client.gateways, 1)

		client.Close()
	})
}

func TestClient_SelectBestGateway(t *testing.T) {
	client, err := NewClient(&Config{
		Gateways: []GatewayConfig{
			{Name: "primary", URL: "http://localhost:8081", Weight: 100},
			{Name: "secondary", URL: "http://localhost:8082", Weight: 80},
			{Name: "backup", URL: "http://localhost:8083", Weight: 60},
		},
		Timeout:                 5 * time.Second,
		MaxRetries:              3,
		MaxConns:                100,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	})
	require.NoError(t, err)
	defer client.Close()

	t.Run("selects gateway with highest score", func(t *testing.T) {
		gateway, err := client.selectBestGateway()
		require.NoError(t, err)
		assert.Equal(t, "primary", gateway.name)
	})

	t.Run("returns error when all gateways unavailable", func(t *testing.T) {
		for _, g := range client.gateways {
			g.SetState(StateUnhealthy)
		}

		gateway, err := client.selectBestGateway()
		assert.ErrorIs(t, err, ErrNoAvailableGateways)
		assert.Nil(t, gateway)

		for _, g := range client.gateways {
			g.SetState(StateHealthy)
		}
	})

	t.Run("skips unhealthy gateways", func(t *testing.T) {
		client.gateways[0].SetState(StateUnhealthy)

		gateway, err := client.selectBestGateway()
		require.NoError(t, err)
		assert.NotEqual(t, "primary", gateway.name)

		client.gateways[0].SetState(StateHealthy)
	})
}

func TestClient_CheckCircuitBreaker(t *testing.T) {
	client, err := NewClient(&Config{
		Gateways: []GatewayConfig{
			{Name: "test", URL: "http://localhost:8081", Weight: 100},
		},
		Timeout:                 5 * time.Second,
		MaxConns:                100,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   10 * time.Second,
	})
	require.NoError(t, err)
	defer client.Close()

	gateway := client.gateways[0]

	t.Run("opens circuit after threshold failures", func(t *testing.T) {
		gateway.metrics.ConsecutiveFails.Store(3)
		client.checkCircuitBreaker(gateway)

		assert.Equal(t, StateCircuitOpen, gateway.GetState())
		assert.Greater(t, gateway.circuitOpenUntil.Load(), time.Now().Unix())
	})

	t.Run("does not open circuit below threshold", func(t *testing.T) {
		gateway.SetState(StateHealthy)
		gateway.metrics.ConsecutiveFails.Store(2)
		client.checkCircuitBreaker(gateway)

		assert.NotEqual(t, StateCircuitOpen, gateway.GetState())
	})
}

func TestClient_GatewayStatsSorting(t *testing.T) {
	client, err := NewClient(&Config{
		Gateways: []GatewayConfig{
			{Name: "g1", URL: "http://localhost:8081", Weight: 50},
			{Name: "g2", URL: "http://localhost:8082", Weight: 100},
			{Name: "g3", URL: "http://localhost:8083", Weight: 75},
		},
		Timeout:                 5 * time.Second,
		MaxConns:                100,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	})
	require.NoError(t, err)
	defer client.Close()

	client.gateways[1].metrics.RecordSuccess(100)
	client.gateways[1].metrics.RecordSuccess(150)

	stats := client.GetGatewayStats()
	require.Len(t, stats, 3)
	assert.GreaterOrEqual(t, stats[0].Score, stats[1].Score)
	assert.GreaterOrEqual(t, stats[1].Score, stats[2].Score)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    GatewayState
		expected string
	}{
		{StateHealthy, "HEALTHY"},
		{StateDegraded, "DEGRADED"},
		{StateUnhealthy, "UNHEALTHY"},
		{StateCircuitOpen, "CIRCUIT_OPEN"},
		{GatewayState(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, stateString(tt.state))
		})
	}
}
