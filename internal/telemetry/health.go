package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/faultline/faultline-ai/internal/metrics"
)

// ProbeState represents the state of the gateway health probe.
type ProbeState string

const (
	StateDisconnected ProbeState = "DISCONNECTED"
	StateConnecting   ProbeState = "CONNECTING"
	StateConnected    ProbeState = "CONNECTED"
	StateReconnecting ProbeState = "RECONNECTING"
)

// probeBackoff defines reconnect backoff parameters.
type probeBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

var defaultProbeBackoff = probeBackoff{
	initialDelay: 1 * time.Second,
	maxDelay:     60 * time.Second,
	multiplier:   2.0,
}

// ProbeOptions tunes the health probe.
type ProbeOptions struct {
	// Interval between health checks. Zero means 5 seconds.
	Interval time.Duration
	// Timeout for a single check. Zero means 3 seconds.
	Timeout time.Duration
}

// HealthProbe monitors the telemetry gateway's gRPC health endpoint. The
// reasoning loops keep running while the gateway is down (tool failures
// become observations); the probe exists so operators see degradation on
// the health endpoint and metrics before the analyses do.
type HealthProbe struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	backoff  probeBackoff

	mu          sync.RWMutex
	conn        *grpc.ClientConn
	client      grpc_health_v1.HealthClient
	state       ProbeState
	connectedAt time.Time
	lastCheck   time.Time
	reconnects  int

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewHealthProbe creates a probe for the given gRPC address.
func NewHealthProbe(address string, opts ProbeOptions) *HealthProbe {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthProbe{
		address:  address,
		interval: interval,
		timeout:  timeout,
		backoff:  defaultProbeBackoff,
		state:    StateDisconnected,
		stopChan: make(chan struct{}),
	}
}

// Start dials the gateway and begins the probe loop. Dial failures are not
// fatal: the loop keeps retrying with backoff until Stop.
func (p *HealthProbe) Start(ctx context.Context) error {
	if err := p.dial(ctx); err != nil {
		p.setState(StateDisconnected)
		metrics.GatewayHealthy.Set(0)
	}
	go p.loop(ctx)
	return nil
}

// Stop terminates the probe loop and closes the connection.
func (p *HealthProbe) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
		p.client = nil
	}
	p.state = StateDisconnected
}

// Healthy reports whether the last check succeeded.
func (p *HealthProbe) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == StateConnected
}

// State returns the current probe state.
func (p *HealthProbe) State() ProbeState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Stats returns probe statistics for the status endpoint.
func (p *HealthProbe) Stats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var connectedDuration time.Duration
	if p.state == StateConnected {
		connectedDuration = time.Since(p.connectedAt)
	}
	return map[string]interface{}{
		"address":            p.address,
		"state":              p.state,
		"connected_at":       p.connectedAt,
		"connected_duration": connectedDuration.String(),
		"last_check":         p.lastCheck,
		"reconnect_count":    p.reconnects,
	}
}

func (p *HealthProbe) dial(ctx context.Context) error {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	p.setState(StateConnecting)
	conn, err := grpc.DialContext(ctx, p.address, opts...)
	if err != nil {
		return fmt.Errorf("dial gateway %s: %w", p.address, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.client = grpc_health_v1.NewHealthClient(conn)
	p.mu.Unlock()
	return nil
}

func (p *HealthProbe) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			if p.checkOnce(ctx) {
				continue
			}
			metrics.GatewayHealthy.Set(0)
			p.reconnectWithBackoff(ctx)
		}
	}
}

// checkOnce runs a single health check and updates state and metrics.
func (p *HealthProbe) checkOnce(ctx context.Context) bool {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client == nil {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := client.Check(checkCtx, &grpc_health_v1.HealthCheckRequest{})

	p.mu.Lock()
	p.lastCheck = time.Now()
	p.mu.Unlock()

	if err != nil || resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		return false
	}

	p.mu.Lock()
	if p.state != StateConnected {
		p.connectedAt = time.Now()
	}
	p.state = StateConnected
	p.mu.Unlock()

	metrics.GatewayHealthy.Set(1)
	return true
}

// reconnectWithBackoff redials until a check succeeds, doubling the delay up
// to the cap. Runs inline in the probe loop so only one reconnect is active.
func (p *HealthProbe) reconnectWithBackoff(ctx context.Context) {
	p.setState(StateReconnecting)
	delay := p.backoff.initialDelay

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		default:
		}

		p.mu.Lock()
		p.reconnects++
		if p.conn != nil {
			_ = p.conn.Close()
			p.conn = nil
			p.client = nil
		}
		p.mu.Unlock()
		metrics.GatewayReconnects.Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.stopChan:
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := p.dial(ctx); err == nil && p.checkOnce(ctx) {
			return
		}

		delay = time.Duration(float64(delay) * p.backoff.multiplier)
		if delay > p.backoff.maxDelay {
			delay = p.backoff.maxDelay
		}
	}
}

func (p *HealthProbe) setState(state ProbeState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}
