// Package proxymgr rotates outbound proxies for the platform clients.
// It handles proxy selection, health checking and failure backoff.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"sync"
	"time"

	"mediafetch/internal/config"
	"mediafetch/internal/errs"
	"mediafetch/internal/observability"
)

// ProxyState represents the current state of a proxy.
type ProxyState int

const (
	// ProxyStateAvailable indicates the proxy is available for use.
	ProxyStateAvailable ProxyState = iota
	// ProxyStateFailed indicates the proxy has failed and is in backoff.
	ProxyStateFailed
)

const (
	healthCheckTimeout = 10 * time.Second
	maxBackoff         = time.Hour
)

// proxyInfo holds information about a proxy.
type proxyInfo struct {
	URL           *url.URL
	State         ProxyState
	FailureCount  int
	LastFailure   time.Time
	BackoffUntil  time.Time
	LastHealthChk time.Time
}

// Manager manages proxy rotation and health.
type Manager struct {
	log     *slog.Logger
	cfg     config.Proxy
	metrics *observability.Metrics

	mu      sync.Mutex
	proxies map[string]*proxyInfo
	order   []string // maintains insertion order for consistent iteration
}

// New creates a proxy manager. Unparsable entries are logged and skipped.
func New(log *slog.Logger, cfg config.Proxy, metrics *observability.Metrics) *Manager {
	mgr := &Manager{
		log:     log.With(slog.String("package", "proxymgr")),
		cfg:     cfg,
		metrics: metrics,
		proxies: make(map[string]*proxyInfo),
		order:   make([]string, 0, len(cfg.Proxies)),
	}

	for _, raw := range cfg.Proxies {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			mgr.log.Warn("skipping invalid proxy", slog.String("proxy", raw), slog.Any("error", err))

			continue
		}

		if _, dup := mgr.proxies[raw]; dup {
			continue
		}

		mgr.proxies[raw] = &proxyInfo{URL: u, State: ProxyStateAvailable}
		mgr.order = append(mgr.order, raw)
	}

	metrics.SetProxiesAvailable(len(mgr.order))

	return mgr
}

// Pick returns a random available proxy. It fails with ErrNoProxiesAvailable
// when every configured proxy is in backoff.
func (m *Manager) Pick() (string, *url.URL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.getAvailableProxies()
	if len(available) == 0 {
		return "", nil, errs.ErrNoProxiesAvailable
	}

	key := available[rand.IntN(len(available))]

	return key, m.proxies[key].URL, nil
}

// MarkFailed records a failure and applies exponential backoff once
// MaxFailures is reached.
func (m *Manager) MarkFailed(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.proxies[proxyURL]
	if !exists {
		return
	}

	m.metrics.RecordProxyFailure(proxyURL)

	info.FailureCount++
	info.LastFailure = time.Now()

	maxFailures := max(m.cfg.MaxFailures, 1)
	if info.FailureCount < maxFailures {
		return
	}

	info.State = ProxyStateFailed

	backoff := maxBackoff
	if shift := info.FailureCount - maxFailures; shift < 16 {
		backoff = min(m.cfg.FailureBackoff*time.Duration(1<<shift), maxBackoff)
	}

	info.BackoffUntil = time.Now().Add(backoff)

	m.metrics.SetProxiesAvailable(len(m.getAvailableProxies()))

	m.log.Warn("proxy marked as failed",
		slog.String("proxy", proxyURL),
		slog.Int("failure_count", info.FailureCount),
		slog.Duration("backoff", backoff))
}

// MarkSuccess marks a proxy as successful and resets failure count.
func (m *Manager) MarkSuccess(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.proxies[proxyURL]
	if !exists {
		return
	}

	wasFailed := info.State == ProxyStateFailed

	info.State = ProxyStateAvailable
	info.FailureCount = 0
	info.BackoffUntil = time.Time{}

	if wasFailed {
		m.metrics.SetProxiesAvailable(len(m.getAvailableProxies()))
		m.log.Info("proxy restored", slog.String("proxy", proxyURL))
	}
}

// HealthCheck dials a proxy and updates its state.
func (m *Manager) HealthCheck(ctx context.Context, proxyURL string) error {
	m.mu.Lock()
	info, exists := m.proxies[proxyURL]
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("unknown proxy %q", proxyURL)
	}

	dialer := &net.Dialer{Timeout: healthCheckTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", info.URL.Host)
	if err != nil {
		m.MarkFailed(proxyURL)

		return fmt.Errorf("dial proxy: %w", err)
	}
	defer conn.Close()

	m.mu.Lock()
	info.LastHealthChk = time.Now()
	m.mu.Unlock()

	m.MarkSuccess(proxyURL)

	return nil
}

// StartHealthChecker starts background health checking for all proxies.
func (m *Manager) StartHealthChecker(ctx context.Context) {
	if m.cfg.HealthCheckInterval <= 0 || len(m.order) == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAllProxies(ctx)
			}
		}
	}()

	m.log.Info("proxy health checker started",
		slog.Duration("interval", m.cfg.HealthCheckInterval),
		slog.Int("proxy_count", len(m.order)))
}

// ProxyStats represents statistics for a proxy.
type ProxyStats struct {
	State         ProxyState
	FailureCount  int
	LastFailure   time.Time
	BackoffUntil  time.Time
	LastHealthChk time.Time
}

// GetStats returns current proxy statistics.
func (m *Manager) GetStats() map[string]ProxyStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]ProxyStats, len(m.proxies))
	for proxyURL, info := range m.proxies {
		stats[proxyURL] = ProxyStats{
			State:         info.State,
			FailureCount:  info.FailureCount,
			LastFailure:   info.LastFailure,
			BackoffUntil:  info.BackoffUntil,
			LastHealthChk: info.LastHealthChk,
		}
	}

	return stats
}

// HasProxies returns true if any proxies are configured.
func (m *Manager) HasProxies() bool {
	return m != nil && len(m.order) > 0
}

// AvailableCount returns the number of currently available proxies.
func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.getAvailableProxies())
}

func (m *Manager) getAvailableProxies() []string {
	now := time.Now()
	available := make([]string, 0, len(m.order))

	for _, proxyURL := range m.order {
		info := m.proxies[proxyURL]
		if info.State == ProxyStateAvailable || now.After(info.BackoffUntil) {
			available = append(available, proxyURL)
		}
	}

	return available
}

func (m *Manager) checkAllProxies(ctx context.Context) {
	for _, proxy := range m.order {
		if ctx.Err() != nil {
			return
		}

		if err := m.HealthCheck(ctx, proxy); err != nil {
			m.log.Debug("proxy health check failed",
				slog.String("proxy", proxy),
				slog.Any("error", err))
		}
	}
}
