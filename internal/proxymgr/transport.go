package proxymgr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
)

// Transport routes each request through a proxy picked by the manager.
// A transport error marks the proxy failed; any response marks it healthy.
type Transport struct {
	mgr  *Manager
	base *http.Transport

	mu         sync.Mutex
	transports map[string]*http.Transport // proxy : transport bound to it
}

// Wrap returns a RoundTripper over base. With no proxies configured base is
// returned unchanged.
func (m *Manager) Wrap(base *http.Transport) http.RoundTripper {
	if !m.HasProxies() {
		return base
	}

	return &Transport{mgr: m, base: base, transports: make(map[string]*http.Transport)}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	key, proxyURL, err := t.mgr.Pick()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err)
	}

	t.mgr.metrics.RecordProxyRequest(key)

	resp, err := t.transport(key, proxyURL).RoundTrip(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.mgr.MarkFailed(key)
		}

		return nil, err
	}

	t.mgr.MarkSuccess(key)

	return resp, nil
}

// transport keeps one connection pool per proxy.
func (t *Transport) transport(key string, proxyURL *url.URL) *http.Transport {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.transports[key]
	if !ok {
		tr = t.base.Clone()
		tr.Proxy = http.ProxyURL(proxyURL)
		t.transports[key] = tr
	}

	return tr
}
