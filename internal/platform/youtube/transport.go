package youtube

import (
	"net/http"
	"strings"
)

// mediaHostSuffix marks stream hosts; their signed URLs are bound to the
// wire client's own user agent.
const mediaHostSuffix = ".googlevideo.com"

// RouteFunc wraps the base transport of an identity, e.g. for proxy rotation.
type RouteFunc func(base *http.Transport) http.RoundTripper

// NewHTTPClient builds the HTTP client of one identity. An empty user agent
// leaves the wire client's own header in place; stream requests always keep it.
func NewHTTPClient(userAgent string, route RouteFunc) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()

	var rt http.RoundTripper = base
	if route != nil {
		rt = route(base)
	}

	if userAgent != "" {
		rt = &userAgentTransport{base: rt, userAgent: userAgent}
	}

	return &http.Client{Transport: rt}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(strings.ToLower(req.URL.Hostname()), mediaHostSuffix) {
		return t.base.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)

	return t.base.RoundTrip(req)
}
