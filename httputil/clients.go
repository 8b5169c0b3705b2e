package httputil

import (
	"net"
	"net/http"
	"time"
)

const defaultAPITimeout = 30 * time.Second

// NewAPIClient returns the direct client used for storage uploads. Target
// sites are only ever reached through the browser and its proxy settings.
func NewAPIClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
