package fetch

import (
	"net"
	"net/http"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
)

// New creates the HTTP client used by remote cache backends.
// responseTimeout bounds the wait for response headers only; archive bodies
// stream for as long as the request context allows.
func New(responseTimeout time.Duration) *http.Client {
	if responseTimeout <= 0 {
		responseTimeout = helpers.FetchResponseHeaderTimeout
	}
	return &http.Client{Transport: newTransport(responseTimeout)}
}

func newTransport(responseTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   helpers.FetchDialContextTimeout,
			KeepAlive: helpers.FetchDialContextKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     helpers.FetchForceAttemptHTTP2,
		MaxIdleConns:          helpers.FetchMaxIdleConns,
		MaxIdleConnsPerHost:   helpers.FetchMaxIdleConnsPerHost,
		IdleConnTimeout:       helpers.FetchIdleConnTimeout,
		TLSHandshakeTimeout:   helpers.FetchTLSHandshakeTimeout,
		ExpectContinueTimeout: helpers.FetchExpectContinueTimeout,
		ResponseHeaderTimeout: responseTimeout,
		// archives are already compressed
		DisableCompression: true,
	}
}
