package voice

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/reliability"
)

// newKeepAliveClient returns the one client a speech backend reuses for every
// call. Per-call deadlines come from the request context.
func newKeepAliveClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   2 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          128,
			MaxIdleConnsPerHost:   64,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// probeHealth issues GET url and expects a 2xx.
func probeHealth(ctx context.Context, client *http.Client, backend, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s health: %w", backend, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &reliability.StatusError{Backend: backend, Code: res.StatusCode}
	}
	return nil
}

func statusError(backend string, res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return &reliability.StatusError{Backend: backend, Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
}
