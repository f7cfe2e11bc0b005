// Package healthcheck probes a service's HTTP endpoint after a deploy or
// restart.
package healthcheck

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"
)

// Result is the outcome of one probe.
type Result struct {
	StatusCode int
	Latency    time.Duration
}

// Healthy reports whether the probe got a 2xx response.
func (r Result) Healthy() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Probe issues a GET against the URL. insecure skips TLS verification,
// needed when probing a service that still serves a self-signed bootstrap
// certificate.
func Probe(ctx context.Context, url string, insecure bool) (Result, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}
	if insecure {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	return Result{StatusCode: resp.StatusCode, Latency: time.Since(start)}, nil
}
