// Package probe checks that a deployed endpoint answers.
package probe

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a probe request.
const DefaultTimeout = 10 * time.Second

// Result is the outcome of a single probe.
type Result struct {
	URL     string        `json:"url" yaml:"url"`
	Healthy bool          `json:"healthy" yaml:"healthy"`
	Status  int           `json:"status" yaml:"status"`
	Latency time.Duration `json:"latency" yaml:"latency"`
	Error   string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Checker issues health probes.
type Checker struct {
	client *http.Client
	logger *zap.Logger
}

// NewChecker creates a Checker. A nil client uses http.DefaultClient.
func NewChecker(client *http.Client, logger *zap.Logger) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{client: client, logger: logger}
}

// Check issues a GET to url. Any 2xx status is healthy. A transport
// failure reports status 0.
func (c *Checker) Check(ctx context.Context, url string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := Result{URL: url}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	resp, err := c.client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		c.logger.Warn("health probe failed", zap.String("url", url), zap.Error(err))
		return res
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	res.Status = resp.StatusCode
	res.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	c.logger.Info("health probe",
		zap.String("url", url),
		zap.Int("status", res.Status),
		zap.Bool("healthy", res.Healthy),
		zap.Duration("latency", res.Latency))
	return res
}

// CheckEndpoint probes url with the default client.
func CheckEndpoint(ctx context.Context, url string, timeout time.Duration) (bool, int) {
	res := NewChecker(nil, nil).Check(ctx, url, timeout)
	return res.Healthy, res.Status
}
