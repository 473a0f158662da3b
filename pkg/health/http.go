package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker checks a worker that serves HTTP, such as the file server
type HTTPChecker struct {
	// URL is the full URL to request (e.g., "http://127.0.0.1:8090/")
	URL string

	// ExpectedStatusMin is the minimum acceptable status code (default: 200)
	ExpectedStatusMin int

	// ExpectedStatusMax is the maximum acceptable status code (default: 399)
	ExpectedStatusMax int

	Client *http.Client
}

// NewHTTPChecker creates a checker issuing HEAD requests to url
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:               url,
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client: &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// LocalHTTPChecker checks a loopback port
func LocalHTTPChecker(port int) *HTTPChecker {
	return NewHTTPChecker(fmt.Sprintf("http://127.0.0.1:%d/", port))
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	fail := func(format string, args ...any) Result {
		return Result{
			Type:      CheckTypeHTTP,
			Healthy:   false,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.URL, nil)
	if err != nil {
		return fail("failed to create request: %v", err)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= h.ExpectedStatusMin && resp.StatusCode <= h.ExpectedStatusMax

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax)
	}

	return Result{
		Type:      CheckTypeHTTP,
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}
