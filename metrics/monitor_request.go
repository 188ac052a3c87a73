package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

type httpClient interface {
	Do(req *retryablehttp.Request) (*http.Response, error)
}

// MonitorRequest wraps an HTTP request with metrics bookkeeping for the
// given client. The request context carries a retry counter which the
// client's CheckRetry hook increments, see HttpRetryHook.
func MonitorRequest(metrics ClientMetrics, client httpClient, r *retryablehttp.Request) (*http.Response, error) {
	host := r.URL.Host
	metrics.RequestCount.WithLabelValues(host).Inc()

	// CheckRetry fires once per attempt, so starting at -1 counts retries
	// rather than attempts
	retries := -1
	r = r.WithContext(context.WithValue(r.Context(), RetriesKey, &retries))

	start := time.Now()
	res, err := client.Do(r)
	duration := time.Since(start)

	if err != nil {
		metrics.FailureCount.WithLabelValues(host, "0").Inc()
		return res, err
	}
	if res.StatusCode >= 400 {
		metrics.FailureCount.WithLabelValues(host, strconv.Itoa(res.StatusCode)).Inc()
		return res, err
	}

	metrics.RequestDuration.WithLabelValues(host).Observe(duration.Seconds())
	metrics.RetryCount.WithLabelValues(host).Set(float64(retries))
	return res, nil
}

// HttpRetryHook is a retryablehttp CheckRetry that counts retries into the
// context value installed by MonitorRequest before delegating to the default
// retry policy.
func HttpRetryHook(ctx context.Context, resp *http.Response, err error) (bool, error) {
	retries, ok := ctx.Value(RetriesKey).(*int)
	if ok {
		*retries += 1
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
