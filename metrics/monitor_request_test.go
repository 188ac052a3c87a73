package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestItMonitorsRequestRetries(t *testing.T) {
	require := require.New(t)

	var calls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = time.Millisecond
	client.RetryWaitMax = 5 * time.Millisecond
	client.CheckRetry = HttpRetryHook

	req, err := retryablehttp.NewRequest("GET", ts.URL, nil)
	require.NoError(err)

	res, err := MonitorRequest(Metrics.MetadataClient, client, req)
	require.NoError(err)
	require.Equal(http.StatusOK, res.StatusCode)
	require.Equal(int64(3), atomic.LoadInt64(&calls))

	// Two 502s before the 200 means two recorded retries
	retries := testutil.ToFloat64(Metrics.MetadataClient.RetryCount.WithLabelValues(req.URL.Host))
	require.Equal(2.0, retries)
}
