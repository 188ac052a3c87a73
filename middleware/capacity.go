package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/julienschmidt/httprouter"

	"github.com/streamplex/transcode-api/config"
	"github.com/streamplex/transcode-api/errors"
	"github.com/streamplex/transcode-api/metrics"
)

// EncodeCounter reports how many encoder invocations are currently running.
type EncodeCounter interface {
	InFlight() int64
}

type CapacityMiddleware struct {
	mediaRequestsInFlight atomic.Int64
}

// HasCapacity sheds media requests once the encoder pool or the waiting room
// is saturated. Requests served straight from disk pass through the same
// gate; bounding them keeps a player stampede from pinning the process.
func (c *CapacityMiddleware) HasCapacity(encoder EncodeCounter, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Keep a gauge of HTTP requests in flight
		metrics.Metrics.HTTPRequestsInFlight.Add(1)
		defer metrics.Metrics.HTTPRequestsInFlight.Add(-1)

		inFlight := c.mediaRequestsInFlight.Add(1)
		defer c.mediaRequestsInFlight.Add(-1)

		if encoder.InFlight() >= int64(config.MaxInFlightEncodes) {
			errors.WriteHTTPTooManyRequests(w, "Too many encodes in flight", nil)
			return
		}
		if inFlight > int64(config.MaxInFlightRequests) {
			errors.WriteHTTPTooManyRequests(w, "Too many media requests in flight", nil)
			return
		}

		next(w, r, ps)
	}
}
