package requests

import (
	"net/http"

	"github.com/streamplex/transcode-api/config"
)

// RequestIDHeader carries the correlation id for one request. Callers may
// supply their own; requests without one get a random id on first touch,
// written back into the header so every later read agrees.
const RequestIDHeader = "requestID"

func GetRequestId(req *http.Request) string {
	if requestID := req.Header.Get(RequestIDHeader); requestID != "" {
		return requestID
	}
	requestID := config.RandomTrailer(8)
	req.Header.Set(RequestIDHeader, requestID)
	return requestID
}
