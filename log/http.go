package log

import (
	"github.com/golang/glog"
	"github.com/hashicorp/go-retryablehttp"
)

var _ retryablehttp.LeveledLogger = retryableHTTPLogger{}

// retryableHTTPLogger routes retryablehttp's chatter through our logger,
// gated on glog verbosity so retry noise stays out of quiet deployments.
type retryableHTTPLogger struct {
}

func NewRetryableHTTPLogger() retryablehttp.LeveledLogger {
	return retryableHTTPLogger{}
}

func (r retryableHTTPLogger) logAt(verbosity glog.Level, msg string, keysAndValues ...interface{}) {
	if glog.V(verbosity) {
		LogNoRequestID(msg, append(keysAndValues, "component", "http-retry")...)
	}
}

func (r retryableHTTPLogger) Error(msg string, keysAndValues ...interface{}) {
	r.logAt(3, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Warn(msg string, keysAndValues ...interface{}) {
	r.logAt(4, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Info(msg string, keysAndValues ...interface{}) {
	r.logAt(5, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Debug(msg string, keysAndValues ...interface{}) {
	r.logAt(6, msg, keysAndValues...)
}
