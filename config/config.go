package config

import (
	"os"

	"github.com/go-kit/log"
)

var Version string

// Maximum number of single-segment encodes allowed to run at once before the
// API starts returning 429s.
var MaxInFlightEncodes = 8

// Maximum number of playback requests allowed to sit in the media handlers,
// including ones waiting on another encoder's output.
var MaxInFlightRequests = 64

// Global variable, but easier than passing a logger around throughout the system
var Logger log.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

func init() {
	Logger = log.With(Logger, "ts", log.DefaultTimestampUTC)
}
