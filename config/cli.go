package config

import (
	"flag"
	"net/url"
	"time"
)

type Cli struct {
	HTTPAddress        string
	MetricsPort        int
	PprofPort          int
	MediaDir           string
	SiteURL            *url.URL
	MetadataAPIURL     *url.URL
	MetadataAPIKey     string
	DatabaseURL        string
	SupervisorPoll     time.Duration
	SuspendAhead       int
	ResumeAhead        int
	InactivityTimeout  time.Duration
	SegmentTimeout     time.Duration
	CompletionTimeout  time.Duration
	PlaylistCacheTTL   time.Duration
	DefaultSegmentSecs float64
}

func parseURL(s string, dest **url.URL) error {
	if s == "" {
		*dest = nil
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if _, err = url.ParseQuery(u.RawQuery); err != nil {
		return err
	}
	*dest = u
	return nil
}

func URLVarFlag(fs *flag.FlagSet, dest **url.URL, name, value, usage string) {
	if err := parseURL(value, dest); err != nil {
		panic(err)
	}
	fs.Func(name, usage, func(s string) error {
		return parseURL(s, dest)
	})
}
