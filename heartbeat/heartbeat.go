// Package heartbeat records the most recent player request per
// (video, resolution) pair. The continuous encoder supervisor reads these
// entries to throttle or abandon its encoder. Entries never expire on their
// own; the supervisor judges staleness itself and clears the entry when it
// exits.
package heartbeat

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	gocache "github.com/patrickmn/go-cache"
)

var Clock = clock.New()

type Entry struct {
	Segment int
	TS      time.Time
}

type Store struct {
	entries *gocache.Cache
}

func NewStore() *Store {
	return &Store{
		entries: gocache.New(gocache.NoExpiration, 0),
	}
}

func key(videoID int64, resolution string) string {
	return fmt.Sprintf("heartbeat_%d_%s", videoID, resolution)
}

// Set overwrites the entry for the pair with the given segment index and the
// current time. Last writer wins.
func (s *Store) Set(videoID int64, resolution string, segment int) {
	s.entries.Set(key(videoID, resolution), Entry{Segment: segment, TS: Clock.Now()}, gocache.NoExpiration)
}

func (s *Store) Get(videoID int64, resolution string) (Entry, bool) {
	v, found := s.entries.Get(key(videoID, resolution))
	if !found {
		return Entry{}, false
	}
	return v.(Entry), true
}

func (s *Store) Clear(videoID int64, resolution string) {
	s.entries.Delete(key(videoID, resolution))
}
