package video

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/grafov/m3u8"
	gocache "github.com/patrickmn/go-cache"

	"github.com/streamplex/transcode-api/errors"
	"github.com/streamplex/transcode-api/locks"
	"github.com/streamplex/transcode-api/log"
	"github.com/streamplex/transcode-api/metrics"
)

// PlaylistLockfile guards playlist synthesis within one output directory.
const PlaylistLockfile = "lockfile.lock"

const keyframePassTimeout = 60 * time.Second

// Synthesizer derives HLS playlists from source keyframes. Segment
// boundaries are shared by every rendition of a video, so the playlist is
// written once per video and reused.
type Synthesizer struct {
	prober Prober
	locks  *locks.Registry
	cached *gocache.Cache
}

func NewSynthesizer(prober Prober, registry *locks.Registry, cacheTTL time.Duration) *Synthesizer {
	return &Synthesizer{
		prober: prober,
		locks:  registry,
		cached: gocache.New(cacheTTL, 10*time.Minute),
	}
}

// Get returns the playlist text for a video, reading through the in-process
// cache and the filesystem before synthesizing from scratch. force skips
// both and rewrites the playlist.
func (s *Synthesizer) Get(requestID string, videoID int64, sourcePath, playlistPath string, force bool) (string, error) {
	cacheKey := fmt.Sprintf("m3u8_%d", videoID)
	if !force {
		if cached, found := s.cached.Get(cacheKey); found {
			return cached.(string), nil
		}
		if contents, err := os.ReadFile(playlistPath); err == nil {
			text := string(contents)
			s.cached.Set(cacheKey, text, gocache.DefaultExpiration)
			return text, nil
		}
	}

	text, err := s.Synthesize(requestID, videoID, sourcePath, playlistPath)
	if err != nil {
		return "", err
	}
	s.cached.Set(cacheKey, text, gocache.DefaultExpiration)
	return text, nil
}

// Synthesize extracts the source keyframes and writes the playlist. Callers
// racing on the same playlist directory get ErrBusy and are expected to
// retry.
func (s *Synthesizer) Synthesize(requestID string, videoID int64, sourcePath, playlistPath string) (string, error) {
	start := time.Now()
	outputDir := filepath.Dir(playlistPath)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("error creating playlist directory: %w", err)
	}

	lockfile := filepath.Join(outputDir, PlaylistLockfile)
	if !s.locks.TryAcquire(lockfile) {
		return "", errors.ErrBusy
	}
	defer s.locks.Release(lockfile)

	ctx, cancel := context.WithTimeout(context.Background(), keyframePassTimeout)
	defer cancel()
	keyframes, err := s.prober.Keyframes(ctx, sourcePath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", errors.ErrKeyframesUnavailable, err)
	}
	log.Log(requestID, "extracted keyframes", "video_id", videoID, "count", len(keyframes))
	if len(keyframes) < 4 {
		return "", fmt.Errorf("%w: got %d keyframes", errors.ErrKeyframesUnavailable, len(keyframes))
	}

	text, err := buildPlaylist(keyframes)
	if err != nil {
		return "", fmt.Errorf("error building playlist: %w", err)
	}

	tmp := playlistPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("error writing playlist: %w", err)
	}
	if err := os.Rename(tmp, playlistPath); err != nil {
		return "", fmt.Errorf("error writing playlist: %w", err)
	}

	metrics.Metrics.PlaylistSynthDurationSec.Observe(time.Since(start).Seconds())
	return text, nil
}

// buildPlaylist composes the playlist text. Segment i spans keyframes
// [3i, 3i+3] and its advertised duration is three times the keyframe gap at
// i. The playlist stays EVENT with no end marker because segments appear as
// encoders produce them.
func buildPlaylist(keyframes []float64) (string, error) {
	segmentCount := (len(keyframes)-1)/3 + 1
	pl, err := m3u8.NewMediaPlaylist(0, uint(segmentCount))
	if err != nil {
		return "", err
	}
	pl.MediaType = m3u8.EVENT
	pl.SetVersion(6)
	pl.StartTime = 0.01
	pl.SetDefaultMap("init.mp4", 0, 0)

	for i := 0; i < segmentCount; i++ {
		duration := 3 * (keyframes[i+1] - keyframes[i])
		if err := pl.Append(fmt.Sprintf("segment_%03d.mp4", i), duration, ""); err != nil {
			return "", err
		}
		// Every segment is encoded independently so its timestamps restart
		if err := pl.SetDiscontinuity(); err != nil {
			return "", err
		}
	}

	// Set after the appends so a long segment cannot raise it
	pl.TargetDuration = math.Ceil(keyframes[3]-keyframes[0]) + 1

	return pl.Encode().String(), nil
}
