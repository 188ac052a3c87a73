package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apiErrs "github.com/streamplex/transcode-api/errors"
	"github.com/streamplex/transcode-api/locks"
	"github.com/streamplex/transcode-api/log"
	"github.com/streamplex/transcode-api/store"
	"github.com/streamplex/transcode-api/transcode"
	"github.com/streamplex/transcode-api/video"
)

// SegmentOptions carries the caller's optional encode overrides. Zero
// values mean the rendition ladder defaults.
type SegmentOptions struct {
	Codec   string
	Bitrate string
}

// ServeSegment returns the path of a rendition segment, encoding it first
// if no encoder has produced it yet. The decision tree, in order: serve
// from disk, wait on a continuous worker that is about to produce it, or
// encode just this segment. A request far past the continuous worker's head
// kills the worker before falling back to the single-segment encode.
func (s *Scheduler) ServeSegment(ctx context.Context, requestID string, videoID int64, resolution, segmentName, userID string, opts SegmentOptions) (string, error) {
	if _, err := video.RenditionByName(resolution); err != nil {
		return "", err
	}
	vid, err := s.Store.GetVideo(ctx, videoID)
	if err != nil {
		return "", err
	}

	outputDir := s.Layout.OutputDir(videoID, resolution)
	segmentPath := filepath.Join(outputDir, segmentName)

	if segmentName == transcode.InitSegmentName {
		return s.serveInitSegment(requestID, vid, resolution, segmentPath, opts)
	}

	index, err := transcode.ParseSegmentIndex(segmentName)
	if err != nil {
		return "", fmt.Errorf("%s: %w", segmentName, apiErrs.ErrNotFound)
	}
	s.Heartbeats.Set(videoID, resolution, index)

	if fileExists(segmentPath) {
		return segmentPath, nil
	}

	lastEncoded := transcode.LargestContiguousSegment(outputDir, maxSegmentScan)
	if index > lastEncoded+1 {
		// seek past the worker's head, it would re-encode everything in
		// between before reaching this segment
		s.KillContinuous(requestID, videoID, resolution, "seek")
	} else if s.continuousActive(videoID, resolution) {
		// on pace, the worker will produce this segment next
		log.Log(requestID, "waiting on continuous worker for segment", "video_id", videoID, "segment", segmentName)
		if transcode.WaitForFile(segmentPath, s.segmentTimeout(), segmentPollInterval) {
			return segmentPath, nil
		}
		log.Log(requestID, "continuous worker did not produce segment in time", "video_id", videoID, "segment", segmentName)
	}

	// a worker of our own that survived to this point is stalled or behind,
	// take the output back before encoding into it
	s.killOwnWorker(requestID, videoID, resolution, userID)

	return s.encodeSegment(requestID, vid, resolution, segmentName, segmentPath, outputDir, opts)
}

func (s *Scheduler) serveInitSegment(requestID string, vid store.Video, resolution, segmentPath string, opts SegmentOptions) (string, error) {
	if fileExists(segmentPath) {
		return segmentPath, nil
	}
	return s.encodeSegment(requestID, vid, resolution, transcode.InitSegmentName, segmentPath, filepath.Dir(segmentPath), opts)
}

func (s *Scheduler) encodeSegment(requestID string, vid store.Video, resolution, segmentName, segmentPath, outputDir string, opts SegmentOptions) (string, error) {
	params, err := s.paramsFor(requestID, vid, resolution, opts, s.segmentDuration(s.Layout.PlaylistPath(vid.ID), segmentName))
	if err != nil {
		return "", err
	}

	err = s.Encoder.EncodeSegment(requestID, s.Layout.SourcePath(vid.SourcePath), outputDir, segmentName, params)
	if errors.Is(err, apiErrs.ErrBusy) {
		// someone else is writing this exact segment right now
		if transcode.WaitForFile(segmentPath, s.segmentTimeout(), segmentPollInterval) {
			return segmentPath, nil
		}
		return "", fmt.Errorf("segment %s never appeared: %w", segmentName, apiErrs.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return segmentPath, nil
}

// killOwnWorker kills the continuous worker holding the output directory,
// but only when it belongs to the calling user. Another viewer's worker
// keeps running and the single-segment encode proceeds under its own
// lockfile.
func (s *Scheduler) killOwnWorker(requestID string, videoID int64, resolution, userID string) {
	descriptor, err := locks.ReadDescriptor(s.Layout.ContinuousLockPath(videoID, resolution))
	if err != nil {
		return
	}
	if ownsWorker(descriptor.WorkerID, userID, videoID, resolution) {
		s.KillContinuous(requestID, videoID, resolution, "override")
	}
}

// paramsFor derives the encoder parameters for a rendition of this source.
// Probe data normally comes from the catalog row; sources registered before
// the post-upload pipeline ran are probed on the spot.
func (s *Scheduler) paramsFor(requestID string, vid store.Video, resolution string, opts SegmentOptions, segmentSecs float64) (video.EncodeParams, error) {
	rendition, err := video.RenditionByName(resolution)
	if err != nil {
		return video.EncodeParams{}, err
	}
	codec := opts.Codec
	if codec == "" {
		codec = video.DefaultCodec
	}

	sourceHeight := heightFromResolution(vid.Resolution)
	sourceBitrateKbps := vid.BitrateKbps
	sourceAudioCodec := vid.AudioCodec
	if sourceHeight == 0 {
		probed, err := s.Prober.ProbeFile(requestID, s.Layout.SourcePath(vid.SourcePath))
		if err != nil {
			return video.EncodeParams{}, fmt.Errorf("%w: %s", apiErrs.ErrProbeFailed, err)
		}
		if track, err := probed.GetTrack(video.TrackTypeVideo); err == nil {
			sourceHeight = track.Height
			sourceBitrateKbps = track.Bitrate / 1000
		}
		if track, err := probed.GetTrack(video.TrackTypeAudio); err == nil {
			sourceAudioCodec = track.Codec
		}
	}

	params, err := video.ParamsForRendition(rendition, codec, sourceHeight, sourceBitrateKbps, sourceAudioCodec)
	if err != nil {
		return video.EncodeParams{}, err
	}
	if opts.Bitrate != "" {
		normalized, err := video.ValidateBitrate(codec, resolution, opts.Bitrate)
		if err != nil {
			return video.EncodeParams{}, err
		}
		// an explicit bitrate wins unless the source is smaller than the
		// rendition and the clamp already lowered the target
		if sourceHeight == 0 || sourceHeight >= rendition.Height {
			params.Bitrate = normalized
		}
	}
	params.SegmentSecs = segmentSecs
	return params, nil
}

// heightFromResolution parses the vertical component of a WxH string.
func heightFromResolution(resolution string) int64 {
	parts := strings.Split(resolution, "x")
	if len(parts) != 2 {
		return 0
	}
	height, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return height
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
