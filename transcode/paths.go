package transcode

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	InitSegmentName = "init.mp4"

	// SegmentFilePattern is the printf pattern shared with the streaming
	// encoder's segment_filename flag.
	SegmentFilePattern = "segment_%03d.mp4"

	PlaylistFileName = "index.m3u8"

	// ContinuousLockName is the descriptor a supervised encoder drops in its
	// output directory while it owns the whole directory.
	ContinuousLockName = "continuous.lock"
)

// Layout resolves every artifact path under the base media directory:
//
//	videos/<source>                         uploaded sources
//	index/video_<id>/index.m3u8             synthesized playlist
//	index/video_<id>/thumbnail.jpg
//	transcode/video_<id>/<res>/             encoder output directories
//	hls_preview/preview_<id>/               preview renditions
type Layout struct {
	MediaDir string
}

func (l Layout) SourcePath(name string) string {
	return filepath.Join(l.MediaDir, name)
}

// TranscodeDir is the parent of every rendition's output directory.
func (l Layout) TranscodeDir(videoID int64) string {
	return filepath.Join(l.MediaDir, "transcode", fmt.Sprintf("video_%d", videoID))
}

func (l Layout) OutputDir(videoID int64, resolution string) string {
	return filepath.Join(l.TranscodeDir(videoID), resolution)
}

func (l Layout) SegmentPath(videoID int64, resolution, segmentName string) string {
	return filepath.Join(l.OutputDir(videoID, resolution), segmentName)
}

func (l Layout) ContinuousLockPath(videoID int64, resolution string) string {
	return filepath.Join(l.OutputDir(videoID, resolution), ContinuousLockName)
}

func (l Layout) PlaylistDir(videoID int64) string {
	return filepath.Join(l.MediaDir, "index", fmt.Sprintf("video_%d", videoID))
}

func (l Layout) PlaylistPath(videoID int64) string {
	return filepath.Join(l.PlaylistDir(videoID), PlaylistFileName)
}

func (l Layout) ThumbnailPath(videoID int64) string {
	return filepath.Join(l.PlaylistDir(videoID), "thumbnail.jpg")
}

func (l Layout) PreviewDir(videoID int64) string {
	return filepath.Join(l.MediaDir, "hls_preview", fmt.Sprintf("preview_%d", videoID))
}

func (l Layout) PreviewPlaylistPath(videoID int64) string {
	return filepath.Join(l.PreviewDir(videoID), PlaylistFileName)
}

func SegmentFileName(index int) string {
	return fmt.Sprintf(SegmentFilePattern, index)
}

// ParseSegmentIndex extracts the ordinal from a segment_NNN.mp4 name.
func ParseSegmentIndex(segmentName string) (int, error) {
	if !strings.HasPrefix(segmentName, "segment_") || !strings.HasSuffix(segmentName, ".mp4") {
		return 0, fmt.Errorf("not a segment name: %s", segmentName)
	}
	index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(segmentName, "segment_"), ".mp4"))
	if err != nil {
		return 0, fmt.Errorf("not a segment name: %s", segmentName)
	}
	if index < 0 {
		return 0, fmt.Errorf("not a segment name: %s", segmentName)
	}
	return index, nil
}
