package transcode

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	apiErrs "github.com/streamplex/transcode-api/errors"
	"github.com/streamplex/transcode-api/metrics"
)

// PreviewJob describes the fixed-profile encode of a short excerpt of a
// source, used for hover previews in the catalog.
type PreviewJob struct {
	PreviewID   int64
	SourcePath  string
	OutputDir   string
	StartOffset int
	Duration    int
}

// EncodePreview writes a 480p VOD rendition of the excerpt into the job's
// output directory as index.m3u8 plus preview_NNN.mp4 segments. Audio is
// stripped.
func (e *Encoder) EncodePreview(requestID string, job PreviewJob) error {
	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return fmt.Errorf("error creating preview directory: %w", err)
	}
	lockfile := filepath.Join(job.OutputDir, "lockfile.lock")
	if !e.locks.TryAcquire(lockfile) {
		return apiErrs.ErrBusy
	}
	defer e.locks.Release(lockfile)

	start := time.Now()
	var ffmpegErr bytes.Buffer
	cmd := ffmpeg.Input(job.SourcePath, ffmpeg.KwArgs{
		"ss": strconv.Itoa(job.StartOffset),
	}).Output(filepath.Join(job.OutputDir, PlaylistFileName), ffmpeg.KwArgs{
		"t":                      strconv.Itoa(job.Duration),
		"vf":                     "scale=-2:480",
		"c:v":                    "libx264",
		"preset":                 "medium",
		"b:v":                    "900k",
		"an":                     "",
		"movflags":               "+faststart+frag_keyframe+empty_moov+default_base_moof",
		"f":                      "hls",
		"hls_time":               "5",
		"hls_playlist_type":      "vod",
		"hls_segment_type":       "fmp4",
		"hls_fmp4_init_filename": InitSegmentName,
		"hls_segment_filename":   filepath.Join(job.OutputDir, "preview_%03d.mp4"),
	}).OverWriteOutput().WithErrorOutput(&ffmpegErr).Compile()

	e.inFlight.Add(1)
	metrics.Metrics.EncodesInFlight.Inc()
	err := runWithTimeout(cmd, EncodeTimeout)
	metrics.Metrics.EncodesInFlight.Dec()
	e.inFlight.Add(-1)
	if err != nil {
		return apiErrs.NewEncodeError(exitCode(err), ffmpegErr.String())
	}

	metrics.Metrics.EncodeDurationSec.WithLabelValues("preview").Observe(time.Since(start).Seconds())
	return nil
}
