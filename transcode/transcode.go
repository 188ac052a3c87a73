// Package transcode invokes the external encoder. One-shot invocations
// (init segment, single segment, preview) run to completion under a
// per-output lockfile; the continuous encoder is compiled here but run and
// supervised by the supervisor package.
package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	apiErrs "github.com/streamplex/transcode-api/errors"
	"github.com/streamplex/transcode-api/locks"
	"github.com/streamplex/transcode-api/log"
	"github.com/streamplex/transcode-api/metrics"
	"github.com/streamplex/transcode-api/video"
)

// A one-shot encode that runs longer than this is killed.
const EncodeTimeout = 300 * time.Second

type Encoder struct {
	locks    *locks.Registry
	inFlight atomic.Int64
}

func NewEncoder(registry *locks.Registry) *Encoder {
	return &Encoder{locks: registry}
}

// InFlight reports the number of one-shot encodes currently running.
func (e *Encoder) InFlight() int64 {
	return e.inFlight.Load()
}

// EncodeSegment produces segmentName inside outputDir with a one-shot
// encoder run. The per-segment lockfile is held for the duration of the
// call; a concurrent encode of the same segment gets ErrBusy.
func (e *Encoder) EncodeSegment(requestID, sourcePath, outputDir, segmentName string, params video.EncodeParams) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, segmentName)
	lockfile := outputPath + "lockfile.lock"
	if !e.locks.TryAcquire(lockfile) {
		return apiErrs.ErrBusy
	}
	defer e.locks.Release(lockfile)

	var (
		stream *ffmpeg.Stream
		kind   string
	)
	if segmentName == InitSegmentName {
		stream = initStream(sourcePath, outputPath, params)
		kind = "init"
	} else {
		index, err := ParseSegmentIndex(segmentName)
		if err != nil {
			return err
		}
		stream = segmentStream(sourcePath, outputPath, index, params)
		kind = "segment"
	}

	start := time.Now()
	var ffmpegErr bytes.Buffer
	cmd := stream.OverWriteOutput().WithErrorOutput(&ffmpegErr).Compile()

	e.inFlight.Add(1)
	metrics.Metrics.EncodesInFlight.Inc()
	err := runWithTimeout(cmd, EncodeTimeout)
	metrics.Metrics.EncodesInFlight.Dec()
	e.inFlight.Add(-1)
	if err != nil {
		log.Log(requestID, "segment encode failed", "segment", segmentName, "err", err)
		return apiErrs.NewEncodeError(exitCode(err), ffmpegErr.String())
	}

	metrics.Metrics.EncodeDurationSec.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	log.Log(requestID, "segment encode finished", "segment", segmentName, "duration", time.Since(start))
	return nil
}

// segmentStream builds the one-shot invocation for a numbered segment. The
// encode window starts at the segment's offset and spans two thirds of the
// advertised duration, with keyframes forced at a third of it, matching the
// boundaries the playlist advertises.
func segmentStream(sourcePath, outputPath string, index int, params video.EncodeParams) *ffmpeg.Stream {
	startSecs := params.SegmentSecs * float64(index)
	return ffmpeg.Input(sourcePath, ffmpeg.KwArgs{
		"ss": formatSeconds(startSecs),
		"to": formatSeconds(startSecs + params.SegmentSecs*2/3),
	}).Output(outputPath, ffmpeg.KwArgs{
		"vf":               params.ScaleFilter,
		"c:v":              params.VideoCodec,
		"preset":           "medium",
		"b:v":              params.Bitrate,
		"c:a":              params.AudioCodec,
		"ar":               "48000",
		"movflags":         "+empty_moov+default_base_moof",
		"force_key_frames": fmt.Sprintf("expr:gte(t,n_forced*%s)", formatSeconds(params.SegmentSecs/3)),
		"reset_timestamps": "0",
		"fflags":           "+genpts",
	})
}

// initStream builds the invocation for the fMP4 initialization payload, a
// zero duration output carrying just the moov box.
func initStream(sourcePath, outputPath string, params video.EncodeParams) *ffmpeg.Stream {
	return ffmpeg.Input(sourcePath).Output(outputPath, ffmpeg.KwArgs{
		"vf":       params.ScaleFilter,
		"c:v":      params.VideoCodec,
		"preset":   "fast",
		"b:v":      params.Bitrate,
		"c:a":      params.AudioCodec,
		"ar":       "48000",
		"t":        "0",
		"f":        "mp4",
		"fflags":   "+genpts",
		"movflags": "+faststart+frag_keyframe+empty_moov+default_base_moof",
	})
}

// ContinuousCommand compiles the streaming encoder that writes init.mp4 and
// successive segments from startIndex onwards into outputDir. The playlist
// it emits is encoder bookkeeping and is never served; segment boundaries
// come from the synthesized playlist's hls_time.
func ContinuousCommand(sourcePath, outputDir string, startIndex int, params video.EncodeParams) *exec.Cmd {
	startSecs := params.SegmentSecs * float64(startIndex)
	stream := ffmpeg.Input(sourcePath, ffmpeg.KwArgs{
		"ss": formatSeconds(startSecs),
	}).Output(filepath.Join(outputDir, "encoder.m3u8"), ffmpeg.KwArgs{
		"vf":                     params.ScaleFilter,
		"c:v":                    params.VideoCodec,
		"preset":                 "medium",
		"b:v":                    params.Bitrate,
		"c:a":                    params.AudioCodec,
		"ar":                     "48000",
		"reset_timestamps":       "0",
		"f":                      "hls",
		"hls_time":               formatSeconds(params.SegmentSecs),
		"hls_playlist_type":      "event",
		"hls_segment_type":       "fmp4",
		"hls_flags":              "independent_segments+omit_endlist",
		"hls_fmp4_init_filename": InitSegmentName,
		"hls_segment_filename":   filepath.Join(outputDir, SegmentFilePattern),
		"start_number":           strconv.Itoa(startIndex),
	})
	return stream.OverWriteOutput().Compile()
}

func runWithTimeout(cmd *exec.Cmd, timeout time.Duration) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		return fmt.Errorf("encode timed out after %s", timeout)
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func formatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'f', -1, 64)
}
