// Package thumbnails extracts the poster frame for a catalog video.
package thumbnails

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/streamplex/transcode-api/log"
)

const resolution = "854:480"

var newRetryBackoff = func() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 2)
}

// OffsetFor picks the poster frame position for a source of the given
// duration: a tenth of the way in, past intros and fade-ins.
func OffsetFor(durationSecs float64) float64 {
	if durationSecs <= 0 {
		return 0
	}
	return durationSecs / 10
}

// Generate extracts a single frame at offsetSecs from the source into
// outputPath as a JPEG.
func Generate(requestID, sourcePath, outputPath string, offsetSecs float64) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	var ffmpegErr bytes.Buffer
	err := backoff.Retry(func() error {
		ffmpegErr = bytes.Buffer{}
		return ffmpeg.
			Input(sourcePath, ffmpeg.KwArgs{"ss": strconv.FormatFloat(offsetSecs, 'f', 2, 64)}).
			Output(
				outputPath,
				ffmpeg.KwArgs{
					"vframes": "1",
					"q:v":     "2",
					// video filter to resize
					"vf": fmt.Sprintf("scale=%s:force_original_aspect_ratio=decrease", resolution),
				},
			).OverWriteOutput().WithErrorOutput(&ffmpegErr).Run()
	}, newRetryBackoff())
	if err != nil {
		return fmt.Errorf("error running ffmpeg for thumbnail %s [%s]: %w", sourcePath, ffmpegErr.String(), err)
	}

	log.Log(requestID, "generated thumbnail", "source", sourcePath, "output", outputPath)
	return nil
}
