package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
)

// Keyframes extracts the keyframe timestamps of the first video stream in
// presentation order. This needs a frame-level ffprobe pass, which the
// ffprobe wrapper library does not expose, so the tool is invoked directly.
func (p Probe) Keyframes(ctx context.Context, path string) ([]float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-skip_frame", "nokey",
		"-show_frames",
		"-show_entries", "frame=best_effort_timestamp_time",
		"-of", "json",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe keyframe pass failed: %w [%s]", err, stderr.String())
	}
	return parseKeyframes(stdout.Bytes())
}

type probedFrame struct {
	BestEffortTimestampTime string `json:"best_effort_timestamp_time"`
}

type probedFrames struct {
	Frames []probedFrame `json:"frames"`
}

// parseKeyframes anchors the timestamp list at 0.0 and returns it sorted
// with duplicates removed.
func parseKeyframes(raw []byte) ([]float64, error) {
	var data probedFrames
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("error parsing keyframe output: %w", err)
	}

	keyframes := make([]float64, 0, len(data.Frames))
	for _, f := range data.Frames {
		if f.BestEffortTimestampTime == "" {
			continue
		}
		ts, err := strconv.ParseFloat(f.BestEffortTimestampTime, 64)
		if err != nil {
			return nil, fmt.Errorf("error parsing keyframe timestamp %q: %w", f.BestEffortTimestampTime, err)
		}
		keyframes = append(keyframes, ts)
	}

	if len(keyframes) > 0 && keyframes[0] > 0.001 {
		keyframes = append([]float64{0.0}, keyframes...)
	}

	sort.Float64s(keyframes)
	deduped := keyframes[:0]
	var prev float64
	for i, ts := range keyframes {
		if i > 0 && ts == prev {
			continue
		}
		deduped = append(deduped, ts)
		prev = ts
	}
	return deduped, nil
}
